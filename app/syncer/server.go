package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/dexsync/ledgersync/app/syncer/types"
	"github.com/dexsync/ledgersync/pkg/db/models/ledger"
	"github.com/dexsync/ledgersync/pkg/metrics"
	"github.com/dexsync/ledgersync/pkg/schedule"
	"github.com/dexsync/ledgersync/pkg/temporal"
	"github.com/dexsync/ledgersync/pkg/utils"
)

var (
	errNotScheduled = errors.New("stream not scheduled on this instance")
	errJobRunning   = errors.New("stream has a run in flight")
)

type CursorLister interface {
	ListCursors(ctx context.Context) ([]ledger.Cursor, error)
}

// Controller serves the ops endpoints.
type Controller struct {
	Logger  *zap.Logger
	Cursors CursorLister
	// Checks are run by /readyz; any error marks the service unready.
	Checks map[string]func(context.Context) error
	// TriggerSync starts a run of one stream out of schedule. It reports false when a run was
	// already in flight.
	TriggerSync func(ctx context.Context, category ledger.Category, chain string) (bool, error)
	ReloadPool  func(ctx context.Context, chain string, version int, poolID string) error
	// ResetCursor overwrites a stream's cursor, or deletes it when value is nil so the next
	// run starts from genesis.
	ResetCursor func(ctx context.Context, category ledger.Category, chain string, value *int64) error
}

// NewRouter returns the ops router.
func (c *Controller) NewRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", c.HandleHealth).Methods("GET")
	r.HandleFunc("/readyz", c.HandleReady).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	r.HandleFunc("/cursors", c.HandleCursors).Methods("GET")
	r.HandleFunc("/cursors/{category}/{chain}", c.HandleSetCursor).Methods("PUT")
	r.HandleFunc("/cursors/{category}/{chain}", c.HandleDeleteCursor).Methods("DELETE")
	r.HandleFunc("/jobs/{category}/{chain}", c.HandleTrigger).Methods("POST")
	r.HandleFunc("/pools/{chain}/{version}/{pool}/reload", c.HandleReload).Methods("POST")

	return r
}

func (c *Controller) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (c *Controller) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range c.Checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "errored", "errors": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleCursors lists every stored cursor.
// GET /cursors
func (c *Controller) HandleCursors(w http.ResponseWriter, r *http.Request) {
	cursors, err := c.Cursors.ListCursors(r.Context())
	if err != nil {
		c.Logger.Error("List cursors failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, cursors)
}

// HandleSetCursor rewinds or forwards a stream's cursor.
// PUT /cursors/{category}/{chain} {"value": 18000000}
func (c *Controller) HandleSetCursor(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value *int64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Value == nil || *body.Value < 0 {
		writeError(w, http.StatusBadRequest, "body must be {\"value\": <non-negative integer>}")
		return
	}
	c.resetCursor(w, r, body.Value)
}

// HandleDeleteCursor forgets a stream's progress; the next run re-syncs from genesis.
// DELETE /cursors/{category}/{chain}
func (c *Controller) HandleDeleteCursor(w http.ResponseWriter, r *http.Request) {
	c.resetCursor(w, r, nil)
}

func (c *Controller) resetCursor(w http.ResponseWriter, r *http.Request, value *int64) {
	vars := mux.Vars(r)
	category, err := ledger.ParseCategory(vars["category"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	chain := vars["chain"]

	err = c.ResetCursor(r.Context(), category, chain, value)
	switch {
	case errors.Is(err, errNotScheduled):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, errJobRunning):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		c.Logger.Error("Cursor reset failed", zap.String("category", string(category)), zap.String("chain", chain), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cursor reset failed")
		return
	}

	out := map[string]any{"category": category, "chain": chain, "status": "deleted"}
	if value != nil {
		out["status"], out["value"] = "set", *value
	}
	c.Logger.Info("Cursor reset", zap.String("category", string(category)), zap.String("chain", chain), zap.Any("value", value))
	writeJSON(w, http.StatusOK, out)
}

// HandleTrigger starts a sync or snapshot run.
// POST /jobs/{category}/{chain}
func (c *Controller) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	category, err := ledger.ParseCategory(vars["category"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	chain := vars["chain"]

	started, err := c.TriggerSync(r.Context(), category, chain)
	switch {
	case errors.Is(err, errNotScheduled), errors.Is(err, schedule.ErrUnknownJob):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		c.Logger.Error("Trigger failed", zap.String("category", string(category)), zap.String("chain", chain), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "trigger failed")
		return
	}

	status := "started"
	if !started {
		status = "already_running"
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": status, "category": string(category), "chain": chain})
}

// HandleReload rebuilds the snapshot series of one pool in the background.
// POST /pools/{chain}/{version}/{pool}/reload
func (c *Controller) HandleReload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	version, err := strconv.Atoi(vars["version"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid version")
		return
	}
	if _, err := ledger.SnapshotCategory(version); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := c.ReloadPool(r.Context(), vars["chain"], version, vars["pool"]); err != nil {
		c.Logger.Error("Reload failed to start", zap.String("pool", vars["pool"]), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "reload failed to start")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "pool": vars["pool"]})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// NewServer builds the ops server for app.
func NewServer(app *App) error {
	ctler := &Controller{
		Logger:      app.Logger,
		Cursors:     app.LedgerDB,
		Checks:      app.readinessChecks(),
		TriggerSync: app.triggerSync,
		ReloadPool:  app.reloadPool,
		ResetCursor: app.resetCursor,
	}

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3002")
	app.Server = &http.Server{Addr: addr, Handler: ctler.NewRouter(), ReadHeaderTimeout: 10 * time.Second}
	return nil
}

func (a *App) readinessChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"postgres":   a.LedgerDB.Health,
		"clickhouse": a.Prices.Health,
	}
	if a.Redis != nil {
		checks["redis"] = a.Redis.Health
	}
	if a.TemporalClient != nil {
		checks["temporal"] = func(ctx context.Context) error {
			_, err := a.TemporalClient.Health(ctx)
			return err
		}
	}
	return checks
}

// jobID names the schedule (and lock) of a stream.
func jobID(category ledger.Category, chain string) string {
	if category.Kind() == ledger.KindSnapshot {
		return fmt.Sprintf(temporal.SnapshotScheduleID, chain, category.ProtocolVersion())
	}
	return fmt.Sprintf(temporal.SyncScheduleID, category, chain)
}

func (a *App) triggerSync(ctx context.Context, category ledger.Category, chain string) (bool, error) {
	n, err := a.Networks.Network(chain)
	if err != nil || !n.Supports(category) {
		return false, fmt.Errorf("%w: %s on %s", errNotScheduled, category, chain)
	}
	chain = n.Chain

	if a.Runner != nil {
		return a.Runner.Trigger(jobID(category, chain))
	}

	var (
		workflowName = types.SyncWorkflowName
		arg          interface{}
	)
	if category.Kind() == ledger.KindSnapshot {
		workflowName = types.SnapshotWorkflowName
		arg = types.SnapshotInput{Chain: chain, Version: category.ProtocolVersion()}
	} else {
		arg = types.SyncInput{Category: category, Chain: chain}
	}
	_, err = a.TemporalClient.TClient.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       jobID(category, chain) + ":manual",
		TaskQueue:                a.TemporalClient.Queue,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}, workflowName, arg)
	if err != nil {
		return false, err
	}
	return true, nil
}

// resetCursor takes the stream's lock so the write cannot interleave with a run.
func (a *App) resetCursor(ctx context.Context, category ledger.Category, chain string, value *int64) error {
	n, err := a.Networks.Network(chain)
	if err != nil || !n.Supports(category) {
		return fmt.Errorf("%w: %s on %s", errNotScheduled, category, chain)
	}
	chain = n.Chain

	release, ok, err := a.LedgerDB.TryLock(ctx, jobID(category, chain))
	if err != nil {
		return err
	}
	if !ok {
		return errJobRunning
	}
	defer release()

	if value == nil {
		return a.LedgerDB.DeleteCursor(ctx, category, chain)
	}
	return a.LedgerDB.SetCursor(ctx, category, chain, *value)
}

func (a *App) reloadPool(ctx context.Context, chain string, version int, poolID string) error {
	in := types.ReloadPoolInput{Chain: chain, Version: version, PoolID: poolID}
	id := fmt.Sprintf(temporal.ReloadWorkflowID, chain, version, poolID)

	if a.Runner != nil {
		_, err := a.Runner.Once(id, func(ctx context.Context) error {
			_, err := a.Snapshots.ReloadPool(ctx, in.Chain, in.Version, in.PoolID)
			return err
		})
		return err
	}

	_, err := a.TemporalClient.TClient.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       id,
		TaskQueue:                a.TemporalClient.Queue,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}, types.ReloadPoolWorkflowName, in)
	return err
}
