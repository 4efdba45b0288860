package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.temporal.io/sdk/worker"
	temporalworkflow "go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/dexsync/ledgersync/app/syncer/activity"
	"github.com/dexsync/ledgersync/app/syncer/types"
	"github.com/dexsync/ledgersync/app/syncer/workflow"
	"github.com/dexsync/ledgersync/pkg/cache"
	"github.com/dexsync/ledgersync/pkg/config"
	"github.com/dexsync/ledgersync/pkg/db/clickhouse/prices"
	"github.com/dexsync/ledgersync/pkg/db/models/ledger"
	"github.com/dexsync/ledgersync/pkg/db/postgres"
	ledgerdb "github.com/dexsync/ledgersync/pkg/db/postgres/ledger"
	"github.com/dexsync/ledgersync/pkg/db/transform"
	"github.com/dexsync/ledgersync/pkg/enrich"
	"github.com/dexsync/ledgersync/pkg/logging"
	"github.com/dexsync/ledgersync/pkg/redis"
	"github.com/dexsync/ledgersync/pkg/rpc"
	"github.com/dexsync/ledgersync/pkg/schedule"
	"github.com/dexsync/ledgersync/pkg/snapshot"
	"github.com/dexsync/ledgersync/pkg/subgraph"
	orchestrator "github.com/dexsync/ledgersync/pkg/syncer"
	"github.com/dexsync/ledgersync/pkg/temporal"
	"github.com/dexsync/ledgersync/pkg/utils"
)

const (
	ModeTemporal = "temporal"
	ModeLocal    = "local"
)

// App wires the stores, upstream clients and engines, and drives them either from Temporal
// schedules or from the in-process runner.
type App struct {
	Mode   string
	Logger *zap.Logger
	Server *http.Server

	Networks     *config.Config
	Chains       []string
	LedgerDB     *ledgerdb.DB
	Prices       *prices.Store
	Redis        *redis.Client
	Orchestrator *orchestrator.Orchestrator
	Snapshots    *snapshot.Engine

	// temporal mode
	TemporalClient *temporal.Client
	Worker         worker.Worker

	// local mode
	Runner *schedule.Runner

	reenrichInterval time.Duration
	stopJanitor      context.CancelFunc
}

// Initialize initializes the application.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New()
	if err != nil {
		panic(err)
	}

	networks, err := config.LoadFromEnv()
	if err != nil {
		logger.Fatal("Unable to load network config", zap.Error(err))
	}

	app := &App{
		Mode:             strings.ToLower(utils.Env("SYNC_MODE", ModeTemporal)),
		Logger:           logger,
		Networks:         networks,
		Chains:           networks.Chains(utils.EnvList("CHAINS", nil)),
		reenrichInterval: utils.EnvDuration("REENRICH_INTERVAL", time.Hour),
	}
	if len(app.Chains) == 0 {
		logger.Fatal("No chains configured", zap.String("CHAINS", utils.Env("CHAINS", "")))
	}

	app.LedgerDB, err = ledgerdb.New(ctx, logger, postgres.GetPoolConfigForComponent("syncer"))
	if err != nil {
		logger.Fatal("Unable to initialize ledger database", zap.Error(err))
	}

	app.Prices, err = prices.New(ctx, logger, utils.Env("CLICKHOUSE_DATABASE", "ledgersync"))
	if err != nil {
		logger.Fatal("Unable to initialize price database", zap.Error(err))
	}

	responseCache := app.initCache(ctx)

	subgraphOpts := subgraph.Opts{
		Timeout:         utils.EnvDuration("SUBGRAPH_TIMEOUT", 30*time.Second),
		RPS:             utils.EnvInt("SUBGRAPH_RPS", 10),
		Burst:           utils.EnvInt("SUBGRAPH_BURST", 20),
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
	subgraphs := subgraph.NewFactory(networks, logger, subgraphOpts, responseCache, utils.EnvDuration("SUBGRAPH_CACHE_TTL", 10*time.Minute))

	enricher := enrich.NewEngine(app.Prices, logger, time.Now)
	syncCfg := orchestrator.DefaultConfig()
	syncCfg.ReenrichEnabled = utils.EnvBool("REENRICH_ENABLED", false)

	app.Orchestrator = &orchestrator.Orchestrator{
		Cursors:     app.LedgerDB,
		Ledger:      app.LedgerDB,
		Sources:     orchestrator.SubgraphSources{Factory: subgraphs},
		Transformer: transform.NewTransformer(logger, networks, rpc.NewEthFactory(networks, logger)),
		Enricher:    enricher,
		Locker:      app.LedgerDB,
		Logger:      logger,
		Config:      syncCfg,
	}
	if app.Redis != nil {
		app.Orchestrator.Notifier = app.Redis
	}

	app.Snapshots = &snapshot.Engine{
		Sources:   snapshot.SubgraphSources{Factory: subgraphs},
		Snapshots: app.LedgerDB,
		Cursors:   app.LedgerDB,
		Prices:    enricher,
		Locker:    app.LedgerDB,
		Logger:    logger,
	}

	switch app.Mode {
	case ModeTemporal:
		if err := app.initTemporal(ctx); err != nil {
			logger.Fatal("Unable to initialize temporal worker", zap.Error(err))
		}
	case ModeLocal:
		if err := app.initLocal(); err != nil {
			logger.Fatal("Unable to initialize local scheduler", zap.Error(err))
		}
	default:
		logger.Fatal("Unknown SYNC_MODE", zap.String("mode", app.Mode))
	}

	if err := NewServer(app); err != nil {
		logger.Fatal("Unable to initialize server", zap.Error(err))
	}
	return app
}

// initCache backs the subgraph cache with redis unless REDIS_ENABLED=false.
func (a *App) initCache(ctx context.Context) cache.Cache {
	if !utils.EnvBool("REDIS_ENABLED", true) {
		return a.memoryCache(ctx)
	}
	client, err := redis.NewClient(ctx, a.Logger)
	if err != nil {
		a.Logger.Fatal("Unable to connect to redis", zap.Error(err))
	}
	a.Redis = client
	return cache.NewRedis(client.GetClient(), "ledgersync:subgraph:")
}

func (a *App) memoryCache(ctx context.Context) cache.Cache {
	mem := cache.NewMemory(nil)
	janitorCtx, cancel := context.WithCancel(ctx)
	a.stopJanitor = cancel
	go mem.RunJanitor(janitorCtx, time.Minute)
	return mem
}

func (a *App) activityContext() *activity.Context {
	return &activity.Context{
		Logger:    a.Logger,
		Networks:  a.Networks,
		Syncer:    a.Orchestrator,
		Snapshots: a.Snapshots,
	}
}

func (a *App) initTemporal(ctx context.Context) error {
	tc, err := temporal.NewClient(ctx, a.Logger)
	if err != nil {
		return err
	}
	a.TemporalClient = tc

	wc := &workflow.Context{ActivityContext: a.activityContext(), Config: workflow.DefaultConfig()}
	wkr := worker.New(tc.TClient, tc.Queue, worker.Options{
		MaxConcurrentActivityExecutionSize: utils.EnvInt("MAX_CONCURRENT_JOBS", 8),
		WorkerStopTimeout:                  time.Minute,
	})
	wkr.RegisterWorkflowWithOptions(wc.SyncWorkflow, temporalworkflow.RegisterOptions{Name: types.SyncWorkflowName})
	wkr.RegisterWorkflowWithOptions(wc.SnapshotWorkflow, temporalworkflow.RegisterOptions{Name: types.SnapshotWorkflowName})
	wkr.RegisterWorkflowWithOptions(wc.ReenrichWorkflow, temporalworkflow.RegisterOptions{Name: types.ReenrichWorkflowName})
	wkr.RegisterWorkflowWithOptions(wc.ReloadPoolWorkflow, temporalworkflow.RegisterOptions{Name: types.ReloadPoolWorkflowName})
	wkr.RegisterActivity(wc.ActivityContext.SyncCategory)
	wkr.RegisterActivity(wc.ActivityContext.RollSnapshots)
	wkr.RegisterActivity(wc.ActivityContext.ReenrichZeroValued)
	wkr.RegisterActivity(wc.ActivityContext.ReloadPool)
	a.Worker = wkr

	for _, req := range a.schedules() {
		if err := tc.EnsureSchedule(ctx, a.Logger, req); err != nil {
			return fmt.Errorf("ensure schedule %s: %w", req.ID, err)
		}
	}
	return nil
}

// schedules lists one schedule per enabled stream of every selected chain.
func (a *App) schedules() []temporal.ScheduleRequest {
	var out []temporal.ScheduleRequest
	for _, chain := range a.Chains {
		n, err := a.Networks.Network(chain)
		if err != nil {
			continue
		}
		for _, category := range n.Categories() {
			if category.Kind() == ledger.KindSnapshot {
				version := category.ProtocolVersion()
				out = append(out, temporal.ScheduleRequest{
					ID:       fmt.Sprintf(temporal.SnapshotScheduleID, chain, version),
					Interval: n.SnapshotInterval,
					Workflow: types.SnapshotWorkflowName,
					Args:     []interface{}{types.SnapshotInput{Chain: chain, Version: version}},
				})
				continue
			}
			out = append(out, temporal.ScheduleRequest{
				ID:       fmt.Sprintf(temporal.SyncScheduleID, category, chain),
				Interval: n.SyncInterval,
				Workflow: types.SyncWorkflowName,
				Args:     []interface{}{types.SyncInput{Category: category, Chain: chain}},
			})
		}
		if a.Orchestrator.Config.ReenrichEnabled {
			out = append(out, temporal.ScheduleRequest{
				ID:       "reenrich:" + chain,
				Interval: a.reenrichInterval,
				Workflow: types.ReenrichWorkflowName,
				Args:     []interface{}{types.ReenrichInput{Chain: chain}},
			})
		}
	}
	return out
}

func (a *App) initLocal() error {
	a.Runner = schedule.NewRunner(a.Logger, schedule.Options{
		MaxConcurrency: utils.EnvInt("MAX_CONCURRENT_JOBS", 4),
		JobTimeout:     utils.EnvDuration("JOB_TIMEOUT", 30*time.Minute),
		Benign: []error{
			orchestrator.ErrJobInFlight,
			orchestrator.ErrReenrichDisabled,
			snapshot.ErrJobInFlight,
		},
	})
	for _, req := range a.schedules() {
		fn, err := a.localJob(req)
		if err != nil {
			return err
		}
		if err := a.Runner.Every(req.ID, req.Interval, fn); err != nil {
			return err
		}
	}
	return nil
}

// localJob maps a schedule onto a direct engine call.
func (a *App) localJob(req temporal.ScheduleRequest) (schedule.JobFunc, error) {
	switch in := req.Args[0].(type) {
	case types.SyncInput:
		return func(ctx context.Context) error {
			_, err := a.Orchestrator.Run(ctx, orchestrator.Job{Category: in.Category, Chain: in.Chain})
			return err
		}, nil
	case types.SnapshotInput:
		return func(ctx context.Context) error {
			_, err := a.Snapshots.Run(ctx, in.Chain, in.Version)
			return err
		}, nil
	case types.ReenrichInput:
		return func(ctx context.Context) error {
			_, err := a.Orchestrator.ReenrichZeroValued(ctx, in.Chain, in.Category, in.Limit)
			return err
		}, nil
	}
	return nil, fmt.Errorf("schedule %s: unsupported input %T", req.ID, req.Args[0])
}

// Start starts the worker or runner plus the ops server, and blocks until ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	switch a.Mode {
	case ModeTemporal:
		if err := a.Worker.Start(); err != nil {
			a.Logger.Fatal("Unable to start worker", zap.Error(err))
		}
	case ModeLocal:
		a.Runner.Start()
	}

	go func() {
		a.Logger.Info("Starting server", zap.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	a.Stop()
}

// Stop drains jobs, then closes connections.
func (a *App) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Server.Shutdown(shutdownCtx)

	if a.Worker != nil {
		a.Worker.Stop()
	}
	if a.Runner != nil {
		a.Runner.Stop()
	}
	if a.TemporalClient != nil {
		a.TemporalClient.Close()
	}
	if a.stopJanitor != nil {
		a.stopJanitor()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Prices != nil {
		_ = a.Prices.Close()
	}
	if a.LedgerDB != nil {
		a.LedgerDB.Close()
	}
	a.Logger.Info("Sync service stopped")
	_ = a.Logger.Sync()
}
