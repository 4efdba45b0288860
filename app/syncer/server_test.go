package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dexsync/ledgersync/pkg/db/models/ledger"
)

type stubCursors []ledger.Cursor

func (s stubCursors) ListCursors(context.Context) ([]ledger.Cursor, error) { return s, nil }

func newTestController(t *testing.T) (*Controller, *[]string) {
	t.Helper()
	var triggered []string
	return &Controller{
		Logger:  zaptest.NewLogger(t),
		Cursors: stubCursors{{Category: ledger.CategorySwapsV2, Chain: "MAINNET", Value: 19000000}},
		Checks: map[string]func(context.Context) error{
			"postgres": func(context.Context) error { return nil },
		},
		TriggerSync: func(_ context.Context, category ledger.Category, chain string) (bool, error) {
			if chain == "UNKNOWN" {
				return false, errNotScheduled
			}
			triggered = append(triggered, jobID(category, chain))
			return len(triggered) == 1, nil
		},
		ReloadPool: func(context.Context, string, int, string) error { return nil },
		ResetCursor: func(_ context.Context, category ledger.Category, chain string, value *int64) error {
			switch chain {
			case "UNKNOWN":
				return errNotScheduled
			case "BUSY":
				return errJobRunning
			}
			if value == nil {
				triggered = append(triggered, "delete:"+jobID(category, chain))
			} else {
				triggered = append(triggered, fmt.Sprintf("set:%s=%d", jobID(category, chain), *value))
			}
			return nil
		},
	}, &triggered
}

func serve(c *Controller, method, path string) *httptest.ResponseRecorder {
	return serveBody(c, method, path, "")
}

func serveBody(c *Controller, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	c.NewRouter().ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestHealthAndReady(t *testing.T) {
	c, _ := newTestController(t)
	assert.Equal(t, http.StatusOK, serve(c, "GET", "/healthz").Code)
	assert.Equal(t, http.StatusOK, serve(c, "GET", "/readyz").Code)

	c.Checks["clickhouse"] = func(context.Context) error { return errors.New("connection refused") }
	rec := serve(c, "GET", "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestCursorsEndpoint(t *testing.T) {
	c, _ := newTestController(t)
	rec := serve(c, "GET", "/cursors")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []ledger.Cursor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, int64(19000000), got[0].Value)
}

func TestTriggerEndpoint(t *testing.T) {
	c, triggered := newTestController(t)

	rec := serve(c, "POST", "/jobs/SWAPS_V2/MAINNET")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"started"`)

	rec = serve(c, "POST", "/jobs/SWAPS_V2/MAINNET")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "already_running")

	rec = serve(c, "POST", "/jobs/SNAPSHOTS_V3/MAINNET")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"sync:SWAPS_V2:MAINNET", "sync:SWAPS_V2:MAINNET", "snapshot:MAINNET:3"}, *triggered)

	assert.Equal(t, http.StatusBadRequest, serve(c, "POST", "/jobs/NOPE/MAINNET").Code)
	assert.Equal(t, http.StatusNotFound, serve(c, "POST", "/jobs/SWAPS_V2/UNKNOWN").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(c, "GET", "/jobs/SWAPS_V2/MAINNET").Code)
}

func TestReloadEndpoint(t *testing.T) {
	c, _ := newTestController(t)
	assert.Equal(t, http.StatusAccepted, serve(c, "POST", "/pools/MAINNET/2/0xabc/reload").Code)
	assert.Equal(t, http.StatusBadRequest, serve(c, "POST", "/pools/MAINNET/1/0xabc/reload").Code)
	assert.Equal(t, http.StatusBadRequest, serve(c, "POST", "/pools/MAINNET/x/0xabc/reload").Code)
}

func TestCursorResetEndpoints(t *testing.T) {
	c, calls := newTestController(t)

	rec := serveBody(c, "PUT", "/cursors/SWAPS_V2/MAINNET", `{"value": 18000000}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"category":"SWAPS_V2","chain":"MAINNET","status":"set","value":18000000}`, rec.Body.String())

	rec = serve(c, "DELETE", "/cursors/SNAPSHOTS_V2/MAINNET")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"set:sync:SWAPS_V2:MAINNET=18000000", "delete:snapshot:MAINNET:2"}, *calls)

	assert.Equal(t, http.StatusBadRequest, serveBody(c, "PUT", "/cursors/SWAPS_V2/MAINNET", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, serveBody(c, "PUT", "/cursors/SWAPS_V2/MAINNET", `{"value": -1}`).Code)
	assert.Equal(t, http.StatusBadRequest, serve(c, "DELETE", "/cursors/NOPE/MAINNET").Code)
	assert.Equal(t, http.StatusNotFound, serve(c, "DELETE", "/cursors/SWAPS_V2/UNKNOWN").Code)
	assert.Equal(t, http.StatusConflict, serve(c, "DELETE", "/cursors/SWAPS_V2/BUSY").Code)
	assert.Len(t, *calls, 2)
}
