// Package snapshot rolls daily pool snapshots forward from upstream cumulative totals.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/dexsync/ledgersync/pkg/db"
	"github.com/dexsync/ledgersync/pkg/db/models/ledger"
	"github.com/dexsync/ledgersync/pkg/metrics"
	"github.com/dexsync/ledgersync/pkg/subgraph"
	"github.com/dexsync/ledgersync/pkg/utils"
)

// ErrJobInFlight means another run for the same chain and version holds the lock.
var ErrJobInFlight = errors.New("snapshot job already running")

// Prices serves the daily price book of a day.
type Prices interface {
	PricesForDay(ctx context.Context, ts int64, chain string) (map[string]float64, error)
}

// Engine persists one snapshot per pool per day. Locker is optional; Now defaults to time.Now.
type Engine struct {
	Sources   Sources
	Snapshots db.SnapshotStore
	Cursors   db.CursorStore
	Prices    Prices
	Locker    db.Locker
	Logger    *zap.Logger
	Now       func() time.Time
}

// Result summarises a run.
type Result struct {
	Days      []int64 `json:"days"`
	Snapshots int     `json:"snapshots"`
	Carried   int     `json:"carried"`
	Cursor    int64   `json:"cursor"`
}

// Run advances the snapshot series of (chain, version). Without a cursor it bootstraps at
// the earliest upstream day. More than a day behind, it processes exactly one more day.
// Otherwise it settles yesterday and extends today.
func (e *Engine) Run(ctx context.Context, chain string, version int) (res Result, err error) {
	category, err := ledger.SnapshotCategory(version)
	if err != nil {
		return res, err
	}

	start := time.Now()
	defer func() {
		metrics.JobDuration.WithLabelValues(chain, string(category), outcome(err)).Observe(time.Since(start).Seconds())
	}()

	release, err := e.lock(ctx, fmt.Sprintf("snapshot:%s:%d", chain, version))
	if err != nil {
		return res, err
	}
	defer release()

	src, err := e.Sources.Source(chain, version)
	if err != nil {
		return res, fmt.Errorf("resolve snapshot source: %w", err)
	}
	cur, err := e.Cursors.GetCursor(ctx, category, chain)
	if err != nil {
		return res, fmt.Errorf("read snapshot cursor: %w", err)
	}

	today := utils.MidnightUTC(e.now().Unix())
	yesterday := today - utils.SecondsPerDay

	var days []int64
	switch {
	case cur == nil:
		first, ok, err := src.FirstSnapshotTimestamp(ctx, "")
		if err != nil {
			return res, fmt.Errorf("first upstream snapshot: %w", err)
		}
		if !ok {
			e.Logger.Info("No upstream snapshots yet", zap.String("chain", chain), zap.Int("version", version))
			return res, nil
		}
		days = []int64{utils.MidnightUTC(first)}
	case cur.Value < yesterday:
		days = []int64{utils.MidnightUTC(cur.Value) + utils.SecondsPerDay}
	default:
		days = []int64{yesterday, today}
	}

	for _, day := range days {
		written, carried, err := e.processDay(ctx, src, chain, version, day)
		if err != nil {
			return res, err
		}
		res.Days = append(res.Days, day)
		res.Snapshots += written
		res.Carried += carried

		if err := e.Cursors.AdvanceCursor(ctx, category, chain, day); err != nil {
			return res, fmt.Errorf("advance snapshot cursor to %d: %w", day, err)
		}
		res.Cursor = max(res.Cursor, day)
		metrics.CursorValue.WithLabelValues(chain, string(category)).Set(float64(day))
	}

	e.Logger.Info("Snapshot run complete",
		zap.String("chain", chain),
		zap.Int("version", version),
		zap.Int64s("days", res.Days),
		zap.Int("snapshots", res.Snapshots),
		zap.Int("carried", res.Carried))
	return res, nil
}

// ProcessDay computes and persists the snapshots of every pool of (chain, version) for day.
func (e *Engine) ProcessDay(ctx context.Context, chain string, version int, day int64) (int, error) {
	src, err := e.Sources.Source(chain, version)
	if err != nil {
		return 0, fmt.Errorf("resolve snapshot source: %w", err)
	}
	written, _, err := e.processDay(ctx, src, chain, version, utils.MidnightUTC(day))
	return written, err
}

func (e *Engine) processDay(ctx context.Context, src Source, chain string, version int, day int64) (int, int, error) {
	rows, err := src.DaySnapshots(ctx, day, "")
	if err != nil {
		return 0, 0, fmt.Errorf("upstream snapshots for %d: %w", day, err)
	}
	upstream := latestPerPool(rows)
	book := e.book(ctx, chain, day)

	out := make([]ledger.PoolSnapshot, 0, len(upstream))
	for _, poolID := range sortedKeys(upstream) {
		prev, err := e.previous(ctx, poolID, chain, day)
		if err != nil {
			return 0, 0, err
		}
		out = append(out, roll(chain, version, day, upstream[poolID], prev, book))
	}

	history, err := e.Snapshots.PoolsWithHistory(ctx, chain, version, day)
	if err != nil {
		return 0, 0, fmt.Errorf("pools with history before %d: %w", day, err)
	}
	carried := 0
	for _, poolID := range history {
		if _, ok := upstream[poolID]; ok {
			continue
		}
		prev, err := e.previous(ctx, poolID, chain, day)
		if err != nil {
			return 0, 0, err
		}
		if prev == nil {
			continue
		}
		out = append(out, carry(*prev, day, book))
		carried++
	}

	if err := e.Snapshots.UpsertSnapshots(ctx, out); err != nil {
		return 0, 0, fmt.Errorf("persist snapshots for %d: %w", day, err)
	}
	return len(out), carried, nil
}

// previous is the snapshot of the day before, else the latest one before day, else nil.
func (e *Engine) previous(ctx context.Context, poolID, chain string, day int64) (*ledger.PoolSnapshot, error) {
	prev, err := e.Snapshots.GetSnapshot(ctx, poolID, chain, day-utils.SecondsPerDay)
	if err != nil {
		return nil, fmt.Errorf("snapshot of %s before %d: %w", poolID, day, err)
	}
	if prev != nil {
		return prev, nil
	}
	prev, err = e.Snapshots.LatestBefore(ctx, poolID, chain, day)
	if err != nil {
		return nil, fmt.Errorf("latest snapshot of %s before %d: %w", poolID, day, err)
	}
	return prev, nil
}

// book returns the day's prices. Missing prices value liquidity at zero until a later
// run settles the day again.
func (e *Engine) book(ctx context.Context, chain string, day int64) map[string]float64 {
	if e.Prices == nil {
		return map[string]float64{}
	}
	book, err := e.Prices.PricesForDay(ctx, day, chain)
	if err != nil {
		metrics.PriceBucketFailures.WithLabelValues(chain).Inc()
		e.Logger.Warn("Daily prices unavailable", zap.String("chain", chain), zap.Int64("day", day), zap.Error(err))
		return map[string]float64{}
	}
	return book
}

func (e *Engine) lock(ctx context.Context, key string) (func(), error) {
	if e.Locker == nil {
		return func() {}, nil
	}
	release, ok, err := e.Locker.TryLock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrJobInFlight
	}
	return release, nil
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func latestPerPool(rows []subgraph.RawPoolSnapshot) map[string]subgraph.RawPoolSnapshot {
	out := make(map[string]subgraph.RawPoolSnapshot, len(rows))
	for _, r := range rows {
		if r.PoolID == "" {
			continue
		}
		if cur, ok := out[r.PoolID]; !ok || r.Timestamp >= cur.Timestamp {
			out[r.PoolID] = r
		}
	}
	return out
}

func sortedKeys(m map[string]subgraph.RawPoolSnapshot) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrJobInFlight):
		return "skipped"
	default:
		return "error"
	}
}
