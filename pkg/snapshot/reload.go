package snapshot

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dexsync/ledgersync/pkg/db/models/ledger"
	"github.com/dexsync/ledgersync/pkg/utils"
)

// ReloadPool rebuilds the series of poolID from the pool's first upstream day through
// today and swaps it in for the stored one (farm snapshots included). Nothing is replaced
// when the rebuild fails. It returns the days written.
func (e *Engine) ReloadPool(ctx context.Context, chain string, version int, poolID string) (int, error) {
	poolID = strings.ToLower(poolID)
	release, err := e.lock(ctx, fmt.Sprintf("snapshot:%s:%d", chain, version))
	if err != nil {
		return 0, err
	}
	defer release()

	src, err := e.Sources.Source(chain, version)
	if err != nil {
		return 0, fmt.Errorf("resolve snapshot source: %w", err)
	}

	first, ok, err := src.FirstSnapshotTimestamp(ctx, poolID)
	if err != nil {
		return 0, fmt.Errorf("first snapshot of %s: %w", poolID, err)
	}
	var series []ledger.PoolSnapshot
	if ok {
		series, err = e.rebuild(ctx, src, chain, version, poolID, utils.MidnightUTC(first))
		if err != nil {
			return 0, err
		}
	} else {
		e.Logger.Warn("Pool has no upstream snapshots", zap.String("chain", chain), zap.String("pool", poolID))
	}

	if err := e.Snapshots.ReplacePoolSnapshots(ctx, poolID, chain, series); err != nil {
		return 0, fmt.Errorf("replace snapshots of %s: %w", poolID, err)
	}

	e.Logger.Info("Reloaded pool snapshots",
		zap.String("chain", chain),
		zap.String("pool", poolID),
		zap.Int("days", len(series)))
	return len(series), nil
}

// rebuild rolls the series of one pool forward in memory from day first through today.
func (e *Engine) rebuild(ctx context.Context, src Source, chain string, version int, poolID string, first int64) ([]ledger.PoolSnapshot, error) {
	today := utils.MidnightUTC(e.now().Unix())
	var (
		prev   *ledger.PoolSnapshot
		series []ledger.PoolSnapshot
	)
	for day := first; day <= today; day += utils.SecondsPerDay {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := src.DaySnapshots(ctx, day, poolID)
		if err != nil {
			return nil, fmt.Errorf("upstream snapshots of %s for %d: %w", poolID, day, err)
		}
		book := e.book(ctx, chain, day)

		var s ledger.PoolSnapshot
		if raw, ok := latestPerPool(rows)[poolID]; ok {
			s = roll(chain, version, day, raw, prev, book)
		} else if prev != nil {
			s = carry(*prev, day, book)
		} else {
			continue
		}
		series = append(series, s)
		prev = &s
	}
	return series, nil
}
