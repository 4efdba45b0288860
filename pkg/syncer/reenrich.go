package syncer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dexsync/ledgersync/pkg/db/models/ledger"
)

// ErrReenrichDisabled is returned by ReenrichZeroValued unless Config.ReenrichEnabled is set.
var ErrReenrichDisabled = errors.New("re-enrichment disabled")

const defaultReenrichLimit = 5000

// ReenrichZeroValued re-prices up to limit ledger rows of chain still valued at zero and
// writes back the USD fields of the rows that now price above zero. An empty category
// selects every event category. It returns the number of rows updated.
//
// Each call resumes at the block watermark kept under ledger.ReenrichCursor(category), so
// rows that never price do not starve later ones. A window shorter than limit ends the
// sweep and the watermark wraps to zero.
func (o *Orchestrator) ReenrichZeroValued(ctx context.Context, chain string, category ledger.Category, limit int) (int, error) {
	if !o.Config.ReenrichEnabled {
		return 0, ErrReenrichDisabled
	}
	if limit <= 0 {
		limit = defaultReenrichLimit
	}

	if o.Locker != nil {
		key := fmt.Sprintf("reenrich:%s", chain)
		release, ok, err := o.Locker.TryLock(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("lock %s: %w", key, err)
		}
		if !ok {
			return 0, ErrJobInFlight
		}
		defer release()
	}

	mark := ledger.ReenrichCursor(category)
	cur, err := o.Cursors.GetCursor(ctx, mark, chain)
	if err != nil {
		return 0, fmt.Errorf("read re-enrich watermark: %w", err)
	}
	var from int64
	if cur != nil {
		from = cur.Value
	}

	filter := ledger.EntryFilter{Chain: chain, ZeroValueOnly: true, FromBlock: from, Limit: limit}
	if category != "" {
		filter.ProtocolVersion = category.ProtocolVersion()
		switch category.Kind() {
		case ledger.KindJoinExit:
			filter.Types = []ledger.EntryType{ledger.EntryJoin, ledger.EntryExit}
		case ledger.KindSwap:
			filter.Types = []ledger.EntryType{ledger.EntrySwap}
		default:
			return 0, fmt.Errorf("category %q is not an event stream", category)
		}
	}

	rows, err := o.Ledger.FindMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("load zero-valued entries: %w", err)
	}

	var next int64
	if len(rows) == limit {
		next = rows[len(rows)-1].BlockNumber
		if next <= from {
			// the whole window sits in one block; step over it
			o.Logger.Warn("Re-enrich window filled by a single block",
				zap.String("chain", chain),
				zap.Int64("block", from),
				zap.Int("limit", limit))
			next = from + 1
		}
	}
	// stored ahead of UpdateValues; a failing window waits for the next sweep
	if err := o.Cursors.SetCursor(ctx, mark, chain, next); err != nil {
		return 0, fmt.Errorf("store re-enrich watermark: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	priced := o.Enricher.Enrich(ctx, rows, chain)
	updates := priced[:0]
	for _, e := range priced {
		if e.ValueUSD > 0 {
			updates = append(updates, e)
		}
	}
	if len(updates) == 0 {
		return 0, nil
	}

	n, err := o.Ledger.UpdateValues(ctx, updates)
	if err != nil {
		return 0, fmt.Errorf("update values: %w", err)
	}
	o.Logger.Info("Re-enriched zero-valued entries",
		zap.String("chain", chain),
		zap.String("category", string(category)),
		zap.Int("candidates", len(rows)),
		zap.Int64("from", from),
		zap.Int64("next", next),
		zap.Int64("updated", n))
	return int(n), nil
}
