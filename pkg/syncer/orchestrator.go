// Package syncer drives incremental, resumable sync of upstream event streams into the ledger.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dexsync/ledgersync/pkg/db"
	"github.com/dexsync/ledgersync/pkg/db/models/ledger"
	"github.com/dexsync/ledgersync/pkg/metrics"
	"github.com/dexsync/ledgersync/pkg/redis"
	"github.com/dexsync/ledgersync/pkg/subgraph"
)

var (
	// ErrPaginationDepth aborts a run whose offset exceeded the hard skip limit.
	ErrPaginationDepth = errors.New("pagination depth limit exceeded")
	// ErrJobInFlight means another run of the same stream holds the lock. Callers treat it as a skip.
	ErrJobInFlight = errors.New("sync job already running")
)

type Transformer interface {
	TransformBatch(ctx context.Context, chain string, category ledger.Category, raws []subgraph.RawEvent) ([]ledger.LedgerEntry, int, error)
}

type Enricher interface {
	Enrich(ctx context.Context, entries []ledger.LedgerEntry, chain string) []ledger.LedgerEntry
}

type Notifier interface {
	NotifySynced(ctx context.Context, ev redis.SyncEvent)
}

// Config bounds pagination. SkipCap is the offset after which the lower bound is moved to
// the page watermark; HardSkipLimit is the offset at which a run gives up.
type Config struct {
	PageSize        int
	SkipCap         int
	HardSkipLimit   int
	ReenrichEnabled bool
}

func DefaultConfig() Config {
	return Config{
		PageSize:      subgraph.MaxPageSize,
		SkipCap:       5000,
		HardSkipLimit: 100000,
	}
}

// Job identifies one stream.
type Job struct {
	Category ledger.Category
	Chain    string
}

func (j Job) LockKey() string { return fmt.Sprintf("sync:%s:%s", j.Category, j.Chain) }

// Result summarises a run.
type Result struct {
	Pages       int   `json:"pages"`
	Fetched     int   `json:"fetched"`
	Transformed int   `json:"transformed"`
	Skipped     int   `json:"skipped"`
	Inserted    int64 `json:"inserted"`
	StartCursor int64 `json:"startCursor"`
	Cursor      int64 `json:"cursor"`
	// Head is the upstream's latest indexed block when the source reports it.
	Head int64 `json:"head,omitempty"`
}

// Orchestrator runs the read cursor, fetch, transform, enrich, upsert, advance loop.
// Locker and Notifier are optional.
type Orchestrator struct {
	Cursors     db.CursorStore
	Ledger      db.LedgerStore
	Sources     Sources
	Transformer Transformer
	Enricher    Enricher
	Locker      db.Locker
	Notifier    Notifier
	Logger      *zap.Logger
	Config      Config
}

// Run syncs one stream until upstream is exhausted. Pages are processed strictly in order
// and the cursor only moves after the page it covers is persisted, so an aborted run
// resumes from the last persisted page.
func (o *Orchestrator) Run(ctx context.Context, job Job) (res Result, err error) {
	if job.Category.Kind() != ledger.KindJoinExit && job.Category.Kind() != ledger.KindSwap {
		return res, fmt.Errorf("category %q is not an event stream", job.Category)
	}

	start := time.Now()
	defer func() {
		metrics.JobDuration.WithLabelValues(job.Chain, string(job.Category), outcome(err)).Observe(time.Since(start).Seconds())
	}()

	if o.Locker != nil {
		release, ok, lockErr := o.Locker.TryLock(ctx, job.LockKey())
		if lockErr != nil {
			return res, fmt.Errorf("lock %s: %w", job.LockKey(), lockErr)
		}
		if !ok {
			return res, ErrJobInFlight
		}
		defer release()
	}

	src, err := o.Sources.Source(job.Chain, job.Category)
	if err != nil {
		return res, fmt.Errorf("resolve source: %w", err)
	}

	cur, err := o.Cursors.GetCursor(ctx, job.Category, job.Chain)
	if err != nil {
		return res, fmt.Errorf("read cursor: %w", err)
	}
	var stored int64
	if cur != nil {
		stored = cur.Value
	}
	res.StartCursor, res.Cursor = stored, stored

	cfg := o.config()
	logger := o.Logger.With(zap.String("chain", job.Chain), zap.String("category", string(job.Category)))
	lower, skip := stored, 0

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if skip > cfg.HardSkipLimit {
			return res, fmt.Errorf("%w: skip %d at lower bound %d", ErrPaginationDepth, skip, lower)
		}

		raws, err := src.Fetch(ctx, lower, cfg.PageSize, skip)
		if err != nil {
			return res, fmt.Errorf("fetch page (lower=%d skip=%d): %w", lower, skip, err)
		}
		res.Pages++
		res.Fetched += len(raws)
		metrics.PagesFetched.WithLabelValues(job.Chain, string(job.Category)).Inc()
		if len(raws) == 0 {
			break
		}

		maxBlock := pageMaxBlock(raws)
		entries, skipped, err := o.Transformer.TransformBatch(ctx, job.Chain, job.Category, raws)
		if err != nil {
			return res, fmt.Errorf("transform page (lower=%d skip=%d): %w", lower, skip, err)
		}
		res.Skipped += skipped
		res.Transformed += len(entries)

		if len(entries) > 0 {
			entries = o.Enricher.Enrich(ctx, entries, job.Chain)
			inserted, err := o.Ledger.UpsertMany(ctx, entries)
			if err != nil {
				return res, fmt.Errorf("upsert page (lower=%d skip=%d): %w", lower, skip, err)
			}
			res.Inserted += inserted
			metrics.EntriesInserted.WithLabelValues(job.Chain, string(job.Category)).Add(float64(inserted))
		}

		if maxBlock > stored {
			if err := o.Cursors.AdvanceCursor(ctx, job.Category, job.Chain, maxBlock); err != nil {
				return res, fmt.Errorf("advance cursor to %d: %w", maxBlock, err)
			}
			stored = maxBlock
			res.Cursor = stored
			metrics.CursorValue.WithLabelValues(job.Chain, string(job.Category)).Set(float64(stored))
		}

		if len(raws) < cfg.PageSize {
			break
		}

		skip += cfg.PageSize
		if skip > cfg.SkipCap && maxBlock > lower {
			logger.Debug("Moving lower bound to page watermark",
				zap.Int64("from", lower),
				zap.Int64("to", maxBlock),
				zap.Int("skip", skip))
			lower, skip = maxBlock, 0
		}
	}

	if hs, ok := src.(HeadSource); ok {
		if head, err := hs.Head(ctx); err != nil {
			logger.Debug("Subgraph head unavailable", zap.Error(err))
		} else {
			res.Head = head
			metrics.BlockLag.WithLabelValues(job.Chain, string(job.Category)).Set(float64(max(head-res.Cursor, 0)))
		}
	}

	logger.Info("Sync run complete",
		zap.Int("pages", res.Pages),
		zap.Int("fetched", res.Fetched),
		zap.Int("skipped", res.Skipped),
		zap.Int64("inserted", res.Inserted),
		zap.Int64("cursor", res.Cursor),
		zap.Int64("head", res.Head))

	if res.Inserted > 0 && o.Notifier != nil {
		o.Notifier.NotifySynced(ctx, redis.SyncEvent{
			Chain:    job.Chain,
			Category: string(job.Category),
			Cursor:   res.Cursor,
			Inserted: res.Inserted,
			Pages:    res.Pages,
		})
	}
	return res, nil
}

func (o *Orchestrator) config() Config {
	cfg := o.Config
	def := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.SkipCap <= 0 {
		cfg.SkipCap = def.SkipCap
	}
	if cfg.HardSkipLimit <= 0 {
		cfg.HardSkipLimit = def.HardSkipLimit
	}
	return cfg
}

// pageMaxBlock ignores records without a parseable block; the transformer skips those.
func pageMaxBlock(raws []subgraph.RawEvent) int64 {
	var m int64
	for _, r := range raws {
		if b, err := r.Block(); err == nil && b > m {
			m = b
		}
	}
	return m
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
