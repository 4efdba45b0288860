package db

import (
	"context"

	"github.com/dexsync/ledgersync/pkg/db/models/ledger"
)

// CursorStore persists one watermark per (category, chain).
type CursorStore interface {
	// GetCursor returns nil, nil when the stream has never been synced.
	GetCursor(ctx context.Context, category ledger.Category, chain string) (*ledger.Cursor, error)
	// AdvanceCursor upserts the cursor; the stored value never decreases.
	AdvanceCursor(ctx context.Context, category ledger.Category, chain string, value int64) error
	// SetCursor overwrites the cursor, including backwards. Reserved for reload/reset operations.
	SetCursor(ctx context.Context, category ledger.Category, chain string, value int64) error
	DeleteCursor(ctx context.Context, category ledger.Category, chain string) error
	ListCursors(ctx context.Context) ([]ledger.Cursor, error)
}

// LedgerStore is the insert-only event ledger.
type LedgerStore interface {
	// UpsertMany inserts entries, skipping rows whose (chain, id) already exists.
	// It returns the number of rows actually inserted.
	UpsertMany(ctx context.Context, entries []ledger.LedgerEntry) (int64, error)
	FindLatest(ctx context.Context, filter ledger.EntryFilter) (*ledger.LedgerEntry, error)
	FindMany(ctx context.Context, filter ledger.EntryFilter) ([]ledger.LedgerEntry, error)
	// UpdateValues rewrites only the USD fields of existing rows.
	UpdateValues(ctx context.Context, entries []ledger.LedgerEntry) (int64, error)
}

// SnapshotStore persists daily pool snapshots keyed on (pool, chain, day).
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, poolID, chain string, day int64) (*ledger.PoolSnapshot, error)
	// LatestBefore returns the most recent snapshot strictly before day, or nil.
	LatestBefore(ctx context.Context, poolID, chain string, day int64) (*ledger.PoolSnapshot, error)
	// PoolsWithHistory lists pools of a protocol version with at least one snapshot before day.
	PoolsWithHistory(ctx context.Context, chain string, version int, before int64) ([]string, error)
	UpsertSnapshots(ctx context.Context, snapshots []ledger.PoolSnapshot) error
	// ReplacePoolSnapshots atomically deletes a pool's snapshots (and their farm dependents)
	// and writes snapshots in their place.
	ReplacePoolSnapshots(ctx context.Context, poolID, chain string, snapshots []ledger.PoolSnapshot) error
}

// TokenPriceQuote is one row of a price bucket.
type TokenPriceQuote struct {
	TokenAddress string
	Price        float64
}

// PriceStore serves historical token prices at exact bucket boundaries.
type PriceStore interface {
	GetPricesAtBucket(ctx context.Context, timestamp int64, chain string) ([]TokenPriceQuote, error)
}

// Locker provides cross-process mutual exclusion for sync jobs.
type Locker interface {
	// TryLock returns ok=false when another holder owns key. release must be called when ok.
	TryLock(ctx context.Context, key string) (release func(), ok bool, err error)
}
