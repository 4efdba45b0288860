package ledger

import (
	"context"
	"fmt"

	ledgermodels "github.com/dexsync/ledgersync/pkg/db/models/ledger"
	"github.com/dexsync/ledgersync/pkg/db/postgres"
)

func (db *DB) initCursors(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS sync_cursors (
			category TEXT NOT NULL,
			chain TEXT NOT NULL,
			value BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			PRIMARY KEY (category, chain)
		)
	`
	return db.Exec(ctx, query)
}

// GetCursor returns the stored watermark or nil when the stream has never been synced.
func (db *DB) GetCursor(ctx context.Context, category ledgermodels.Category, chain string) (*ledgermodels.Cursor, error) {
	query := `
		SELECT category, chain, value, updated_at
		FROM sync_cursors
		WHERE category = $1 AND chain = $2
	`

	var c ledgermodels.Cursor
	var cat string
	err := db.QueryRow(ctx, query, string(category), chain).Scan(&cat, &c.Chain, &c.Value, &c.UpdatedAt)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cursor %s/%s: %w", category, chain, err)
	}
	c.Category = ledgermodels.Category(cat)
	return &c, nil
}

// AdvanceCursor records progress. GREATEST keeps the watermark monotonic even when two
// writers race or a stale page is replayed.
func (db *DB) AdvanceCursor(ctx context.Context, category ledgermodels.Category, chain string, value int64) error {
	query := `
		INSERT INTO sync_cursors (category, chain, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (category, chain) DO UPDATE SET
			value = GREATEST(sync_cursors.value, EXCLUDED.value),
			updated_at = NOW()
	`
	if err := db.Exec(ctx, query, string(category), chain, value); err != nil {
		return fmt.Errorf("advance cursor %s/%s: %w", category, chain, err)
	}
	return nil
}

// SetCursor overwrites the watermark unconditionally.
func (db *DB) SetCursor(ctx context.Context, category ledgermodels.Category, chain string, value int64) error {
	query := `
		INSERT INTO sync_cursors (category, chain, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (category, chain) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = NOW()
	`
	if err := db.Exec(ctx, query, string(category), chain, value); err != nil {
		return fmt.Errorf("set cursor %s/%s: %w", category, chain, err)
	}
	return nil
}

// DeleteCursor forgets a stream's progress; the next run re-syncs from genesis.
func (db *DB) DeleteCursor(ctx context.Context, category ledgermodels.Category, chain string) error {
	return db.Exec(ctx, `DELETE FROM sync_cursors WHERE category = $1 AND chain = $2`, string(category), chain)
}

func (db *DB) ListCursors(ctx context.Context) ([]ledgermodels.Cursor, error) {
	rows, err := db.GetExecutor(ctx).Query(ctx, `
		SELECT category, chain, value, updated_at
		FROM sync_cursors
		ORDER BY chain, category
	`)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer rows.Close()

	out := make([]ledgermodels.Cursor, 0)
	for rows.Next() {
		var c ledgermodels.Cursor
		var cat string
		if err := rows.Scan(&cat, &c.Chain, &c.Value, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		c.Category = ledgermodels.Category(cat)
		out = append(out, c)
	}
	return out, rows.Err()
}
