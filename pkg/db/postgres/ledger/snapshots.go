package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	ledgermodels "github.com/dexsync/ledgersync/pkg/db/models/ledger"
	"github.com/dexsync/ledgersync/pkg/db/postgres"
)

const snapshotColumns = `id, chain, pool_id, protocol_version, timestamp, total_shares, total_shares_num,
	swaps_count, holders_count, tokens, amounts, total_volumes, total_fees, total_surpluses,
	total_liquidity, share_price, volume_24h, fees_24h, surplus_24h,
	total_swap_volume, total_swap_fee, total_surplus`

func (db *DB) initSnapshots(ctx context.Context) error {
	queries := []string{`
		CREATE TABLE IF NOT EXISTS pool_snapshots (
			id TEXT NOT NULL,
			chain TEXT NOT NULL,
			pool_id TEXT NOT NULL,
			protocol_version SMALLINT NOT NULL,
			timestamp BIGINT NOT NULL,
			total_shares TEXT NOT NULL DEFAULT '0',
			total_shares_num DOUBLE PRECISION NOT NULL DEFAULT 0,
			swaps_count BIGINT NOT NULL DEFAULT 0,
			holders_count BIGINT NOT NULL DEFAULT 0,
			tokens TEXT[] NOT NULL DEFAULT '{}',
			amounts TEXT[] NOT NULL DEFAULT '{}',
			total_volumes TEXT[] NOT NULL DEFAULT '{}',
			total_fees TEXT[] NOT NULL DEFAULT '{}',
			total_surpluses TEXT[] NOT NULL DEFAULT '{}',
			total_liquidity DOUBLE PRECISION NOT NULL DEFAULT 0,
			share_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			volume_24h DOUBLE PRECISION NOT NULL DEFAULT 0,
			fees_24h DOUBLE PRECISION NOT NULL DEFAULT 0,
			surplus_24h DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_swap_volume DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_swap_fee DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_surplus DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			PRIMARY KEY (pool_id, chain, timestamp)
		)`,
		`CREATE INDEX IF NOT EXISTS pool_snapshots_chain_day_idx
			ON pool_snapshots (chain, protocol_version, timestamp)`,
		`CREATE TABLE IF NOT EXISTS farm_snapshots (
			pool_id TEXT NOT NULL,
			chain TEXT NOT NULL,
			farm TEXT NOT NULL,
			timestamp BIGINT NOT NULL,
			staked_shares TEXT NOT NULL DEFAULT '0',
			staked_value_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (pool_id, chain, farm, timestamp)
		)`,
	}
	for _, q := range queries {
		if err := db.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// GetSnapshot returns the snapshot of a pool for a day, or nil.
func (db *DB) GetSnapshot(ctx context.Context, poolID, chain string, day int64) (*ledgermodels.PoolSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM pool_snapshots
		WHERE pool_id = $1 AND chain = $2 AND timestamp = $3`
	return db.getSnapshot(ctx, query, poolID, chain, day)
}

// LatestBefore returns the most recent snapshot strictly before day, or nil.
func (db *DB) LatestBefore(ctx context.Context, poolID, chain string, day int64) (*ledgermodels.PoolSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM pool_snapshots
		WHERE pool_id = $1 AND chain = $2 AND timestamp < $3
		ORDER BY timestamp DESC LIMIT 1`
	return db.getSnapshot(ctx, query, poolID, chain, day)
}

func (db *DB) getSnapshot(ctx context.Context, query string, args ...any) (*ledgermodels.PoolSnapshot, error) {
	s, err := scanSnapshot(db.QueryRow(ctx, query, args...))
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get pool snapshot: %w", err)
	}
	return &s, nil
}

// PoolsWithHistory lists pools that have at least one snapshot before the given day.
func (db *DB) PoolsWithHistory(ctx context.Context, chain string, version int, before int64) ([]string, error) {
	rows, err := db.GetExecutor(ctx).Query(ctx, `
		SELECT DISTINCT pool_id FROM pool_snapshots
		WHERE chain = $1 AND protocol_version = $2 AND timestamp < $3
		ORDER BY pool_id
	`, chain, version, before)
	if err != nil {
		return nil, fmt.Errorf("list pools with history: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpsertSnapshots writes snapshots keyed on (pool_id, chain, timestamp). Re-running a day
// replaces the row, so a late upstream correction settles on the next run.
func (db *DB) UpsertSnapshots(ctx context.Context, snapshots []ledgermodels.PoolSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	query := `
		INSERT INTO pool_snapshots (` + snapshotColumns + `, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, NOW())
		ON CONFLICT (pool_id, chain, timestamp) DO UPDATE SET
			total_shares = EXCLUDED.total_shares,
			total_shares_num = EXCLUDED.total_shares_num,
			swaps_count = EXCLUDED.swaps_count,
			holders_count = EXCLUDED.holders_count,
			tokens = EXCLUDED.tokens,
			amounts = EXCLUDED.amounts,
			total_volumes = EXCLUDED.total_volumes,
			total_fees = EXCLUDED.total_fees,
			total_surpluses = EXCLUDED.total_surpluses,
			total_liquidity = EXCLUDED.total_liquidity,
			share_price = EXCLUDED.share_price,
			volume_24h = EXCLUDED.volume_24h,
			fees_24h = EXCLUDED.fees_24h,
			surplus_24h = EXCLUDED.surplus_24h,
			total_swap_volume = EXCLUDED.total_swap_volume,
			total_swap_fee = EXCLUDED.total_swap_fee,
			total_surplus = EXCLUDED.total_surplus,
			updated_at = NOW()
	`
	batch := &pgx.Batch{}
	for _, s := range snapshots {
		batch.Queue(query,
			s.ID, s.Chain, s.PoolID, s.ProtocolVersion, s.Timestamp, s.TotalShares, s.TotalSharesNum,
			s.SwapsCount, s.HoldersCount, nonNil(s.Tokens), nonNil(s.Amounts), nonNil(s.TotalVolumes),
			nonNil(s.TotalFees), nonNil(s.TotalSurpluses),
			s.TotalLiquidity, s.SharePrice, s.Volume24h, s.Fees24h, s.Surplus24h,
			s.TotalSwapVolume, s.TotalSwapFee, s.TotalSurplus,
		)
	}

	if _, err := postgres.ExecuteBatch(ctx, db.GetExecutor(ctx), batch); err != nil {
		return fmt.Errorf("upsert pool snapshots: %w", err)
	}
	return nil
}

// replaceBatchSize bounds the rows queued per pgx batch inside ReplacePoolSnapshots.
const replaceBatchSize = 100

// ReplacePoolSnapshots swaps the whole series of a pool in one transaction: its farm
// snapshots and pool snapshots are deleted, then snapshots are written. Readers see either
// the old series or the new one.
func (db *DB) ReplacePoolSnapshots(ctx context.Context, poolID, chain string, snapshots []ledgermodels.PoolSnapshot) error {
	return db.BeginFunc(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM farm_snapshots WHERE pool_id = $1 AND chain = $2`, poolID, chain); err != nil {
			return fmt.Errorf("delete farm snapshots: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM pool_snapshots WHERE pool_id = $1 AND chain = $2`, poolID, chain); err != nil {
			return fmt.Errorf("delete pool snapshots: %w", err)
		}
		for start := 0; start < len(snapshots); start += replaceBatchSize {
			end := min(start+replaceBatchSize, len(snapshots))
			// ctx carries tx, so the upsert joins the transaction
			if err := db.UpsertSnapshots(ctx, snapshots[start:end]); err != nil {
				return err
			}
		}
		return nil
	})
}

func scanSnapshot(row pgx.Row) (ledgermodels.PoolSnapshot, error) {
	var s ledgermodels.PoolSnapshot
	err := row.Scan(
		&s.ID, &s.Chain, &s.PoolID, &s.ProtocolVersion, &s.Timestamp, &s.TotalShares, &s.TotalSharesNum,
		&s.SwapsCount, &s.HoldersCount, &s.Tokens, &s.Amounts, &s.TotalVolumes, &s.TotalFees, &s.TotalSurpluses,
		&s.TotalLiquidity, &s.SharePrice, &s.Volume24h, &s.Fees24h, &s.Surplus24h,
		&s.TotalSwapVolume, &s.TotalSwapFee, &s.TotalSurplus,
	)
	return s, err
}

// nonNil keeps NOT NULL array columns from receiving NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
