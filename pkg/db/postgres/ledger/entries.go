package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	ledgermodels "github.com/dexsync/ledgersync/pkg/db/models/ledger"
	"github.com/dexsync/ledgersync/pkg/db/postgres"
)

const entryColumns = `chain, id, protocol_version, type, pool_id, user_address, tx_hash,
	block_number, block_timestamp, log_index, value_usd, payload`

func (db *DB) initEntries(ctx context.Context) error {
	queries := []string{`
		CREATE TABLE IF NOT EXISTS ledger_entries (
			chain TEXT NOT NULL,
			id TEXT NOT NULL,
			protocol_version SMALLINT NOT NULL,
			type TEXT NOT NULL,
			pool_id TEXT NOT NULL,
			user_address TEXT NOT NULL,
			tx_hash TEXT NOT NULL,
			block_number BIGINT NOT NULL,
			block_timestamp BIGINT NOT NULL,
			log_index BIGINT NOT NULL,
			value_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			payload JSONB NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			PRIMARY KEY (chain, id)
		)`,
		`CREATE INDEX IF NOT EXISTS ledger_entries_version_block_idx
			ON ledger_entries (chain, protocol_version, block_number)`,
		`CREATE INDEX IF NOT EXISTS ledger_entries_pool_idx
			ON ledger_entries (chain, pool_id, block_timestamp)`,
		`CREATE INDEX IF NOT EXISTS ledger_entries_zero_value_idx
			ON ledger_entries (chain, block_number) WHERE value_usd = 0`,
		`CREATE INDEX IF NOT EXISTS ledger_entries_user_idx
			ON ledger_entries (chain, lower(user_address))`,
	}
	for _, q := range queries {
		if err := db.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// UpsertMany inserts entries in one batch. Rows already present on (chain, id) are left
// untouched, which makes replaying a page harmless. Returns the number of new rows.
func (db *DB) UpsertMany(ctx context.Context, entries []ledgermodels.LedgerEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO ledger_entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (chain, id) DO NOTHING
	`
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(query,
			e.Chain, e.ID, e.ProtocolVersion, string(e.Type), e.PoolID, e.UserAddress, e.TxHash,
			e.BlockNumber, e.BlockTimestamp, e.LogIndex, e.ValueUSD, e.Payload,
		)
	}

	inserted, err := postgres.ExecuteBatch(ctx, db.GetExecutor(ctx), batch)
	if err != nil {
		return inserted, fmt.Errorf("upsert ledger entries: %w", err)
	}
	return inserted, nil
}

// UpdateValues fills in USD values of rows that are still unvalued. Identity columns are never written.
func (db *DB) UpdateValues(ctx context.Context, entries []ledgermodels.LedgerEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	query := `
		UPDATE ledger_entries
		SET value_usd = $3, payload = $4
		WHERE chain = $1 AND id = $2 AND value_usd = 0
	`
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(query, e.Chain, e.ID, e.ValueUSD, e.Payload)
	}

	updated, err := postgres.ExecuteBatch(ctx, db.GetExecutor(ctx), batch)
	if err != nil {
		return updated, fmt.Errorf("update ledger values: %w", err)
	}
	return updated, nil
}

// FindLatest returns the entry with the highest (block_number, log_index) matching filter, or nil.
func (db *DB) FindLatest(ctx context.Context, filter ledgermodels.EntryFilter) (*ledgermodels.LedgerEntry, error) {
	where, args := buildEntryWhere(filter)
	query := `SELECT ` + entryColumns + ` FROM ledger_entries` + where +
		` ORDER BY block_number DESC, log_index DESC LIMIT 1`

	e, err := scanEntry(db.QueryRow(ctx, query, args...))
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find latest ledger entry: %w", err)
	}
	return &e, nil
}

// FindMany returns entries matching filter in ascending chain order.
func (db *DB) FindMany(ctx context.Context, filter ledgermodels.EntryFilter) ([]ledgermodels.LedgerEntry, error) {
	where, args := buildEntryWhere(filter)
	query := `SELECT ` + entryColumns + ` FROM ledger_entries` + where +
		` ORDER BY block_number ASC, log_index ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.GetExecutor(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find ledger entries: %w", err)
	}
	defer rows.Close()

	out := make([]ledgermodels.LedgerEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(row pgx.Row) (ledgermodels.LedgerEntry, error) {
	var e ledgermodels.LedgerEntry
	var typ string
	err := row.Scan(
		&e.Chain, &e.ID, &e.ProtocolVersion, &typ, &e.PoolID, &e.UserAddress, &e.TxHash,
		&e.BlockNumber, &e.BlockTimestamp, &e.LogIndex, &e.ValueUSD, &e.Payload,
	)
	e.Type = ledgermodels.EntryType(typ)
	return e, err
}

// buildEntryWhere renders the WHERE clause of a filter with positional arguments.
func buildEntryWhere(f ledgermodels.EntryFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Chain != "" {
		add("chain = $%d", f.Chain)
	}
	if f.ProtocolVersion != 0 {
		add("protocol_version = $%d", f.ProtocolVersion)
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		add("type = ANY($%d)", types)
	}
	if f.PoolID != "" {
		add("pool_id = $%d", f.PoolID)
	}
	if f.UserAddress != "" {
		// rows keep upstream casing
		add("lower(user_address) = $%d", strings.ToLower(f.UserAddress))
	}
	if f.FromBlock > 0 {
		add("block_number >= $%d", f.FromBlock)
	}
	if f.ZeroValueOnly {
		conds = append(conds, "value_usd = 0")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
