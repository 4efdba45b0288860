package ledger

import (
	"context"
	"fmt"

	"github.com/dexsync/ledgersync/pkg/db/postgres"
	"go.uber.org/zap"
)

// DB holds the relational state of the sync engine: cursors, the event ledger and pool snapshots.
type DB struct {
	postgres.Client
}

// New connects and makes sure every table exists.
func New(ctx context.Context, logger *zap.Logger, poolConfig *postgres.PoolConfig) (*DB, error) {
	client, err := postgres.New(ctx, logger.With(zap.String("component", poolConfig.Component)), poolConfig)
	if err != nil {
		return nil, err
	}

	db := &DB{Client: client}
	if err := db.InitializeDB(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return db, nil
}

// InitializeDB creates the tables and indexes used by the stores.
func (db *DB) InitializeDB(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"sync_cursors", db.initCursors},
		{"ledger_entries", db.initEntries},
		{"pool_snapshots", db.initSnapshots},
	}
	for _, step := range steps {
		db.Logger.Debug("Initialize table", zap.String("table", step.name))
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("init %s: %w", step.name, err)
		}
	}
	return nil
}
