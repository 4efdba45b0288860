package ledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// TryLock takes a session-level advisory lock on key using a dedicated pooled connection.
// The lock lives as long as that connection is held, so release must run on every path.
func (db *DB) TryLock(ctx context.Context, key string) (func(), bool, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, key).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock %s: %w", key, err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}

	release := func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock(hashtext($1))`, key); err != nil {
			db.Logger.Warn("Failed to release advisory lock", zap.String("key", key), zap.Error(err))
			// Closing the session drops any lock it still holds.
			_ = conn.Conn().Close(unlockCtx)
		}
		conn.Release()
	}
	return release, true, nil
}
