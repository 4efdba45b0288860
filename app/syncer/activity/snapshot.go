package activity

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dexsync/ledgersync/app/syncer/types"
	"github.com/dexsync/ledgersync/pkg/db/models/ledger"
	"github.com/dexsync/ledgersync/pkg/snapshot"
)

// RollSnapshots advances the daily snapshot series of (chain, version).
func (c *Context) RollSnapshots(ctx context.Context, in types.SnapshotInput) (types.SnapshotOutput, error) {
	if err := c.checkSnapshots(in.Chain, in.Version); err != nil {
		return types.SnapshotOutput{}, classify(err)
	}

	res, err := c.Snapshots.Run(ctx, in.Chain, in.Version)
	if errors.Is(err, snapshot.ErrJobInFlight) {
		c.Logger.Info("Snapshot job already running, skipping",
			zap.String("chain", in.Chain),
			zap.Int("version", in.Version))
		return types.SnapshotOutput{Skipped: true}, nil
	}
	if err != nil {
		return types.SnapshotOutput{}, classify(err)
	}
	return types.SnapshotOutput{Result: res}, nil
}

// ReloadPool rebuilds every snapshot of one pool.
func (c *Context) ReloadPool(ctx context.Context, in types.ReloadPoolInput) (types.ReloadPoolOutput, error) {
	if err := c.checkSnapshots(in.Chain, in.Version); err != nil {
		return types.ReloadPoolOutput{}, classify(err)
	}
	if in.PoolID == "" {
		return types.ReloadPoolOutput{}, classify(fmt.Errorf("%w: pool id is required", errUnsupported))
	}

	n, err := c.Snapshots.ReloadPool(ctx, in.Chain, in.Version, in.PoolID)
	if errors.Is(err, snapshot.ErrJobInFlight) {
		// the roll-forward job holds the lock; let the retry policy try again later
		return types.ReloadPoolOutput{}, err
	}
	if err != nil {
		return types.ReloadPoolOutput{}, classify(err)
	}
	return types.ReloadPoolOutput{Snapshots: n}, nil
}

func (c *Context) checkSnapshots(chain string, version int) error {
	category, err := ledger.SnapshotCategory(version)
	if err != nil {
		return fmt.Errorf("%w: %v", errUnsupported, err)
	}
	return c.checkCategory(chain, category)
}
