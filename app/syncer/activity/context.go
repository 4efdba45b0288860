// Package activity exposes the sync engines as Temporal activities.
package activity

import (
	"context"
	"errors"

	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/dexsync/ledgersync/pkg/config"
	"github.com/dexsync/ledgersync/pkg/db/models/ledger"
	"github.com/dexsync/ledgersync/pkg/snapshot"
	"github.com/dexsync/ledgersync/pkg/syncer"
)

// Syncer is implemented by *syncer.Orchestrator.
type Syncer interface {
	Run(ctx context.Context, job syncer.Job) (syncer.Result, error)
	ReenrichZeroValued(ctx context.Context, chain string, category ledger.Category, limit int) (int, error)
}

// Snapshotter is implemented by *snapshot.Engine.
type Snapshotter interface {
	Run(ctx context.Context, chain string, version int) (snapshot.Result, error)
	ReloadPool(ctx context.Context, chain string, version int, poolID string) (int, error)
}

// Context carries the dependencies shared by every activity.
type Context struct {
	Logger    *zap.Logger
	Networks  *config.Config
	Syncer    Syncer
	Snapshots Snapshotter
}

const errTypeConfig = "ConfigError"

// classify turns configuration failures into non-retryable errors. Anything else is left for
// the retry policy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, config.ErrMissingNetwork) || errors.Is(err, errUnsupported) {
		return temporal.NewNonRetryableApplicationError(err.Error(), errTypeConfig, err)
	}
	return err
}

var errUnsupported = errors.New("category not enabled on chain")
