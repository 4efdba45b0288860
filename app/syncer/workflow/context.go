// Package workflow orchestrates the sync activities as Temporal workflows.
package workflow

import (
	"time"

	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/dexsync/ledgersync/app/syncer/activity"
)

// Config holds activity timeouts and retry limits.
type Config struct {
	SyncTimeout     time.Duration
	SnapshotTimeout time.Duration
	ReloadTimeout   time.Duration
	MaxAttempts     int32
}

func DefaultConfig() Config {
	return Config{
		SyncTimeout:     10 * time.Minute,
		SnapshotTimeout: 15 * time.Minute,
		ReloadTimeout:   2 * time.Hour,
		MaxAttempts:     3,
	}
}

// Context holds the workflow context.
type Context struct {
	ActivityContext *activity.Context
	Config          Config
}

// withActivityOptions applies the shared retry policy. A failed run that exhausts its attempts
// is left for the next scheduled tick.
func (wc *Context) withActivityOptions(ctx workflow.Context, timeout time.Duration) workflow.Context {
	attempts := wc.Config.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &sdktemporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    attempts,
		},
	})
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
