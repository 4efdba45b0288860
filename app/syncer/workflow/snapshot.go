package workflow

import (
	"go.temporal.io/sdk/workflow"

	"github.com/dexsync/ledgersync/app/syncer/types"
)

// SnapshotWorkflow advances the daily pool snapshots of (chain, version) by at most two days.
func (wc *Context) SnapshotWorkflow(ctx workflow.Context, in types.SnapshotInput) (types.SnapshotOutput, error) {
	logger := workflow.GetLogger(ctx)
	ctx = wc.withActivityOptions(ctx, orDefault(wc.Config.SnapshotTimeout, DefaultConfig().SnapshotTimeout))

	var out types.SnapshotOutput
	if err := workflow.ExecuteActivity(ctx, wc.ActivityContext.RollSnapshots, in).Get(ctx, &out); err != nil {
		logger.Error("Snapshot roll-forward failed", "chain", in.Chain, "version", in.Version, "error", err)
		return out, err
	}

	logger.Info("Snapshots rolled forward",
		"chain", in.Chain,
		"version", in.Version,
		"days", out.Result.Days,
		"snapshots", out.Result.Snapshots)
	return out, nil
}

// ReloadPoolWorkflow rebuilds the snapshot series of one pool.
func (wc *Context) ReloadPoolWorkflow(ctx workflow.Context, in types.ReloadPoolInput) (types.ReloadPoolOutput, error) {
	ctx = wc.withActivityOptions(ctx, orDefault(wc.Config.ReloadTimeout, DefaultConfig().ReloadTimeout))

	var out types.ReloadPoolOutput
	err := workflow.ExecuteActivity(ctx, wc.ActivityContext.ReloadPool, in).Get(ctx, &out)
	return out, err
}
