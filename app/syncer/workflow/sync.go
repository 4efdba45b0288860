package workflow

import (
	"go.temporal.io/sdk/workflow"

	"github.com/dexsync/ledgersync/app/syncer/types"
)

// SyncWorkflow runs one incremental sync of a (category, chain) stream. Schedules start it with
// overlap policy SKIP, so at most one run per stream is in flight.
func (wc *Context) SyncWorkflow(ctx workflow.Context, in types.SyncInput) (types.SyncOutput, error) {
	logger := workflow.GetLogger(ctx)
	ctx = wc.withActivityOptions(ctx, orDefault(wc.Config.SyncTimeout, DefaultConfig().SyncTimeout))

	var out types.SyncOutput
	if err := workflow.ExecuteActivity(ctx, wc.ActivityContext.SyncCategory, in).Get(ctx, &out); err != nil {
		logger.Error("Sync failed", "chain", in.Chain, "category", in.Category, "error", err)
		return out, err
	}

	logger.Info("Sync finished",
		"chain", in.Chain,
		"category", in.Category,
		"skipped", out.Skipped,
		"inserted", out.Result.Inserted,
		"cursor", out.Result.Cursor)
	return out, nil
}

// ReenrichWorkflow reprices zero-valued ledger rows.
func (wc *Context) ReenrichWorkflow(ctx workflow.Context, in types.ReenrichInput) (types.ReenrichOutput, error) {
	ctx = wc.withActivityOptions(ctx, orDefault(wc.Config.SyncTimeout, DefaultConfig().SyncTimeout))

	var out types.ReenrichOutput
	err := workflow.ExecuteActivity(ctx, wc.ActivityContext.ReenrichZeroValued, in).Get(ctx, &out)
	return out, err
}
