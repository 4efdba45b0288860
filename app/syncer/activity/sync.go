package activity

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dexsync/ledgersync/app/syncer/types"
	"github.com/dexsync/ledgersync/pkg/db/models/ledger"
	"github.com/dexsync/ledgersync/pkg/syncer"
)

// SyncCategory runs one incremental sync of (category, chain).
func (c *Context) SyncCategory(ctx context.Context, in types.SyncInput) (types.SyncOutput, error) {
	if err := c.checkCategory(in.Chain, in.Category); err != nil {
		return types.SyncOutput{}, classify(err)
	}

	res, err := c.Syncer.Run(ctx, syncer.Job{Category: in.Category, Chain: in.Chain})
	if errors.Is(err, syncer.ErrJobInFlight) {
		c.Logger.Info("Sync already running, skipping",
			zap.String("chain", in.Chain),
			zap.String("category", string(in.Category)))
		return types.SyncOutput{Skipped: true}, nil
	}
	if err != nil {
		return types.SyncOutput{Result: res}, classify(err)
	}
	return types.SyncOutput{Result: res}, nil
}

// ReenrichZeroValued recomputes USD values of rows stored without one. An empty category
// covers every event category of the chain.
func (c *Context) ReenrichZeroValued(ctx context.Context, in types.ReenrichInput) (types.ReenrichOutput, error) {
	var err error
	if in.Category == "" {
		err = c.checkChain(in.Chain)
	} else {
		err = c.checkCategory(in.Chain, in.Category)
	}
	if err != nil {
		return types.ReenrichOutput{}, classify(err)
	}

	n, err := c.Syncer.ReenrichZeroValued(ctx, in.Chain, in.Category, in.Limit)
	switch {
	case errors.Is(err, syncer.ErrReenrichDisabled), errors.Is(err, syncer.ErrJobInFlight):
		return types.ReenrichOutput{Skipped: true}, nil
	case err != nil:
		return types.ReenrichOutput{}, classify(err)
	}
	return types.ReenrichOutput{Updated: n}, nil
}

func (c *Context) checkCategory(chain string, category ledger.Category) error {
	if !category.Valid() {
		return fmt.Errorf("%w: unknown category %q", errUnsupported, category)
	}
	if c.Networks == nil {
		return nil
	}
	n, err := c.Networks.Network(chain)
	if err != nil {
		return err
	}
	if !n.Supports(category) {
		return fmt.Errorf("%w: %s on %s", errUnsupported, category, chain)
	}
	return nil
}

func (c *Context) checkChain(chain string) error {
	if c.Networks == nil {
		return nil
	}
	_, err := c.Networks.Network(chain)
	return err
}
