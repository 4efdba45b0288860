package subgraph

import (
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/dexsync/ledgersync/pkg/cache"
	"github.com/dexsync/ledgersync/pkg/config"
)

// Factory hands out one Client per (chain, data source), built from the network table.
type Factory struct {
	cfg      *config.Config
	logger   *zap.Logger
	opts     Opts
	cache    cache.Cache
	cacheTTL time.Duration
	clients  *xsync.Map[string, *Client]
}

func NewFactory(cfg *config.Config, logger *zap.Logger, opts Opts, c cache.Cache, ttl time.Duration) *Factory {
	return &Factory{
		cfg:      cfg,
		logger:   logger,
		opts:     opts,
		cache:    c,
		cacheTTL: ttl,
		clients:  xsync.NewMap[string, *Client](),
	}
}

// For returns the client of source on chain. A chain or source missing from the table
// wraps config.ErrMissingNetwork.
func (f *Factory) For(chain, source string) (*Client, error) {
	key := chain + "/" + source
	if c, ok := f.clients.Load(key); ok {
		return c, nil
	}

	network, err := f.cfg.Network(chain)
	if err != nil {
		return nil, err
	}
	endpoints, err := network.Endpoints(source)
	if err != nil {
		return nil, err
	}

	opts := f.opts
	opts.Endpoints = endpoints
	var options []Option
	if f.cache != nil {
		options = append(options, WithCache(f.cache, f.cacheTTL))
	}
	logger := f.logger.With(zap.String("chain", chain), zap.String("source", source))

	c, _ := f.clients.LoadOrStore(key, NewClient(logger, opts, options...))
	return c, nil
}

// Events returns the client serving event pages of a protocol version.
func (f *Factory) Events(chain string, version int) (*Client, error) {
	c, err := f.For(chain, config.EventSource(version))
	if err != nil {
		return nil, fmt.Errorf("event source for v%d: %w", version, err)
	}
	return c, nil
}

// Snapshots returns the client serving pool snapshots of a protocol version, with its schema.
func (f *Factory) Snapshots(chain string, version int) (*Client, SnapshotSchema, error) {
	c, err := f.For(chain, config.SnapshotSource(version))
	if err != nil {
		return nil, 0, fmt.Errorf("snapshot source for v%d: %w", version, err)
	}
	if version == 3 {
		return c, SchemaV3, nil
	}
	return c, SchemaV2, nil
}
