package rpc

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/dexsync/ledgersync/pkg/config"
)

type ethFactory struct {
	cfg     *config.Config
	logger  *zap.Logger
	clients *xsync.Map[string, *Client]
}

// NewEthFactory dials one ethclient per chain on first use.
func NewEthFactory(cfg *config.Config, logger *zap.Logger) Factory {
	return &ethFactory{cfg: cfg, logger: logger, clients: xsync.NewMap[string, *Client]()}
}

func (f *ethFactory) ForChain(ctx context.Context, chain string) (LogClient, error) {
	if c, ok := f.clients.Load(chain); ok {
		return c, nil
	}
	network, err := f.cfg.Network(chain)
	if err != nil {
		return nil, err
	}
	if network.RPCURL == "" {
		return nil, fmt.Errorf("%w: chain %s has no rpcUrl", config.ErrMissingNetwork, chain)
	}

	eth, err := ethclient.DialContext(ctx, network.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s rpc: %w", chain, err)
	}
	c, loaded := f.clients.LoadOrStore(chain, NewClient(eth, f.logger.With(zap.String("chain", chain))))
	if loaded {
		eth.Close()
	}
	return c, nil
}
