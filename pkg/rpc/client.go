package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/dexsync/ledgersync/pkg/retry"
)

var (
	// ErrLogNotFound means the receipt has no log at the requested index.
	ErrLogNotFound = errors.New("log not found in receipt")
	// ErrUnsupportedLog means the log is not a vault balance change.
	ErrUnsupportedLog = errors.New("unsupported log")
)

// IsRecordError reports whether err describes the requested log itself (missing receipt,
// missing or undecodable log) rather than a failure to reach the node.
func IsRecordError(err error) bool {
	return errors.Is(err, ErrLogNotFound) || errors.Is(err, ErrUnsupportedLog) || errors.Is(err, ethereum.NotFound)
}

// BalanceChange is a vault liquidity event decoded from chain. Deltas are raw token
// units in pool token order; exits are reported as positive amounts.
type BalanceChange struct {
	PoolID   string
	Provider string
	Join     bool
	Tokens   []string
	Deltas   []*big.Int
}

// Backend is the subset of ethclient.Client used here.
type Backend interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client decodes vault events through an Ethereum JSON-RPC backend.
type Client struct {
	backend Backend
	logger  *zap.Logger
	retry   retry.Config
}

func NewClient(backend Backend, logger *zap.Logger) *Client {
	return &Client{backend: backend, logger: logger, retry: retry.UpstreamConfig()}
}

func (c *Client) GetLogs(ctx context.Context, address common.Address, eventSig common.Hash, fromBlock, toBlock uint64) ([]types.Log, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{address},
		Topics:    [][]common.Hash{{eventSig}},
	}
	var logs []types.Log
	err := retry.WithBackoff(ctx, c.retry, c.logger, "rpc_get_logs", func() error {
		var err error
		logs, err = c.backend.FilterLogs(ctx, q)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get logs %s [%d,%d]: %w", address.Hex(), fromBlock, toBlock, err)
	}
	return logs, nil
}

// DecodeLog unpacks both the data and the indexed topics of log into a map keyed by argument name.
func (c *Client) DecodeLog(parsed abi.ABI, log types.Log) (map[string]any, error) {
	return DecodeLog(parsed, log)
}

func DecodeLog(parsed abi.ABI, log types.Log) (map[string]any, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("%w: anonymous log", ErrUnsupportedLog)
	}
	ev, err := parsed.EventByID(log.Topics[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedLog, err)
	}

	out := map[string]any{}
	if len(log.Data) > 0 {
		if err := parsed.UnpackIntoMap(out, ev.Name, log.Data); err != nil {
			return nil, fmt.Errorf("%w: unpack %s: %v", ErrUnsupportedLog, ev.Name, err)
		}
	}
	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(out, indexed, log.Topics[1:]); err != nil {
		return nil, fmt.Errorf("%w: parse %s topics: %v", ErrUnsupportedLog, ev.Name, err)
	}
	out["event"] = ev.Name
	return out, nil
}

// BalanceChange locates the log at logIndex in the receipt of txHash and decodes it as a
// v2 PoolBalanceChanged or a v3 LiquidityAdded/LiquidityRemoved.
func (c *Client) BalanceChange(ctx context.Context, txHash string, logIndex int64) (*BalanceChange, error) {
	var receipt *types.Receipt
	err := retry.WithBackoff(ctx, c.retry, c.logger, "rpc_receipt", func() error {
		var err error
		receipt, err = c.backend.TransactionReceipt(ctx, common.HexToHash(txHash))
		if errors.Is(err, ethereum.NotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("receipt %s: %w", txHash, err)
	}

	for _, l := range receipt.Logs {
		if l == nil || int64(l.Index) != logIndex {
			continue
		}
		return c.decodeBalanceChange(ctx, *l)
	}
	return nil, fmt.Errorf("%w: tx %s index %d", ErrLogNotFound, txHash, logIndex)
}

func (c *Client) decodeBalanceChange(ctx context.Context, l types.Log) (*BalanceChange, error) {
	if len(l.Topics) == 0 {
		return nil, ErrUnsupportedLog
	}
	if _, err := VaultV2.EventByID(l.Topics[0]); err == nil {
		return decodeV2(l)
	}
	args, err := DecodeLog(VaultV3, l)
	if err != nil {
		return nil, err
	}

	pool, _ := args["pool"].(common.Address)
	provider, _ := args["liquidityProvider"].(common.Address)
	bc := &BalanceChange{
		PoolID:   strings.ToLower(pool.Hex()),
		Provider: strings.ToLower(provider.Hex()),
	}
	switch args["event"] {
	case "LiquidityAdded":
		bc.Join = true
		bc.Deltas, _ = args["amountsAddedRaw"].([]*big.Int)
	case "LiquidityRemoved":
		bc.Deltas, _ = args["amountsRemovedRaw"].([]*big.Int)
	}

	tokens, err := c.poolTokensV3(ctx, l.Address, pool, l.BlockNumber)
	if err != nil {
		return nil, err
	}
	bc.Tokens = tokens
	return bc, nil
}

func decodeV2(l types.Log) (*BalanceChange, error) {
	args, err := DecodeLog(VaultV2, l)
	if err != nil {
		return nil, err
	}
	poolID, _ := args["poolId"].([32]byte)
	provider, _ := args["liquidityProvider"].(common.Address)
	tokens, _ := args["tokens"].([]common.Address)
	deltas, _ := args["deltas"].([]*big.Int)

	bc := &BalanceChange{
		PoolID:   strings.ToLower(common.Hash(poolID).Hex()),
		Provider: strings.ToLower(provider.Hex()),
		Tokens:   make([]string, len(tokens)),
		Deltas:   make([]*big.Int, len(deltas)),
	}
	for i, t := range tokens {
		bc.Tokens[i] = strings.ToLower(t.Hex())
	}
	for i, d := range deltas {
		if d.Sign() > 0 {
			bc.Join = true
		}
		bc.Deltas[i] = new(big.Int).Abs(d)
	}
	return bc, nil
}

func (c *Client) poolTokensV3(ctx context.Context, vault, pool common.Address, block uint64) ([]string, error) {
	input, err := VaultV3.Pack("getPoolTokens", pool)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = retry.WithBackoff(ctx, c.retry, c.logger, "rpc_get_pool_tokens", func() error {
		var err error
		out, err = c.backend.CallContract(ctx, ethereum.CallMsg{To: &vault, Data: input}, new(big.Int).SetUint64(block))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("getPoolTokens %s: %w", pool.Hex(), err)
	}
	res, err := VaultV3.Unpack("getPoolTokens", out)
	if err != nil {
		return nil, fmt.Errorf("unpack getPoolTokens: %w", err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("getPoolTokens %s: empty result", pool.Hex())
	}
	addrs, _ := res[0].([]common.Address)
	tokens := make([]string, len(addrs))
	for i, a := range addrs {
		tokens[i] = strings.ToLower(a.Hex())
	}
	return tokens, nil
}
