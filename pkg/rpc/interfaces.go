package rpc

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LogClient is the on-chain fallback used when a subgraph record cannot be trusted.
type LogClient interface {
	GetLogs(ctx context.Context, address common.Address, eventSig common.Hash, fromBlock, toBlock uint64) ([]types.Log, error)
	DecodeLog(parsed abi.ABI, log types.Log) (map[string]any, error)
	BalanceChange(ctx context.Context, txHash string, logIndex int64) (*BalanceChange, error)
}

// Factory produces the log client of a chain.
type Factory interface {
	ForChain(ctx context.Context, chain string) (LogClient, error)
}
