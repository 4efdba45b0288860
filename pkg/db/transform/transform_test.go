package transform

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dexsync/ledgersync/pkg/config"
	"github.com/dexsync/ledgersync/pkg/db/models/ledger"
	"github.com/dexsync/ledgersync/pkg/rpc"
	"github.com/dexsync/ledgersync/pkg/subgraph"
)

var scenarioTx = "0xabc" + strings.Repeat("0", 58) + "123"

func scenarioJoin() subgraph.RawJoinExitV2 {
	return subgraph.RawJoinExitV2{
		ID:        scenarioTx + strings.Repeat("0", 62) + "42",
		Type:      "Join",
		Sender:    "0xUser1",
		Amounts:   []subgraph.Num{"10", "20"},
		Pool:      subgraph.PoolRef{ID: "pool1", TokensList: []string{"0xTokenA", "0xTokenB"}},
		BlockNum:  "100",
		Timestamp: "1000000",
		Tx:        scenarioTx,
	}
}

func TestParseEventID(t *testing.T) {
	tx, idx, err := ParseEventID(scenarioTx + "0000002a")
	require.NoError(t, err)
	assert.Equal(t, scenarioTx, tx)
	assert.EqualValues(t, 42, idx)

	_, idx, err = ParseEventID(scenarioTx + strings.Repeat("0", 62) + "42")
	require.NoError(t, err)
	assert.EqualValues(t, 66, idx)

	for _, bad := range []string{"", scenarioTx, "1x" + scenarioTx[2:] + "01", scenarioTx + "zz", scenarioTx + "ffffffffffffffffffff"} {
		_, _, err := ParseEventID(bad)
		assert.ErrorIs(t, err, ErrMalformedID, bad)
	}
}

func TestJoinExitScenario(t *testing.T) {
	e, err := JoinExit(scenarioJoin(), "MAINNET", 2)
	require.NoError(t, err)

	assert.Equal(t, scenarioTx+"66", e.ID)
	assert.Equal(t, scenarioTx, e.TxHash)
	assert.Equal(t, "pool1", e.PoolID)
	assert.Equal(t, "0xUser1", e.UserAddress)
	assert.Equal(t, ledger.EntryJoin, e.Type)
	assert.EqualValues(t, 100, e.BlockNumber)
	assert.EqualValues(t, 1000000, e.BlockTimestamp)
	assert.EqualValues(t, 66, e.LogIndex)
	assert.Equal(t, 2, e.ProtocolVersion)
	assert.Equal(t, []ledger.TokenAmount{
		{Address: "0xTokenA", Amount: "10"},
		{Address: "0xTokenB", Amount: "20"},
	}, e.Payload.Tokens)
	assert.Nil(t, e.Payload.Swap)
}

func TestJoinExitRejectsBadRecords(t *testing.T) {
	raw := scenarioJoin()
	raw.Type = "Transfer"
	_, err := JoinExit(raw, "MAINNET", 2)
	assert.ErrorIs(t, err, ErrUnknownType)

	raw = scenarioJoin()
	raw.Amounts = raw.Amounts[:1]
	e, err := JoinExit(raw, "MAINNET", 2)
	assert.ErrorIs(t, err, ErrTokenAmountMismatch)
	assert.Equal(t, "pool1", e.PoolID)

	raw = scenarioJoin()
	raw.Amounts[1] = "abc"
	_, err = JoinExit(raw, "MAINNET", 2)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	raw = scenarioJoin()
	raw.BlockNum = ""
	_, err = JoinExit(raw, "MAINNET", 2)
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = JoinExit(subgraph.RawSwapV2{}, "MAINNET", 2)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestAddRemoveMapsToExit(t *testing.T) {
	raw := subgraph.RawAddRemove{
		ID:              scenarioTx + "00000001",
		Type:            "Remove",
		Sender:          "0xuser",
		Amounts:         []subgraph.Num{"1.50", "2"},
		Pool:            subgraph.PoolRef{ID: "0xpool", Tokens: []subgraph.TokenRef{{Address: "0xa"}, {Address: "0xb"}}},
		BlockNumber:     "7",
		BlockTimestamp:  "70",
		TransactionHash: scenarioTx,
		LogIndex:        "1",
	}
	e, err := JoinExit(raw, "GNOSIS", 3)
	require.NoError(t, err)
	assert.Equal(t, ledger.EntryExit, e.Type)
	assert.Equal(t, scenarioTx+"1", e.ID)
	assert.Equal(t, "1.5", e.Payload.Tokens[0].Amount)
}

func TestSwapV3(t *testing.T) {
	raw := subgraph.RawSwapV3{
		ID:             scenarioTx + "00000005",
		Pool:           "0xpool",
		TokenIn:        "0xin",
		TokenOut:       "0xout",
		TokenAmountIn:  "3",
		TokenAmountOut: "4.25",
		User:           subgraph.UserRef{ID: "0xuser"},
		BlockNumber:    "9",
		BlockTimestamp: "90",
	}
	e, err := Swap(raw, "MAINNET", 3)
	require.NoError(t, err)
	assert.Equal(t, ledger.EntrySwap, e.Type)
	assert.Equal(t, []ledger.TokenAmount{{Address: "0xin", Amount: "3"}}, e.Payload.Tokens)
	require.NotNil(t, e.Payload.Swap)
	assert.Equal(t, "0xout", e.Payload.Swap.TokenOut)
	assert.Equal(t, "4.25", e.Payload.Swap.AmountOut)

	raw.TokenOut = ""
	_, err = Swap(raw, "MAINNET", 3)
	assert.ErrorIs(t, err, ErrMissingField)
}

type fakeLogClient struct {
	change *rpc.BalanceChange
	err    error
	calls  int
}

func (f *fakeLogClient) GetLogs(context.Context, common.Address, common.Hash, uint64, uint64) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeLogClient) DecodeLog(abi.ABI, types.Log) (map[string]any, error) { return nil, nil }

func (f *fakeLogClient) BalanceChange(ctx context.Context, txHash string, logIndex int64) (*rpc.BalanceChange, error) {
	f.calls++
	return f.change, f.err
}

type fakeFactory struct{ client *fakeLogClient }

func (f fakeFactory) ForChain(context.Context, string) (rpc.LogClient, error) { return f.client, nil }

func TestTransformBatchIsolatesBadRecords(t *testing.T) {
	bad := scenarioJoin()
	bad.ID = "0xshort"
	good := scenarioJoin()

	tr := NewTransformer(zaptest.NewLogger(t), nil, nil)
	entries, skipped, err := tr.TransformBatch(context.Background(), "MAINNET", ledger.CategoryJoinExitV2, []subgraph.RawEvent{bad, good})
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, entries, 1)
	assert.Equal(t, scenarioTx+"66", entries[0].ID)
}

func TestTransformBatchRebuildsMismatchFromChain(t *testing.T) {
	raw := scenarioJoin()
	raw.Amounts = []subgraph.Num{"10"}

	usdc := "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	client := &fakeLogClient{change: &rpc.BalanceChange{
		PoolID: "POOL1",
		Tokens: []string{"0xtokena", usdc},
		Deltas: []*big.Int{new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18)), big.NewInt(20_500_000)},
	}}
	cfg, err := config.Parse([]byte(`
networks:
  - chain: MAINNET
    subgraphs: {v2: ["http://x"]}
    tokenDecimals:
      "0xA0b86991c6218b36c1d19d4a2e9eb0ce3606eB48": 6
`))
	require.NoError(t, err)

	tr := NewTransformer(zaptest.NewLogger(t), cfg, fakeFactory{client: client})
	entries, skipped, err := tr.TransformBatch(context.Background(), "MAINNET", ledger.CategoryJoinExitV2, []subgraph.RawEvent{raw})
	require.NoError(t, err)
	require.Equal(t, 0, skipped)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, client.calls)
	assert.Equal(t, []ledger.TokenAmount{
		{Address: "0xtokena", Amount: "10"},
		{Address: usdc, Amount: "20.5"},
	}, entries[0].Payload.Tokens)
}

func TestTransformBatchSkipsMismatchWhenFallbackFails(t *testing.T) {
	raw := scenarioJoin()
	raw.Amounts = []subgraph.Num{"10"}
	client := &fakeLogClient{err: rpc.ErrLogNotFound}

	tr := NewTransformer(zaptest.NewLogger(t), nil, fakeFactory{client: client})
	entries, skipped, err := tr.TransformBatch(context.Background(), "MAINNET", ledger.CategoryJoinExitV2, []subgraph.RawEvent{raw})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 1, client.calls)
}

type downFactory struct{ err error }

func (f downFactory) ForChain(context.Context, string) (rpc.LogClient, error) { return nil, f.err }

func TestTransformBatchFailsWhenNodeUnreachable(t *testing.T) {
	mismatch := scenarioJoin()
	mismatch.Amounts = []subgraph.Num{"10"}
	good := scenarioJoin()
	raws := []subgraph.RawEvent{good, mismatch}

	dialErr := errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")
	tr := NewTransformer(zaptest.NewLogger(t), nil, downFactory{err: dialErr})
	entries, _, err := tr.TransformBatch(context.Background(), "MAINNET", ledger.CategoryJoinExitV2, raws)
	require.ErrorIs(t, err, ErrFallbackUnavailable)
	assert.ErrorIs(t, err, dialErr)
	assert.Empty(t, entries)

	client := &fakeLogClient{err: fmt.Errorf("receipt %s: %w", scenarioTx, context.DeadlineExceeded)}
	tr = NewTransformer(zaptest.NewLogger(t), nil, fakeFactory{client: client})
	_, _, err = tr.TransformBatch(context.Background(), "MAINNET", ledger.CategoryJoinExitV2, raws)
	require.ErrorIs(t, err, ErrFallbackUnavailable)

	tr = NewTransformer(zaptest.NewLogger(t), nil, downFactory{err: fmt.Errorf("%w: chain MAINNET has no rpcUrl", config.ErrMissingNetwork)})
	_, _, err = tr.TransformBatch(context.Background(), "MAINNET", ledger.CategoryJoinExitV2, raws)
	require.ErrorIs(t, err, config.ErrMissingNetwork, "config errors stay fatal")
}
