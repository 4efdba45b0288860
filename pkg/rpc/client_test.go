package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dexsync/ledgersync/pkg/retry"
)

type fakeBackend struct {
	receipts map[common.Hash]*types.Receipt
	tokens   []common.Address
	calls    int
}

func (f *fakeBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, h common.Hash) (*types.Receipt, error) {
	r, ok := f.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, block *big.Int) ([]byte, error) {
	f.calls++
	return VaultV3.Methods["getPoolTokens"].Outputs.Pack(f.tokens)
}

var (
	vaultAddr = common.HexToAddress("0xBA12222222228d8Ba445958a75a0704d566BF2C8")
	userAddr  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenA    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	tokenB    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	txHash    = common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
)

func newTestClient(t *testing.T, backend Backend) *Client {
	c := NewClient(backend, zaptest.NewLogger(t))
	c.retry = retry.Config{MaxRetries: 1}
	return c
}

func v2Log(t *testing.T, index uint, deltas ...*big.Int) *types.Log {
	ev := VaultV2.Events["PoolBalanceChanged"]
	data, err := ev.Inputs.NonIndexed().Pack(
		[]common.Address{tokenA, tokenB},
		deltas,
		[]*big.Int{big.NewInt(0), big.NewInt(0)},
	)
	require.NoError(t, err)
	return &types.Log{
		Address: vaultAddr,
		Topics: []common.Hash{
			ev.ID,
			common.HexToHash("0x5c6ee304399dbdb9c8ef030ab642b10820db8f56000200000000000000000014"),
			common.BytesToHash(userAddr.Bytes()),
		},
		Data:  data,
		Index: index,
	}
}

func TestBalanceChangeV2(t *testing.T) {
	backend := &fakeBackend{receipts: map[common.Hash]*types.Receipt{
		txHash: {Logs: []*types.Log{
			{Index: 3, Topics: []common.Hash{common.HexToHash("0x01")}},
			v2Log(t, 7, big.NewInt(-5), big.NewInt(-10)),
		}},
	}}
	c := newTestClient(t, backend)

	bc, err := c.BalanceChange(context.Background(), txHash.Hex(), 7)
	require.NoError(t, err)
	assert.Equal(t, "0x5c6ee304399dbdb9c8ef030ab642b10820db8f56000200000000000000000014", bc.PoolID)
	assert.Equal(t, []string{"0x00000000000000000000000000000000000000a1", "0x00000000000000000000000000000000000000b2"}, bc.Tokens)
	assert.False(t, bc.Join)
	require.Len(t, bc.Deltas, 2)
	assert.Equal(t, "5", bc.Deltas[0].String())
	assert.Equal(t, "10", bc.Deltas[1].String())
	assert.Equal(t, 0, backend.calls)
}

func TestBalanceChangeV3ReadsPoolTokens(t *testing.T) {
	ev := VaultV3.Events["LiquidityAdded"]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(1000), []*big.Int{big.NewInt(1), big.NewInt(2)}, []*big.Int{big.NewInt(0), big.NewInt(0)})
	require.NoError(t, err)
	pool := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	backend := &fakeBackend{
		tokens: []common.Address{tokenA, tokenB},
		receipts: map[common.Hash]*types.Receipt{
			txHash: {Logs: []*types.Log{{
				Address:     vaultAddr,
				Topics:      []common.Hash{ev.ID, common.BytesToHash(pool.Bytes()), common.BytesToHash(userAddr.Bytes()), common.BigToHash(big.NewInt(1))},
				Data:        data,
				Index:       0,
				BlockNumber: 42,
			}}},
		},
	}
	c := newTestClient(t, backend)

	bc, err := c.BalanceChange(context.Background(), txHash.Hex(), 0)
	require.NoError(t, err)
	assert.True(t, bc.Join)
	assert.Equal(t, "0x00000000000000000000000000000000000000cc", bc.PoolID)
	assert.Len(t, bc.Tokens, 2)
	assert.Equal(t, "2", bc.Deltas[1].String())
	assert.Equal(t, 1, backend.calls)
}

func TestBalanceChangeMissingLog(t *testing.T) {
	backend := &fakeBackend{receipts: map[common.Hash]*types.Receipt{txHash: {}}}
	c := newTestClient(t, backend)

	_, err := c.BalanceChange(context.Background(), txHash.Hex(), 1)
	require.True(t, errors.Is(err, ErrLogNotFound))

	_, err = c.BalanceChange(context.Background(), "0x22", 1)
	require.True(t, errors.Is(err, ethereum.NotFound))
	assert.True(t, IsRecordError(err))
}

func TestIsRecordError(t *testing.T) {
	assert.True(t, IsRecordError(fmt.Errorf("receipt: %w", ErrLogNotFound)))
	assert.True(t, IsRecordError(fmt.Errorf("%w: anonymous log", ErrUnsupportedLog)))
	assert.False(t, IsRecordError(errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")))
	assert.False(t, IsRecordError(context.DeadlineExceeded))
}

func TestDecodeLogRejectsUnknownEvent(t *testing.T) {
	_, err := DecodeLog(VaultV2, types.Log{Topics: []common.Hash{common.HexToHash("0x02")}})
	require.True(t, errors.Is(err, ErrUnsupportedLog))
}
