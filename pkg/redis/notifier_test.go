package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNotifySynced(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	c := NewFromClient(rdb, zaptest.NewLogger(t), 100)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, SyncChannel("MAINNET", "SWAPS_V2"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	c.NotifySynced(ctx, SyncEvent{Chain: "MAINNET", Category: "SWAPS_V2", Cursor: 42, Inserted: 3, Pages: 1})

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"chain":"MAINNET","category":"SWAPS_V2","cursor":42,"inserted":3,"pages":1}`, msg.Payload)

	entries, err := rdb.XRange(ctx, JobsStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "42", entries[0].Values["cursor"])
	assert.Equal(t, "SWAPS_V2", entries[0].Values["category"])
}

func TestSyncChannel(t *testing.T) {
	assert.Equal(t, "ledgersync:GNOSIS:JOIN_EXIT_V3", SyncChannel("GNOSIS", "JOIN_EXIT_V3"))
}
