package temporal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapAdapterCarriesKeyvals(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	var l log.Logger = NewZapAdapter(zap.New(core))

	l.(log.WithLogger).With("chain", "MAINNET").Info("started", "category", "SWAPS_V2")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		ctx := entries[0].ContextMap()
		assert.Equal(t, "MAINNET", ctx["chain"])
		assert.Equal(t, "SWAPS_V2", ctx["category"])
	}
}

func TestScheduleIDs(t *testing.T) {
	c := &Client{}
	assert.Equal(t, "sync:SWAPS_V2:MAINNET", c.GetSyncScheduleID("SWAPS_V2", "MAINNET"))
	assert.Equal(t, "snapshot:MAINNET:3", c.GetSnapshotScheduleID("MAINNET", 3))
}
