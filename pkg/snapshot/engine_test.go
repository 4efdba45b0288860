package snapshot

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dexsync/ledgersync/pkg/db/models/ledger"
	"github.com/dexsync/ledgersync/pkg/subgraph"
	"github.com/dexsync/ledgersync/pkg/utils"
)

const chain = "MAINNET"

var (
	now   = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	today = utils.MidnightUTC(now.Unix())
)

func daysAgo(n int64) int64 { return today - n*utils.SecondsPerDay }

type fakeSource struct {
	rows    map[int64][]subgraph.RawPoolSnapshot
	asked   []int64
	failDay int64
}

func (f *fakeSource) DaySnapshots(ctx context.Context, day int64, poolID string) ([]subgraph.RawPoolSnapshot, error) {
	f.asked = append(f.asked, day)
	if f.failDay != 0 && day == f.failDay {
		return nil, errors.New("subgraph: http 503")
	}
	var out []subgraph.RawPoolSnapshot
	for _, r := range f.rows[day] {
		if poolID == "" || r.PoolID == poolID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSource) FirstSnapshotTimestamp(ctx context.Context, poolID string) (int64, bool, error) {
	var days []int64
	for d, rows := range f.rows {
		for _, r := range rows {
			if poolID == "" || r.PoolID == poolID {
				days = append(days, d)
				break
			}
		}
	}
	if len(days) == 0 {
		return 0, false, nil
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days[0] + 3600, true, nil
}

type staticSources struct{ src Source }

func (s staticSources) Source(string, int) (Source, error) { return s.src, nil }

type fakeStore struct {
	rows    map[string]ledger.PoolSnapshot
	deleted []string
}

func newFakeStore() *fakeStore { return &fakeStore{rows: map[string]ledger.PoolSnapshot{}} }

func (f *fakeStore) GetSnapshot(ctx context.Context, poolID, chain string, day int64) (*ledger.PoolSnapshot, error) {
	if s, ok := f.rows[ledger.SnapshotID(poolID, day)]; ok {
		return &s, nil
	}
	return nil, nil
}

func (f *fakeStore) LatestBefore(ctx context.Context, poolID, chain string, day int64) (*ledger.PoolSnapshot, error) {
	var best *ledger.PoolSnapshot
	for _, s := range f.rows {
		if s.PoolID == poolID && s.Timestamp < day && (best == nil || s.Timestamp > best.Timestamp) {
			s := s
			best = &s
		}
	}
	return best, nil
}

func (f *fakeStore) PoolsWithHistory(ctx context.Context, chain string, version int, before int64) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, s := range f.rows {
		if s.ProtocolVersion == version && s.Timestamp < before && !seen[s.PoolID] {
			seen[s.PoolID] = true
			out = append(out, s.PoolID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeStore) UpsertSnapshots(ctx context.Context, snaps []ledger.PoolSnapshot) error {
	for _, s := range snaps {
		f.rows[s.ID] = s
	}
	return nil
}

func (f *fakeStore) ReplacePoolSnapshots(ctx context.Context, poolID, chain string, snaps []ledger.PoolSnapshot) error {
	f.deleted = append(f.deleted, poolID)
	for k, s := range f.rows {
		if s.PoolID == poolID {
			delete(f.rows, k)
		}
	}
	return f.UpsertSnapshots(ctx, snaps)
}

func (f *fakeStore) series(poolID string) []ledger.PoolSnapshot {
	var out []ledger.PoolSnapshot
	for _, s := range f.rows {
		if s.PoolID == poolID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

type fakeCursors struct{ values map[ledger.Category]int64 }

func (f *fakeCursors) GetCursor(ctx context.Context, c ledger.Category, ch string) (*ledger.Cursor, error) {
	v, ok := f.values[c]
	if !ok {
		return nil, nil
	}
	return &ledger.Cursor{Category: c, Chain: ch, Value: v}, nil
}

func (f *fakeCursors) AdvanceCursor(ctx context.Context, c ledger.Category, ch string, v int64) error {
	if v > f.values[c] {
		f.values[c] = v
	}
	return nil
}

func (f *fakeCursors) SetCursor(ctx context.Context, c ledger.Category, ch string, v int64) error {
	f.values[c] = v
	return nil
}

func (f *fakeCursors) DeleteCursor(ctx context.Context, c ledger.Category, ch string) error {
	delete(f.values, c)
	return nil
}

func (f *fakeCursors) ListCursors(ctx context.Context) ([]ledger.Cursor, error) { return nil, nil }

type flatPrices map[string]float64

func (p flatPrices) PricesForDay(ctx context.Context, ts int64, chain string) (map[string]float64, error) {
	return p, nil
}

type harness struct {
	src     *fakeSource
	store   *fakeStore
	cursors *fakeCursors
	engine  *Engine
}

func newHarness(t *testing.T, prices flatPrices) *harness {
	h := &harness{
		src:     &fakeSource{rows: map[int64][]subgraph.RawPoolSnapshot{}},
		store:   newFakeStore(),
		cursors: &fakeCursors{values: map[ledger.Category]int64{}},
	}
	h.engine = &Engine{
		Sources:   staticSources{src: h.src},
		Snapshots: h.store,
		Cursors:   h.cursors,
		Prices:    prices,
		Logger:    zaptest.NewLogger(t),
		Now:       func() time.Time { return now },
	}
	return h
}

func v3Row(pool string, day int64, volumes ...string) subgraph.RawPoolSnapshot {
	return subgraph.RawPoolSnapshot{
		PoolID:         pool,
		Timestamp:      day,
		Tokens:         []string{"0xa", "0xb"},
		Amounts:        []string{"100", "50"},
		TotalShares:    "10",
		TotalVolumes:   volumes,
		TotalFees:      []string{"1", "1"},
		TotalSurpluses: []string{"0", "0"},
		SwapsCount:     3,
		HoldersCount:   2,
		HasTokenTotals: true,
	}
}

func TestBootstrapsFromEarliestUpstreamDay(t *testing.T) {
	h := newHarness(t, flatPrices{})
	h.src.rows[daysAgo(10)] = []subgraph.RawPoolSnapshot{v3Row("0xp", daysAgo(10), "1", "1")}

	res, err := h.engine.Run(context.Background(), chain, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{daysAgo(10)}, res.Days)
	assert.Equal(t, daysAgo(10), h.cursors.values[ledger.CategorySnapshotsV3])
	assert.Len(t, h.store.rows, 1)
}

func TestNoUpstreamIsNoop(t *testing.T) {
	h := newHarness(t, flatPrices{})
	res, err := h.engine.Run(context.Background(), chain, 2)
	require.NoError(t, err)
	assert.Empty(t, res.Days)
	assert.Empty(t, h.cursors.values)
}

func TestBehindProcessesExactlyOneDay(t *testing.T) {
	h := newHarness(t, flatPrices{})
	h.cursors.values[ledger.CategorySnapshotsV3] = daysAgo(5)

	res, err := h.engine.Run(context.Background(), chain, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{daysAgo(4)}, res.Days)
	assert.Equal(t, []int64{daysAgo(4)}, h.src.asked)
	assert.Equal(t, daysAgo(4), h.cursors.values[ledger.CategorySnapshotsV3])
}

func TestCaughtUpSettlesYesterdayAndToday(t *testing.T) {
	for _, cursor := range []int64{daysAgo(1), today} {
		h := newHarness(t, flatPrices{})
		h.cursors.values[ledger.CategorySnapshotsV3] = cursor

		res, err := h.engine.Run(context.Background(), chain, 3)
		require.NoError(t, err)
		assert.Equal(t, []int64{daysAgo(1), today}, res.Days)
		assert.Equal(t, today, h.cursors.values[ledger.CategorySnapshotsV3])
	}
}

func TestSeriesIsGapFreeWithClampedDeltas(t *testing.T) {
	h := newHarness(t, flatPrices{"0xa": 2, "0xb": 1})
	h.src.rows[daysAgo(4)] = []subgraph.RawPoolSnapshot{v3Row("0xp", daysAgo(4), "10", "5")}
	// no upstream row three days ago
	h.src.rows[daysAgo(2)] = []subgraph.RawPoolSnapshot{v3Row("0xp", daysAgo(2), "8", "7")}
	h.cursors.values[ledger.CategorySnapshotsV3] = daysAgo(5)

	for i := 0; i < 3; i++ {
		_, err := h.engine.Run(context.Background(), chain, 3)
		require.NoError(t, err)
	}

	series := h.store.series("0xp")
	require.Len(t, series, 3)
	for i, s := range series {
		assert.Equal(t, daysAgo(int64(4-i)), s.Timestamp)
	}

	first, gap, last := series[0], series[1], series[2]
	assert.Equal(t, 25.0, first.Volume24h)
	assert.Equal(t, 250.0, first.TotalLiquidity)
	assert.Equal(t, 25.0, first.SharePrice)

	assert.Equal(t, first.TotalVolumes, gap.TotalVolumes)
	assert.Zero(t, gap.Volume24h)
	assert.Zero(t, gap.Fees24h)
	assert.Equal(t, ledger.SnapshotID("0xp", daysAgo(3)), gap.ID)

	assert.Equal(t, []string{"10", "7"}, last.TotalVolumes, "decrease clamps to previous total")
	assert.Equal(t, 2.0, last.Volume24h)
	assert.Equal(t, 27.0, last.TotalSwapVolume)
	for i := 1; i < len(series); i++ {
		for j := range series[i].TotalVolumes {
			assert.GreaterOrEqual(t, parse(series[i].TotalVolumes[j]).Cmp(parse(series[i-1].TotalVolumes[j])), 0)
		}
	}
}

func TestV2UsesUSDAggregates(t *testing.T) {
	h := newHarness(t, flatPrices{})
	require.NoError(t, h.store.UpsertSnapshots(context.Background(), []ledger.PoolSnapshot{{
		ID: ledger.SnapshotID("0xp", daysAgo(2)), PoolID: "0xp", ProtocolVersion: 2, Timestamp: daysAgo(2),
		TotalSwapVolume: 100, TotalSwapFee: 1,
	}}))

	row := func(day int64, volume, fees string) subgraph.RawPoolSnapshot {
		return subgraph.RawPoolSnapshot{
			PoolID: "0xp", Timestamp: day, Tokens: []string{"0xa"}, Amounts: []string{"1"}, TotalShares: "4",
			SwapVolumeUSD: parse(volume).InexactFloat64(), SwapFeesUSD: parse(fees).InexactFloat64(),
			LiquidityUSD: 80, HasUSDAggregate: true,
		}
	}
	h.src.rows[daysAgo(1)] = []subgraph.RawPoolSnapshot{row(daysAgo(1), "150", "1.5")}
	h.src.rows[today] = []subgraph.RawPoolSnapshot{row(today, "90", "0.5")}
	h.cursors.values[ledger.CategorySnapshotsV2] = daysAgo(1)

	_, err := h.engine.Run(context.Background(), chain, 2)
	require.NoError(t, err)

	series := h.store.series("0xp")
	require.Len(t, series, 3)
	y, td := series[1], series[2]
	assert.Equal(t, 50.0, y.Volume24h)
	assert.Equal(t, 0.5, y.Fees24h)
	assert.Equal(t, 80.0, y.TotalLiquidity, "falls back to upstream liquidity without prices")
	assert.Equal(t, 20.0, y.SharePrice)

	assert.Zero(t, td.Volume24h, "upstream reset clamps to zero")
	assert.Zero(t, td.Fees24h)
	assert.Equal(t, 150.0, td.TotalSwapVolume)
	assert.Empty(t, td.TotalVolumes)
}

func TestReloadPoolRebuildsSeries(t *testing.T) {
	h := newHarness(t, flatPrices{"0xa": 1})
	require.NoError(t, h.store.UpsertSnapshots(context.Background(), []ledger.PoolSnapshot{{
		ID: ledger.SnapshotID("0xp", daysAgo(9)), PoolID: "0xp", ProtocolVersion: 3, Timestamp: daysAgo(9),
	}}))
	h.src.rows[daysAgo(3)] = []subgraph.RawPoolSnapshot{v3Row("0xp", daysAgo(3), "1", "1")}
	h.src.rows[daysAgo(1)] = []subgraph.RawPoolSnapshot{v3Row("0xp", daysAgo(1), "4", "1"), v3Row("0xq", daysAgo(1), "9", "9")}

	n, err := h.engine.ReloadPool(context.Background(), chain, 3, "0xP")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"0xp"}, h.store.deleted)

	series := h.store.series("0xp")
	require.Len(t, series, 4)
	assert.Equal(t, daysAgo(3), series[0].Timestamp)
	assert.Equal(t, today, series[3].Timestamp)
	assert.Equal(t, 3.0, series[2].Volume24h)
	assert.Zero(t, series[3].Volume24h)
	assert.Empty(t, h.store.series("0xq"))
}

func TestReloadPoolKeepsSeriesWhenRebuildFails(t *testing.T) {
	h := newHarness(t, flatPrices{"0xa": 1})
	old := ledger.PoolSnapshot{ID: ledger.SnapshotID("0xp", daysAgo(9)), PoolID: "0xp", ProtocolVersion: 3, Timestamp: daysAgo(9)}
	require.NoError(t, h.store.UpsertSnapshots(context.Background(), []ledger.PoolSnapshot{old}))
	h.src.rows[daysAgo(3)] = []subgraph.RawPoolSnapshot{v3Row("0xp", daysAgo(3), "1", "1")}
	h.src.failDay = daysAgo(1)

	_, err := h.engine.ReloadPool(context.Background(), chain, 3, "0xp")
	require.Error(t, err)
	assert.Empty(t, h.store.deleted)
	assert.Equal(t, []ledger.PoolSnapshot{old}, h.store.series("0xp"))
}
