package subgraph

import (
	"context"
	"fmt"
	"strings"

	"github.com/dexsync/ledgersync/pkg/utils"
)

// SnapshotSchema selects the pool snapshot shape of a data source.
type SnapshotSchema int

const (
	// SchemaV2 reports cumulative USD aggregates only.
	SchemaV2 SnapshotSchema = 2
	// SchemaV3 reports per-token cumulative arrays.
	SchemaV3 SnapshotSchema = 3
)

const (
	snapshotFieldsV2 = "id pool { id tokensList } amounts totalShares swapVolume swapFees liquidity swapsCount holdersCount timestamp"
	snapshotFieldsV3 = "id pool { id address tokens { address } } balances totalShares totalSwapVolumes totalSwapFees totalSurpluses swapsCount holdersCount timestamp"
)

// SnapshotPage selects one page of the snapshot rows of a day. Pages are keyed by id so
// deep backfills never hit the skip limit.
type SnapshotPage struct {
	Timestamp int64
	PoolID    string // optional
	AfterID   string
	First     int
}

type rawSnapshotV2 struct {
	ID           string  `json:"id"`
	Pool         PoolRef `json:"pool"`
	Amounts      []Num   `json:"amounts"`
	TotalShares  Num     `json:"totalShares"`
	SwapVolume   Num     `json:"swapVolume"`
	SwapFees     Num     `json:"swapFees"`
	Liquidity    Num     `json:"liquidity"`
	SwapsCount   Num     `json:"swapsCount"`
	HoldersCount Num     `json:"holdersCount"`
	Timestamp    Num     `json:"timestamp"`
}

type rawSnapshotV3 struct {
	ID               string  `json:"id"`
	Pool             PoolRef `json:"pool"`
	Balances         []Num   `json:"balances"`
	TotalShares      Num     `json:"totalShares"`
	TotalSwapVolumes []Num   `json:"totalSwapVolumes"`
	TotalSwapFees    []Num   `json:"totalSwapFees"`
	TotalSurpluses   []Num   `json:"totalSurpluses"`
	SwapsCount       Num     `json:"swapsCount"`
	HoldersCount     Num     `json:"holdersCount"`
	Timestamp        Num     `json:"timestamp"`
}

func snapshotQuery(schema SnapshotSchema, where map[string]any, orderBy string, first int) (Query, error) {
	var fields string
	switch schema {
	case SchemaV2:
		fields = snapshotFieldsV2
	case SchemaV3:
		fields = snapshotFieldsV3
	default:
		return Query{}, fmt.Errorf("unknown snapshot schema %d", schema)
	}
	return Query{
		Collection:     "poolSnapshots",
		FilterType:     "PoolSnapshot_filter",
		Fields:         fields,
		Where:          where,
		OrderBy:        orderBy,
		OrderDirection: "asc",
		First:          first,
	}, nil
}

// PoolSnapshots returns one page of the cumulative snapshot rows stamped with p.Timestamp.
func (c *Client) PoolSnapshots(ctx context.Context, schema SnapshotSchema, p SnapshotPage) ([]RawPoolSnapshot, error) {
	where := map[string]any{"timestamp": p.Timestamp}
	if p.PoolID != "" {
		where["pool"] = strings.ToLower(p.PoolID)
	}
	if p.AfterID != "" {
		where["id_gt"] = p.AfterID
	}
	q, err := snapshotQuery(schema, where, "id", p.First)
	if err != nil {
		return nil, err
	}
	return c.fetchSnapshots(ctx, schema, q, c.settled(p.Timestamp))
}

// settled reports whether upstream has stopped revising the snapshots of day: anything
// before yesterday (UTC).
func (c *Client) settled(day int64) bool {
	yesterday := utils.MidnightUTC(c.now().Unix()) - utils.SecondsPerDay
	return day < yesterday
}

// DaySnapshots walks every page of the day's snapshot rows.
func (c *Client) DaySnapshots(ctx context.Context, schema SnapshotSchema, day int64, poolID string) ([]RawPoolSnapshot, error) {
	var (
		out   []RawPoolSnapshot
		after string
	)
	for {
		page, err := c.PoolSnapshots(ctx, schema, SnapshotPage{Timestamp: day, PoolID: poolID, AfterID: after, First: MaxPageSize})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < MaxPageSize {
			return out, nil
		}
		after = page[len(page)-1].ID
	}
}

// FirstSnapshotTimestamp returns the earliest snapshot timestamp upstream, optionally for
// one pool. ok is false when there are no snapshots.
func (c *Client) FirstSnapshotTimestamp(ctx context.Context, schema SnapshotSchema, poolID string) (int64, bool, error) {
	where := map[string]any{}
	if poolID != "" {
		where["pool"] = strings.ToLower(poolID)
	}
	q, err := snapshotQuery(schema, where, "timestamp", 1)
	if err != nil {
		return 0, false, err
	}
	rows, err := c.fetchSnapshots(ctx, schema, q, true)
	if err != nil {
		return 0, false, err
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return rows[0].Timestamp, true, nil
}

func (c *Client) fetchSnapshots(ctx context.Context, schema SnapshotSchema, q Query, cacheable bool) ([]RawPoolSnapshot, error) {
	doc, vars, err := q.Render()
	if err != nil {
		return nil, err
	}
	do := c.Do
	if cacheable {
		do = c.cachedDo
	}

	switch schema {
	case SchemaV2:
		var env struct {
			Items []rawSnapshotV2 `json:"items"`
		}
		if err := do(ctx, doc, vars, &env); err != nil {
			return nil, fmt.Errorf("fetch v2 pool snapshots: %w", err)
		}
		out := make([]RawPoolSnapshot, 0, len(env.Items))
		for _, r := range env.Items {
			out = append(out, r.normalise())
		}
		return out, nil
	default:
		var env struct {
			Items []rawSnapshotV3 `json:"items"`
		}
		if err := do(ctx, doc, vars, &env); err != nil {
			return nil, fmt.Errorf("fetch v3 pool snapshots: %w", err)
		}
		out := make([]RawPoolSnapshot, 0, len(env.Items))
		for _, r := range env.Items {
			out = append(out, r.normalise())
		}
		return out, nil
	}
}

func (r rawSnapshotV2) normalise() RawPoolSnapshot {
	ts, _ := r.Timestamp.Int64()
	swaps, _ := r.SwapsCount.Int64()
	holders, _ := r.HoldersCount.Int64()
	return RawPoolSnapshot{
		ID:              r.ID,
		PoolID:          strings.ToLower(r.Pool.ID),
		Timestamp:       ts,
		Tokens:          utils.LowerAddresses(r.Pool.TokenAddresses()),
		Amounts:         numStrings(r.Amounts),
		TotalShares:     r.TotalShares.String(),
		SwapVolumeUSD:   r.SwapVolume.Float64(),
		SwapFeesUSD:     r.SwapFees.Float64(),
		LiquidityUSD:    r.Liquidity.Float64(),
		SwapsCount:      swaps,
		HoldersCount:    holders,
		HasUSDAggregate: true,
	}
}

func (r rawSnapshotV3) normalise() RawPoolSnapshot {
	ts, _ := r.Timestamp.Int64()
	swaps, _ := r.SwapsCount.Int64()
	holders, _ := r.HoldersCount.Int64()
	poolID := r.Pool.ID
	if r.Pool.Address != "" {
		poolID = r.Pool.Address
	}
	return RawPoolSnapshot{
		ID:             r.ID,
		PoolID:         strings.ToLower(poolID),
		Timestamp:      ts,
		Tokens:         utils.LowerAddresses(r.Pool.TokenAddresses()),
		Amounts:        numStrings(r.Balances),
		TotalShares:    r.TotalShares.String(),
		TotalVolumes:   numStrings(r.TotalSwapVolumes),
		TotalFees:      numStrings(r.TotalSwapFees),
		TotalSurpluses: numStrings(r.TotalSurpluses),
		SwapsCount:     swaps,
		HoldersCount:   holders,
		HasTokenTotals: true,
	}
}

func numStrings(in []Num) []string {
	out := make([]string, len(in))
	for i, n := range in {
		out[i] = n.String()
	}
	return out
}
