package ledger

import (
	"fmt"
	"time"
)

// PoolSnapshot is the state of one pool at the end of a UTC day. Token-indexed
// slices (Amounts, TotalVolumes, TotalFees, TotalSurpluses) follow the order of Tokens.
type PoolSnapshot struct {
	ID              string   `json:"id"`
	Chain           string   `json:"chain"`
	PoolID          string   `json:"poolId"`
	ProtocolVersion int      `json:"protocolVersion"`
	Timestamp       int64    `json:"timestamp"`
	TotalShares     string   `json:"totalShares"`
	TotalSharesNum  float64  `json:"totalSharesNum"`
	SwapsCount      int64    `json:"swapsCount"`
	HoldersCount    int64    `json:"holdersCount"`
	Tokens          []string `json:"tokens"`
	Amounts         []string `json:"amounts"`
	TotalVolumes    []string `json:"totalVolumes"`
	TotalFees       []string `json:"totalFees"`
	TotalSurpluses  []string `json:"totalSurpluses"`
	TotalLiquidity  float64  `json:"totalLiquidity"`
	SharePrice      float64  `json:"sharePrice"`
	Volume24h       float64  `json:"volume24h"`
	Fees24h         float64  `json:"fees24h"`
	Surplus24h      float64  `json:"surplus24h"`
	TotalSwapVolume float64  `json:"totalSwapVolume"`
	TotalSwapFee    float64  `json:"totalSwapFee"`
	TotalSurplus    float64  `json:"totalSurplus"`
}

// SnapshotID is the row id of a pool snapshot: pool id and day epoch.
func SnapshotID(poolID string, day int64) string {
	return fmt.Sprintf("%s-%d", poolID, day)
}

// Day returns the snapshot timestamp as a UTC time.
func (s PoolSnapshot) Day() time.Time { return time.Unix(s.Timestamp, 0).UTC() }

// FarmSnapshot is a staking-side row keyed on a pool snapshot day; removed with its pool snapshots on reload.
type FarmSnapshot struct {
	PoolID         string  `json:"poolId"`
	Chain          string  `json:"chain"`
	Farm           string  `json:"farm"`
	Timestamp      int64   `json:"timestamp"`
	StakedShares   string  `json:"stakedShares"`
	StakedValueUSD float64 `json:"stakedValueUSD"`
}
