package snapshot

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dexsync/ledgersync/pkg/db/models/ledger"
	"github.com/dexsync/ledgersync/pkg/subgraph"
)

// roll derives the snapshot of day from the upstream cumulative row and the previous
// persisted snapshot (nil when the pool has no history). Cumulative totals never fall
// below the previous day and daily deltas are clamped at zero.
func roll(chain string, version int, day int64, raw subgraph.RawPoolSnapshot, prev *ledger.PoolSnapshot, book map[string]float64) ledger.PoolSnapshot {
	if prev == nil {
		prev = &ledger.PoolSnapshot{}
	}
	s := ledger.PoolSnapshot{
		ID:              ledger.SnapshotID(raw.PoolID, day),
		Chain:           chain,
		PoolID:          raw.PoolID,
		ProtocolVersion: version,
		Timestamp:       day,
		TotalShares:     orZero(raw.TotalShares),
		SwapsCount:      max(raw.SwapsCount, prev.SwapsCount),
		HoldersCount:    raw.HoldersCount,
		Tokens:          raw.Tokens,
		Amounts:         raw.Amounts,
	}
	s.TotalSharesNum = parse(s.TotalShares).InexactFloat64()

	if raw.HasTokenTotals {
		prevIdx := indexOf(prev.Tokens)
		volumes, vol24 := cumulative(raw.Tokens, raw.TotalVolumes, prev.TotalVolumes, prevIdx, book)
		fees, fee24 := cumulative(raw.Tokens, raw.TotalFees, prev.TotalFees, prevIdx, book)
		surpluses, surplus24 := cumulative(raw.Tokens, raw.TotalSurpluses, prev.TotalSurpluses, prevIdx, book)

		s.TotalVolumes, s.TotalFees, s.TotalSurpluses = volumes, fees, surpluses
		s.Volume24h = vol24.InexactFloat64()
		s.Fees24h = fee24.InexactFloat64()
		s.Surplus24h = surplus24.InexactFloat64()
		s.TotalSwapVolume = prev.TotalSwapVolume + s.Volume24h
		s.TotalSwapFee = prev.TotalSwapFee + s.Fees24h
		s.TotalSurplus = prev.TotalSurplus + s.Surplus24h
	} else {
		s.TotalSwapVolume = max(raw.SwapVolumeUSD, prev.TotalSwapVolume)
		s.TotalSwapFee = max(raw.SwapFeesUSD, prev.TotalSwapFee)
		s.Volume24h = s.TotalSwapVolume - prev.TotalSwapVolume
		s.Fees24h = s.TotalSwapFee - prev.TotalSwapFee
		s.TotalSurplus = prev.TotalSurplus
	}

	s.TotalLiquidity = liquidity(s.Tokens, s.Amounts, book)
	if s.TotalLiquidity == 0 && raw.HasUSDAggregate {
		s.TotalLiquidity = raw.LiquidityUSD
	}
	s.SharePrice = sharePrice(s.TotalLiquidity, s.TotalSharesNum)
	return s
}

// carry synthesises the snapshot of day for a pool without an upstream row: the previous
// state with no daily activity, revalued at the day's prices when any are known.
func carry(prev ledger.PoolSnapshot, day int64, book map[string]float64) ledger.PoolSnapshot {
	s := prev
	s.ID = ledger.SnapshotID(prev.PoolID, day)
	s.Timestamp = day
	s.Volume24h, s.Fees24h, s.Surplus24h = 0, 0, 0
	if len(book) > 0 {
		if liq := liquidity(s.Tokens, s.Amounts, book); liq > 0 {
			s.TotalLiquidity = liq
			s.SharePrice = sharePrice(liq, s.TotalSharesNum)
		}
	}
	return s
}

// cumulative returns per-token running totals (never below the previous day) and the USD
// value of the day's clamped increments.
func cumulative(tokens, today, prev []string, prevIdx map[string]int, book map[string]float64) ([]string, decimal.Decimal) {
	out := make([]string, len(today))
	total := decimal.Zero
	for i, v := range today {
		cur := parse(v)
		before := decimal.Zero
		if i < len(tokens) {
			if j, ok := prevIdx[strings.ToLower(tokens[i])]; ok && j < len(prev) {
				before = parse(prev[j])
			}
		}
		if cur.LessThan(before) {
			cur = before
		}
		out[i] = cur.String()
		if i < len(tokens) {
			delta := cur.Sub(before)
			total = total.Add(delta.Mul(decimal.NewFromFloat(book[strings.ToLower(tokens[i])])))
		}
	}
	return out, total
}

func liquidity(tokens, amounts []string, book map[string]float64) float64 {
	total := decimal.Zero
	for i, t := range tokens {
		if i >= len(amounts) {
			break
		}
		total = total.Add(parse(amounts[i]).Mul(decimal.NewFromFloat(book[strings.ToLower(t)])))
	}
	return total.InexactFloat64()
}

func sharePrice(liquidity, shares float64) float64 {
	if shares <= 0 {
		return 0
	}
	return liquidity / shares
}

func indexOf(tokens []string) map[string]int {
	out := make(map[string]int, len(tokens))
	for i, t := range tokens {
		out[strings.ToLower(t)] = i
	}
	return out
}

func parse(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
