// Package enrich values ledger entries in USD from time-bucketed token prices.
package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dexsync/ledgersync/pkg/db"
	"github.com/dexsync/ledgersync/pkg/db/models/ledger"
	"github.com/dexsync/ledgersync/pkg/metrics"
	"github.com/dexsync/ledgersync/pkg/utils"
)

// DailyBucketAge is the age from which prices are only kept at daily resolution.
const DailyBucketAge = 30 * 24 * time.Hour

const secondsPerHour int64 = 3600

// Bucket returns the price bucket of ts as seen at now: midnight UTC of its day when ts is
// at least DailyBucketAge old, otherwise ts rounded to the nearest hour (half up).
func Bucket(ts int64, now time.Time) int64 {
	if now.Unix()-ts >= int64(DailyBucketAge/time.Second) {
		return utils.MidnightUTC(ts)
	}
	return floorDiv(ts+secondsPerHour/2, secondsPerHour) * secondsPerHour
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Engine prices ledger entries. Now defaults to time.Now.
type Engine struct {
	prices db.PriceStore
	logger *zap.Logger
	now    func() time.Time
}

func NewEngine(prices db.PriceStore, logger *zap.Logger, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{prices: prices, logger: logger, now: now}
}

// Enrich returns a copy of entries, in the same order, with USD values filled in. Prices
// are fetched once per distinct bucket. A bucket that cannot be fetched leaves its entries
// at zero value; a token missing from its bucket is valued at zero.
func (e *Engine) Enrich(ctx context.Context, entries []ledger.LedgerEntry, chain string) []ledger.LedgerEntry {
	now := e.now()
	out := make([]ledger.LedgerEntry, len(entries))
	buckets := make([]int64, len(entries))
	books := map[int64]map[string]float64{}

	for i, entry := range entries {
		out[i] = cloneEntry(entry)
		b := Bucket(entry.BlockTimestamp, now)
		buckets[i] = b
		if _, ok := books[b]; ok {
			continue
		}
		book, err := e.pricesAt(ctx, b, chain)
		if err != nil {
			metrics.PriceBucketFailures.WithLabelValues(chain).Inc()
			e.logger.Warn("Price bucket unavailable, valuing entries at zero",
				zap.String("chain", chain),
				zap.Int64("bucket", b),
				zap.Error(err))
			book = map[string]float64{}
		}
		books[b] = book
	}

	for i := range out {
		Value(&out[i], books[buckets[i]])
	}
	return out
}

// Value prices entry in place from book, keyed by lowercased token address.
func Value(entry *ledger.LedgerEntry, book map[string]float64) {
	in := decimal.Zero
	for j := range entry.Payload.Tokens {
		tok := &entry.Payload.Tokens[j]
		v := tokenValue(tok.Amount, book[strings.ToLower(tok.Address)])
		tok.ValueUSD = v.InexactFloat64()
		in = in.Add(v)
	}
	entry.ValueUSD = in.InexactFloat64()

	if s := entry.Payload.Swap; s != nil {
		outValue := tokenValue(s.AmountOut, book[strings.ToLower(s.TokenOut)])
		s.ValueOutUSD = outValue.InexactFloat64()
		if in.IsZero() {
			entry.ValueUSD = s.ValueOutUSD
		}
	}
}

// PricesForDay returns the daily price book of the day containing ts.
func (e *Engine) PricesForDay(ctx context.Context, ts int64, chain string) (map[string]float64, error) {
	return e.pricesAt(ctx, utils.MidnightUTC(ts), chain)
}

func (e *Engine) pricesAt(ctx context.Context, bucket int64, chain string) (map[string]float64, error) {
	quotes, err := e.prices.GetPricesAtBucket(ctx, bucket, chain)
	if err != nil {
		return nil, fmt.Errorf("prices at %d: %w", bucket, err)
	}
	book := make(map[string]float64, len(quotes))
	for _, q := range quotes {
		book[strings.ToLower(q.TokenAddress)] = q.Price
	}
	return book, nil
}

func tokenValue(amount string, price float64) decimal.Decimal {
	if price == 0 || amount == "" {
		return decimal.Zero
	}
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero
	}
	return amt.Mul(decimal.NewFromFloat(price))
}

func cloneEntry(in ledger.LedgerEntry) ledger.LedgerEntry {
	out := in
	out.Payload.Tokens = append([]ledger.TokenAmount(nil), in.Payload.Tokens...)
	if in.Payload.Swap != nil {
		s := *in.Payload.Swap
		out.Payload.Swap = &s
	}
	return out
}
