package subgraph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Num is a numeric scalar as the subgraph serialises it: BigInt and BigDecimal arrive as
// JSON strings, Int as a JSON number. The textual form is kept verbatim.
type Num string

func (n *Num) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = Num(s)
		return nil
	}
	*n = Num(b)
	return nil
}

func (n Num) String() string { return string(n) }

// Int64 parses the value as a base-10 integer.
func (n Num) Int64() (int64, error) {
	if n == "" {
		return 0, fmt.Errorf("empty number")
	}
	return strconv.ParseInt(string(n), 10, 64)
}

// Float64 parses the value as a float; "" is 0.
func (n Num) Float64() float64 {
	if n == "" {
		return 0
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return 0
	}
	return f
}

// EventKind tags raw upstream records.
type EventKind string

const (
	KindJoinExitV2 EventKind = "join_exit_v2"
	KindAddRemove  EventKind = "add_remove"
	KindSwapV2     EventKind = "swap_v2"
	KindSwapV3     EventKind = "swap_v3"
)

// RawEvent is implemented by every raw event variant.
type RawEvent interface {
	Kind() EventKind
	EventID() string
	Block() (int64, error)
}

type TokenRef struct {
	Address  string `json:"address"`
	Decimals int32  `json:"decimals"`
}

type PoolRef struct {
	ID         string     `json:"id"`
	Address    string     `json:"address"`
	TokensList []string   `json:"tokensList"`
	Tokens     []TokenRef `json:"tokens"`
}

// TokenAddresses returns the pool's token list in index order, whichever shape the schema uses.
func (p PoolRef) TokenAddresses() []string {
	if len(p.TokensList) > 0 {
		return p.TokensList
	}
	out := make([]string, len(p.Tokens))
	for i, t := range p.Tokens {
		out[i] = t.Address
	}
	return out
}

// RawJoinExitV2 is a v2 vault joinExit record.
type RawJoinExitV2 struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"` // Join | Exit
	Sender    string  `json:"sender"`
	Amounts   []Num   `json:"amounts"`
	Pool      PoolRef `json:"pool"`
	BlockNum  Num     `json:"block"`
	Timestamp Num     `json:"timestamp"`
	Tx        string  `json:"tx"`
}

func (r RawJoinExitV2) Kind() EventKind       { return KindJoinExitV2 }
func (r RawJoinExitV2) EventID() string       { return r.ID }
func (r RawJoinExitV2) Block() (int64, error) { return r.BlockNum.Int64() }

// RawAddRemove is a v3 vault (and CoW AMM) liquidity add/remove record.
type RawAddRemove struct {
	ID              string  `json:"id"`
	Type            string  `json:"type"` // Add | Remove
	Sender          string  `json:"sender"`
	Amounts         []Num   `json:"amounts"`
	Pool            PoolRef `json:"pool"`
	BlockNumber     Num     `json:"blockNumber"`
	BlockTimestamp  Num     `json:"blockTimestamp"`
	TransactionHash string  `json:"transactionHash"`
	LogIndex        Num     `json:"logIndex"`
}

func (r RawAddRemove) Kind() EventKind       { return KindAddRemove }
func (r RawAddRemove) EventID() string       { return r.ID }
func (r RawAddRemove) Block() (int64, error) { return r.BlockNumber.Int64() }

// RawSwapV2 is a v2 vault swap record.
type RawSwapV2 struct {
	ID             string  `json:"id"`
	Caller         string  `json:"caller"`
	TokenIn        string  `json:"tokenIn"`
	TokenOut       string  `json:"tokenOut"`
	TokenAmountIn  Num     `json:"tokenAmountIn"`
	TokenAmountOut Num     `json:"tokenAmountOut"`
	PoolID         PoolRef `json:"poolId"`
	BlockNum       Num     `json:"block"`
	Timestamp      Num     `json:"timestamp"`
	Tx             string  `json:"tx"`
}

func (r RawSwapV2) Kind() EventKind       { return KindSwapV2 }
func (r RawSwapV2) EventID() string       { return r.ID }
func (r RawSwapV2) Block() (int64, error) { return r.BlockNum.Int64() }

type UserRef struct {
	ID string `json:"id"`
}

// RawSwapV3 is a v3 vault (and CoW AMM) swap record.
type RawSwapV3 struct {
	ID              string  `json:"id"`
	Pool            string  `json:"pool"`
	TokenIn         string  `json:"tokenIn"`
	TokenOut        string  `json:"tokenOut"`
	TokenAmountIn   Num     `json:"tokenAmountIn"`
	TokenAmountOut  Num     `json:"tokenAmountOut"`
	User            UserRef `json:"user"`
	BlockNumber     Num     `json:"blockNumber"`
	BlockTimestamp  Num     `json:"blockTimestamp"`
	TransactionHash string  `json:"transactionHash"`
	LogIndex        Num     `json:"logIndex"`
}

func (r RawSwapV3) Kind() EventKind       { return KindSwapV3 }
func (r RawSwapV3) EventID() string       { return r.ID }
func (r RawSwapV3) Block() (int64, error) { return r.BlockNumber.Int64() }

// RawPoolSnapshot is the cumulative state of a pool at a day boundary, normalised across schemas.
// Per-token totals are set by schemas that track them (v3); v2 only reports USD totals.
type RawPoolSnapshot struct {
	ID              string
	PoolID          string
	Timestamp       int64
	Tokens          []string
	Amounts         []string
	TotalShares     string
	TotalVolumes    []string
	TotalFees       []string
	TotalSurpluses  []string
	SwapVolumeUSD   float64
	SwapFeesUSD     float64
	LiquidityUSD    float64
	SwapsCount      int64
	HoldersCount    int64
	HasTokenTotals  bool
	HasUSDAggregate bool
}
