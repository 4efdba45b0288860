package ledger

// EntryType is the kind of a ledger event.
type EntryType string

const (
	EntryJoin EntryType = "JOIN"
	EntryExit EntryType = "EXIT"
	EntrySwap EntryType = "SWAP"
)

// TokenAmount is one token leg of an event. Amount is a decimal string in token units.
type TokenAmount struct {
	Address  string  `json:"address"`
	Amount   string  `json:"amount"`
	ValueUSD float64 `json:"valueUSD"`
}

// SwapDetails carries the out leg of a swap; the in leg lives in Payload.Tokens.
type SwapDetails struct {
	TokenOut    string  `json:"tokenOut"`
	AmountOut   string  `json:"amountOut"`
	ValueOutUSD float64 `json:"valueOutUSD"`
}

// Payload is persisted as JSONB.
type Payload struct {
	Tokens []TokenAmount `json:"tokens"`
	Swap   *SwapDetails  `json:"swap,omitempty"`
}

// LedgerEntry is a canonical join, exit or swap. ID is the tx hash followed by the
// decimal log index and is unique per chain. Rows are insert-only; only the USD
// fields may be filled in later.
type LedgerEntry struct {
	ID              string    `json:"id"`
	Chain           string    `json:"chain"`
	ProtocolVersion int       `json:"protocolVersion"`
	Type            EntryType `json:"type"`
	PoolID          string    `json:"poolId"`
	UserAddress     string    `json:"userAddress"`
	TxHash          string    `json:"txHash"`
	BlockNumber     int64     `json:"blockNumber"`
	BlockTimestamp  int64     `json:"blockTimestamp"`
	LogIndex        int64     `json:"logIndex"`
	ValueUSD        float64   `json:"valueUSD"`
	Payload         Payload   `json:"payload"`
}

// EntryFilter selects ledger rows for FindLatest and FindMany. Zero fields are ignored.
type EntryFilter struct {
	Chain           string
	ProtocolVersion int
	Types           []EntryType
	PoolID          string
	UserAddress     string
	FromBlock       int64
	ZeroValueOnly   bool
	Limit           int
}
