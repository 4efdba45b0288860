package ledger

import "time"

const TokenPricesTableName = "token_prices"

// TokenPriceColumns defines the schema for the token_prices table.
var TokenPriceColumns = []ColumnDef{
	{Name: "chain", Type: "LowCardinality(String)"},
	{Name: "token_address", Type: "String", Codec: "ZSTD(1)"},
	{Name: "timestamp", Type: "DateTime('UTC')", Codec: "Delta, ZSTD(1)"},
	{Name: "price", Type: "Float64"},
	{Name: "updated_at", Type: "DateTime64(3, 'UTC')"},
}

// TokenPrice is the USD price of a token at a bucket boundary (top of hour or midnight UTC).
// Rows are written by the price ingester; ReplacingMergeTree on updated_at keeps the latest write.
type TokenPrice struct {
	Chain        string    `ch:"chain" json:"chain"`
	TokenAddress string    `ch:"token_address" json:"tokenAddress"`
	Timestamp    time.Time `ch:"timestamp" json:"timestamp"`
	Price        float64   `ch:"price" json:"price"`
	UpdatedAt    time.Time `ch:"updated_at" json:"updatedAt"`
}
