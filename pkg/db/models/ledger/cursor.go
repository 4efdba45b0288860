package ledger

import "time"

// Cursor is the watermark of a (category, chain) stream: the highest block number
// (event categories) or midnight-UTC day timestamp (snapshot categories) that has
// been durably persisted.
type Cursor struct {
	Category  Category  `json:"category"`
	Chain     string    `json:"chain"`
	Value     int64     `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}
