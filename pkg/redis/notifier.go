package redis

import (
	"context"
	"fmt"
)

const JobsStream = "ledgersync:jobs"

// SyncEvent is published after a sync job persisted new rows.
type SyncEvent struct {
	Chain    string `json:"chain"`
	Category string `json:"category"`
	Cursor   int64  `json:"cursor"`
	Inserted int64  `json:"inserted"`
	Pages    int    `json:"pages"`
}

// SyncChannel is the Pub/Sub channel of a (chain, category) stream.
func SyncChannel(chain, category string) string {
	return fmt.Sprintf("ledgersync:%s:%s", chain, category)
}

// NotifySynced publishes ev on its channel and appends it to the jobs stream.
func (c *Client) NotifySynced(ctx context.Context, ev SyncEvent) {
	c.PublishJSON(ctx, SyncChannel(ev.Chain, ev.Category), ev)
	c.XAdd(ctx, JobsStream, map[string]interface{}{
		"chain":    ev.Chain,
		"category": ev.Category,
		"cursor":   ev.Cursor,
		"inserted": ev.Inserted,
		"pages":    ev.Pages,
	})
}
