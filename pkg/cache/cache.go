// Package cache is the key/value TTL cache injected into upstream clients.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque values for a bounded time. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Clock returns the current time. Tests swap it to expire entries deterministically.
type Clock func() time.Time
