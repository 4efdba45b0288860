package cache

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

type memoryItem struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process Cache.
type Memory struct {
	items *xsync.Map[string, memoryItem]
	now   Clock
}

// NewMemory returns an empty in-memory cache. A nil clock uses time.Now.
func NewMemory(clock Clock) *Memory {
	if clock == nil {
		clock = time.Now
	}
	return &Memory{items: xsync.NewMap[string, memoryItem](), now: clock}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	it, ok := m.items.Load(key)
	if !ok {
		return nil, false, nil
	}
	if !it.expires.IsZero() && !m.now().Before(it.expires) {
		m.items.Delete(key)
		return nil, false, nil
	}
	return it.value, true, nil
}

// Set stores value; ttl <= 0 keeps it until deleted.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	it := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expires = m.now().Add(ttl)
	}
	m.items.Store(key, it)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.items.Delete(key)
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (m *Memory) Sweep() int {
	now := m.now()
	removed := 0
	m.items.Range(func(key string, it memoryItem) bool {
		if !it.expires.IsZero() && !now.Before(it.expires) {
			m.items.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// Len counts stored entries, expired ones included until swept.
func (m *Memory) Len() int { return m.items.Size() }

// RunJanitor sweeps every interval until ctx is done.
func (m *Memory) RunJanitor(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep()
		}
	}
}
