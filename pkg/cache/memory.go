package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/terrycain/tiles-server/pkg/e"
	"github.com/terrycain/tiles-server/pkg/s"
)

// DefaultMemoryEntries is used when no capacity is given.
const DefaultMemoryEntries = 10000

// MemoryStore keeps at most its capacity of entries, evicting the least
// recently used first.
type MemoryStore struct {
	entries *ttlcache.Cache[string, s.CacheEntry]
}

func NewMemoryStore(capacity uint64) *MemoryStore {
	if capacity == 0 {
		capacity = DefaultMemoryEntries
	}
	entries := ttlcache.New[string, s.CacheEntry](
		ttlcache.WithDisableTouchOnHit[string, s.CacheEntry](),
		ttlcache.WithCapacity[string, s.CacheEntry](capacity),
	)
	go entries.Start()
	return &MemoryStore{entries: entries}
}

func (m *MemoryStore) Type() string { return "memory" }

func (m *MemoryStore) Get(_ context.Context, key string) (s.CacheEntry, error) {
	item := m.entries.Get(key)
	if item == nil || item.Value().IsExpired(time.Now()) {
		return s.CacheEntry{}, e.ErrCacheMiss
	}
	return item.Value(), nil
}

func (m *MemoryStore) Put(_ context.Context, entry s.CacheEntry) error {
	ttl := time.Until(entry.ExpiresAt())
	if ttl <= 0 {
		return nil
	}
	m.entries.Set(entry.Key, entry, ttl)
	return nil
}

func (m *MemoryStore) Len() int { return m.entries.Len() }

func (m *MemoryStore) Close() error {
	m.entries.Stop()
	return nil
}
