// Package cache holds rendered responses between requests.
package cache

import (
	"context"
	"fmt"

	"github.com/terrycain/tiles-server/pkg/database"
	"github.com/terrycain/tiles-server/pkg/s"
)

// Store is the durable tier. Get returns e.ErrCacheMiss for absent or expired
// keys. Put overwrites wholesale.
type Store interface {
	Type() string
	Get(ctx context.Context, key string) (s.CacheEntry, error)
	Put(ctx context.Context, entry s.CacheEntry) error
	Close() error
}

// GetStore opens the named backend. memoryEntries only applies to the memory
// backend, 0 means DefaultMemoryEntries.
func GetStore(backend, connection string, memoryEntries uint64) (Store, error) {
	switch backend {
	case "none", "":
		return NoneStore{}, nil
	case "memory":
		return NewMemoryStore(memoryEntries), nil
	case "redis":
		return NewRedisStore(connection)
	case "bolt":
		return NewBoltStore(connection)
	case "sqlite", "postgres":
		return database.GetBackend(backend, connection)
	default:
		return nil, fmt.Errorf("invalid cache backend %q", backend)
	}
}
