package web

import (
	"context"
	"time"

	"github.com/terrycain/tiles-server/pkg/archive"
	"github.com/terrycain/tiles-server/pkg/s"
)

//go:generate mockgen -destination=mock_web/mocks.go -package=mock_web . Lister,Registry,ResponseCache
//go:generate mockgen -destination=mock_web/reader.go -package=mock_web github.com/terrycain/tiles-server/pkg/archive Reader

// Lister enumerates archive ids. storage.Backend satisfies it.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// Registry resolves archive ids to open handles. *archive.Registry satisfies it.
type Registry interface {
	Get(ctx context.Context, id string) (*archive.Handle, error)
	Forget(id string)
}

// ResponseCache is the durable tier plus the TTL policy. *cache.Tiered
// satisfies it.
type ResponseCache interface {
	Lookup(ctx context.Context, key string) (s.CacheEntry, bool)
	Store(entry s.CacheEntry) bool
	TTL(kind s.Kind) time.Duration
	EdgeCacheControl(kind s.Kind) string
}
