package cache

import (
	"context"

	"github.com/terrycain/tiles-server/pkg/e"
	"github.com/terrycain/tiles-server/pkg/s"
)

// NoneStore never holds anything. Only the edge tier is in play.
type NoneStore struct{}

func (NoneStore) Type() string { return "none" }

func (NoneStore) Get(context.Context, string) (s.CacheEntry, error) {
	return s.CacheEntry{}, e.ErrCacheMiss
}

func (NoneStore) Put(context.Context, s.CacheEntry) error { return nil }

func (NoneStore) Close() error { return nil }
