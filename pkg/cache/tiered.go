package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alecthomas/units"
	"github.com/rs/zerolog/log"
	"github.com/terrycain/tiles-server/pkg/e"
	"github.com/terrycain/tiles-server/pkg/metrics"
	"github.com/terrycain/tiles-server/pkg/s"
)

type Config struct {
	// ListTTL applies to archive listings, TileTTL to everything derived from
	// an archive.
	ListTTL      time.Duration
	TileTTL      time.Duration
	MaxEntrySize int64
}

// ParseSize reads sizes such as "8MB" or "512KiB".
func ParseSize(size string) (int64, error) {
	n, err := units.ParseStrictBytes(size)
	if err != nil {
		return 0, &e.ConfigurationError{Field: "cache-max-entry-size", Reason: err.Error()}
	}
	return n, nil
}

// Tiered fronts the durable store. The edge tier has no client side; it only
// sees the Cache-Control header built from EdgeCacheControl.
type Tiered struct {
	store  Store
	writer *Deferred
	config Config
	now    func() time.Time
}

func NewTiered(store Store, writer *Deferred, config Config) *Tiered {
	return &Tiered{store: store, writer: writer, config: config, now: time.Now}
}

func (t *Tiered) TTL(kind s.Kind) time.Duration {
	if kind == s.KindListing {
		return t.config.ListTTL
	}
	return t.config.TileTTL
}

func (t *Tiered) EdgeCacheControl(kind s.Kind) string {
	ttl := t.TTL(kind)
	if ttl <= 0 {
		return "no-cache"
	}
	return fmt.Sprintf("public, max-age=%d", int(ttl.Seconds()))
}

// Lookup consults the durable tier. Store errors count as misses.
func (t *Tiered) Lookup(ctx context.Context, key string) (s.CacheEntry, bool) {
	entry, err := t.store.Get(ctx, key)
	switch {
	case err == nil:
		metrics.CacheLookup(t.store.Type(), "hit")
		return entry, true
	case errors.Is(err, e.ErrCacheMiss):
		metrics.CacheLookup(t.store.Type(), "miss")
	default:
		metrics.CacheLookup(t.store.Type(), "error")
		log.Warn().Err(err).Str("key", key).Msg("Cache lookup failed")
	}
	return s.CacheEntry{}, false
}

// Store schedules entry for a background write and returns immediately.
// Entries over the size limit or with no TTL are skipped.
func (t *Tiered) Store(entry s.CacheEntry) bool {
	if entry.TTL == 0 {
		entry.TTL = t.TTL(entry.Kind)
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = t.now().UTC()
	}
	if entry.TTL <= 0 {
		return false
	}
	if t.config.MaxEntrySize > 0 && int64(len(entry.Payload)) > t.config.MaxEntrySize {
		metrics.CacheWrite("too_large")
		log.Debug().Str("key", entry.Key).Int("size", len(entry.Payload)).Msg("Response too large to cache")
		return false
	}
	return t.writer.Submit(entry)
}
