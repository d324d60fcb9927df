package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis"
	"github.com/terrycain/tiles-server/pkg/e"
	"github.com/terrycain/tiles-server/pkg/s"
)

const redisKeyPrefix = "tiles:response:"

type RedisStore struct {
	db *redis.Client
}

// NewRedisStore accepts a redis:// URL or a bare host:port and verifies the
// connection.
func NewRedisStore(connection string) (*RedisStore, error) {
	options, err := redis.ParseURL(connection)
	if err != nil {
		options = &redis.Options{Addr: connection}
	}
	db := redis.NewClient(options)
	if err := db.Ping().Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", options.Addr, err)
	}
	return &RedisStore{db: db}, nil
}

func (r *RedisStore) Type() string { return "redis" }

func (r *RedisStore) Get(ctx context.Context, key string) (s.CacheEntry, error) {
	out, err := r.db.WithContext(ctx).Get(redisKeyPrefix + key).Bytes()
	if err == redis.Nil {
		return s.CacheEntry{}, e.ErrCacheMiss
	} else if err != nil {
		return s.CacheEntry{}, err
	}

	entry, err := decodeEntry(out)
	if err != nil {
		return s.CacheEntry{}, fmt.Errorf("decoding %s: %w", key, err)
	}
	if entry.IsExpired(time.Now()) {
		return s.CacheEntry{}, e.ErrCacheMiss
	}
	return entry, nil
}

func (r *RedisStore) Put(ctx context.Context, entry s.CacheEntry) error {
	ttl := time.Until(entry.ExpiresAt())
	if ttl <= 0 {
		return nil
	}
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Set(redisKeyPrefix+entry.Key, data, ttl).Err()
}

func (r *RedisStore) Close() error {
	return r.db.Close()
}
