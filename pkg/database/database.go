// Package database stores rendered responses in a SQL database for the
// durable cache tier.
package database

import (
	"context"
	"errors"
	"time"

	"github.com/terrycain/tiles-server/pkg/database/postgres"
	"github.com/terrycain/tiles-server/pkg/database/sqlite"
	"github.com/terrycain/tiles-server/pkg/s"
)

type Backend interface {
	Type() string
	// Get returns e.ErrCacheMiss when nothing unexpired is stored under key.
	Get(ctx context.Context, key string) (s.CacheEntry, error)
	// Put replaces any existing entry for the same key.
	Put(ctx context.Context, entry s.CacheEntry) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	Close() error
}

func GetBackend(backend, connectionString string) (Backend, error) {
	switch backend {
	case "sqlite":
		return sqlite.NewSQLiteBackend(connectionString)
	case "postgres":
		return postgres.NewPostgresBackend(connectionString)
	default:
		return nil, errors.New("invalid database backend")
	}
}
