package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"time"

	"github.com/golang-migrate/migrate/v4"
	gomigratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3" // initialises sqlite3
	"github.com/rs/zerolog/log"
	"github.com/terrycain/tiles-server/pkg/e"
	"github.com/terrycain/tiles-server/pkg/s"
)

//go:embed migrations/*.sql
var fs embed.FS

type Backend struct {
	db *sql.DB
}

func NewSQLiteBackend(connectionString string) (*Backend, error) {
	db, err := sql.Open("sqlite3", connectionString)
	if err != nil {
		return &Backend{}, err
	}
	// sqlite serialises writers anyway and in-memory databases are per connection
	db.SetMaxOpenConns(1)

	backend := Backend{
		db: db,
	}

	if err = backend.Migrate(); err != nil {
		return &Backend{}, err
	}

	return &backend, nil
}

func (b *Backend) Type() string { return "sqlite" }

func (b *Backend) Migrate() error {
	driver, err := gomigratesqlite.WithInstance(b.db, &gomigratesqlite.Config{})
	if err != nil {
		return err
	}

	d, err := iofs.New(fs, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", d, "sqlite3", driver)
	if err != nil {
		return err
	}

	log.Info().Msg("Starting database migrations")
	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	log.Info().Msg("Finished database migrations")

	return nil
}

// Get returns the unexpired entry stored under key or e.ErrCacheMiss.
func (b *Backend) Get(ctx context.Context, key string) (s.CacheEntry, error) {
	var r s.CacheEntry
	var storedAt, ttl int64

	err := b.db.QueryRowContext(ctx, GetResponse, key, time.Now().UnixNano()).Scan(&r.Key, &r.Kind, &r.Status, &r.ContentType, &r.ETag, &r.Payload, &storedAt, &ttl)
	if errors.Is(err, sql.ErrNoRows) {
		return s.CacheEntry{}, e.ErrCacheMiss
	} else if err != nil {
		return s.CacheEntry{}, err
	}

	r.StoredAt = time.Unix(0, storedAt).UTC()
	r.TTL = time.Duration(ttl)
	return r, nil
}

func (b *Backend) Put(ctx context.Context, entry s.CacheEntry) error {
	_, err := b.db.ExecContext(ctx, UpsertResponse,
		entry.Key, entry.Kind, entry.Status, entry.ContentType, entry.ETag, entry.Payload,
		entry.StoredAt.UnixNano(), int64(entry.TTL), entry.ExpiresAt().UnixNano())
	return err
}

func (b *Backend) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := b.db.ExecContext(ctx, DeleteExpired, now.UnixNano())
	if err != nil {
		return 0, err
	}
	rowsAffected, _ := result.RowsAffected()
	log.Debug().Int64("rows", rowsAffected).Msg("Purged expired responses")

	return rowsAffected, nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}
