package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	gomigratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	_ "github.com/lib/pq" // initialises postgres
	"github.com/rs/zerolog/log"
	"github.com/terrycain/tiles-server/pkg/e"
	"github.com/terrycain/tiles-server/pkg/s"
)

//go:embed migrations/*.sql
var fs embed.FS

type Backend struct {
	db *sql.DB
}

func NewPostgresBackend(connectionString string) (*Backend, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return &Backend{}, err
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)

	backend := Backend{
		db: db,
	}

	if err = backend.Migrate(); err != nil {
		return &Backend{}, err
	}

	return &backend, nil
}

func (b *Backend) Type() string { return "postgres" }

func (b *Backend) Migrate() error {
	driver, err := gomigratepostgres.WithInstance(b.db, &gomigratepostgres.Config{})
	if err != nil {
		return err
	}

	d, err := iofs.New(fs, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", d, "postgres", driver)
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

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("storing %s: %s: %w", entry.Key, pqErr.Code.Name(), err)
	}
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
