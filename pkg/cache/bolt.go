package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/rs/zerolog/log"
	"github.com/terrycain/tiles-server/pkg/e"
	"github.com/terrycain/tiles-server/pkg/s"
)

const (
	// owner read/write only
	boltFileMode = 0600
	boltTimeout  = time.Second
)

var responsesBucket = []byte("responses")

type BoltStore struct {
	db   *bolt.DB
	Path string
}

func NewBoltStore(path string) (*BoltStore, error) {
	if path == "" {
		return nil, &e.ConfigurationError{Field: "cache-connection", Reason: "bolt needs a file path"}
	}
	db, err := bolt.Open(path, boltFileMode, &bolt.Options{Timeout: boltTimeout})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(responsesBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db, Path: path}, nil
}

func (b *BoltStore) Type() string { return "bolt" }

func (b *BoltStore) Get(_ context.Context, key string) (s.CacheEntry, error) {
	var raw []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		// Values are only valid inside the transaction.
		if v := tx.Bucket(responsesBucket).Get([]byte(key)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return s.CacheEntry{}, err
	}
	if raw == nil {
		return s.CacheEntry{}, e.ErrCacheMiss
	}

	entry, err := decodeEntry(raw)
	if err != nil {
		return s.CacheEntry{}, fmt.Errorf("decoding %s: %w", key, err)
	}
	if entry.IsExpired(time.Now()) {
		return s.CacheEntry{}, e.ErrCacheMiss
	}
	return entry, nil
}

func (b *BoltStore) Put(_ context.Context, entry s.CacheEntry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(responsesBucket).Put([]byte(entry.Key), data)
	})
}

// PurgeExpired removes entries whose TTL has passed.
func (b *BoltStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	var purged int64
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(responsesBucket)
		var expired [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			if entry, err := decodeEntry(v); err != nil || entry.IsExpired(now) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			purged++
		}
		return nil
	})
	if purged > 0 {
		log.Debug().Int64("rows", purged).Msg("Purged expired responses")
	}
	return purged, err
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}
