package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/terrycain/tiles-server/pkg/metrics"
	"github.com/terrycain/tiles-server/pkg/s"
)

const writeTimeout = 5 * time.Second

// Deferred writes entries to a Store from background workers. The request
// path only ever enqueues.
type Deferred struct {
	store Store
	queue chan s.CacheEntry
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDeferred(store Store, workers, queueSize int) *Deferred {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	d := &Deferred{
		store: store,
		queue: make(chan s.CacheEntry, queueSize),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Submit enqueues entry without blocking. It returns false when the entry was
// dropped because the queue is full or the writer is closed.
func (d *Deferred) Submit(entry s.CacheEntry) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.CacheWrite("dropped")
		return false
	}

	select {
	case d.queue <- entry:
		return true
	default:
		metrics.CacheWrite("dropped")
		log.Debug().Str("key", entry.Key).Msg("Cache write queue full, dropping entry")
		return false
	}
}

func (d *Deferred) worker() {
	defer d.wg.Done()
	for entry := range d.queue {
		d.write(entry)
	}
}

func (d *Deferred) write(entry s.CacheEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := d.store.Put(ctx, entry); err != nil {
		metrics.CacheWrite("error")
		log.Warn().Err(err).Str("key", entry.Key).Str("store", d.store.Type()).Msg("Failed to persist cache entry")
		return
	}
	metrics.CacheWrite("ok")
}

// Close stops intake and waits for queued writes to finish or ctx to expire.
func (d *Deferred) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		log.Warn().Int("pending", len(d.queue)).Msg("Gave up draining cache write queue")
		return ctx.Err()
	}
}
