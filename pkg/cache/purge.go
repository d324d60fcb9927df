package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Purger is implemented by stores that keep expired rows until told otherwise.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// PurgeLoop removes expired entries every interval until ctx is done. Stores
// that expire on their own return immediately.
func PurgeLoop(ctx context.Context, store Store, interval time.Duration) error {
	purger, ok := store.(Purger)
	if !ok || interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if _, err := purger.PurgeExpired(ctx, now); err != nil {
				log.Warn().Err(err).Str("store", store.Type()).Msg("Failed to purge expired cache entries")
			}
		}
	}
}
