// Package archive keeps one open PMTiles reader per archive id for the life of
// the process.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/terrycain/tiles-server/pkg/metrics"
	"github.com/terrycain/tiles-server/pkg/pmtiles"
	"github.com/terrycain/tiles-server/pkg/s"
	"github.com/terrycain/tiles-server/pkg/storage/source"
	"golang.org/x/sync/singleflight"
)

// Reader is what the web layer needs from an open archive.
type Reader interface {
	Header(ctx context.Context) (pmtiles.Header, string, error)
	Metadata(ctx context.Context) (json.RawMessage, error)
	Tile(ctx context.Context, z uint8, x, y uint32) ([]byte, error)
}

// Handle binds an archive id to the credential, source and reader built for it.
type Handle struct {
	ID         string
	Credential s.Credential
	Source     source.Source
	Reader     Reader
	CreatedAt  time.Time
}

// Issuer hands out credentials. *credentials.Broker satisfies it.
type Issuer interface {
	Issue(ctx context.Context, id string) (s.Credential, error)
	NeedsRefresh(cred s.Credential) bool
}

// Opener builds a range source for a credential.
type Opener interface {
	Open(cred s.Credential) (source.Source, error)
}

type Registry struct {
	issuer        Issuer
	opener        Opener
	readerOptions []pmtiles.Option

	mu      sync.RWMutex
	handles map[string]*Handle
	group   singleflight.Group
}

func NewRegistry(issuer Issuer, opener Opener, readerOptions ...pmtiles.Option) *Registry {
	return &Registry{
		issuer:        issuer,
		opener:        opener,
		readerOptions: readerOptions,
		handles:       make(map[string]*Handle),
	}
}

// Get returns the live handle for id, building it on first use. Concurrent
// callers for the same id share one build. A handle whose credential is about
// to expire is replaced.
func (r *Registry) Get(ctx context.Context, id string) (*Handle, error) {
	if h := r.lookup(id); h != nil {
		return h, nil
	}

	// The build outlives any single caller, so it must not inherit their cancellation.
	buildCtx := context.WithoutCancel(ctx)
	v, err, shared := r.group.Do(id, func() (interface{}, error) {
		if h := r.lookup(id); h != nil {
			return h, nil
		}
		return r.build(buildCtx, id)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debug().Str("archive", id).Msg("Joined in-flight archive handle build")
	}
	return v.(*Handle), nil
}

func (r *Registry) lookup(id string) *Handle {
	r.mu.RLock()
	h := r.handles[id]
	r.mu.RUnlock()
	if h == nil || r.issuer.NeedsRefresh(h.Credential) {
		return nil
	}
	return h
}

func (r *Registry) build(ctx context.Context, id string) (*Handle, error) {
	cred, err := r.issuer.Issue(ctx, id)
	if err != nil {
		return nil, err
	}
	src, err := r.opener.Open(cred)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", cred.Key, err)
	}

	h := &Handle{
		ID:         id,
		Credential: cred,
		Source:     src,
		Reader:     pmtiles.NewReader(src, r.readerOptions...),
		CreatedAt:  time.Now(),
	}

	r.mu.Lock()
	_, replaced := r.handles[id]
	r.handles[id] = h
	r.mu.Unlock()

	metrics.HandleBuilt()
	log.Debug().Str("archive", id).Str("key", cred.Key).Bool("replaced", replaced).Msg("Built archive handle")
	return h, nil
}

// Forget drops the handle for id, e.g. after the archive was deleted.
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	delete(r.handles, id)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
