package archive

import (
	"net/http"
	"time"

	"github.com/terrycain/tiles-server/pkg/s"
	"github.com/terrycain/tiles-server/pkg/storage/source"
)

// DirectBackend addresses objects with the process' own identity.
type DirectBackend interface {
	Type() string
	DirectSource(id string) (source.Source, error)
}

// SourceOpener turns credentials into instrumented sources. Direct credentials
// go through the storage backend, presigned ones through a shared HTTP client.
type SourceOpener struct {
	Backend DirectBackend
	Client  *http.Client
	Timeout time.Duration
}

func NewSourceOpener(backend DirectBackend, timeout time.Duration) *SourceOpener {
	return &SourceOpener{
		Backend: backend,
		Client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        256,
				MaxIdleConnsPerHost: 64,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Timeout: timeout,
	}
}

func (o *SourceOpener) Open(cred s.Credential) (source.Source, error) {
	if cred.Direct() {
		src, err := o.Backend.DirectSource(cred.ArchiveID)
		if err != nil {
			return nil, err
		}
		return source.Instrument(src, o.Backend.Type(), o.Timeout), nil
	}
	return source.Instrument(source.NewPresigned(o.Client, cred), "presigned", o.Timeout), nil
}
