// Package source defines the range-read contract between the archive reader
// and the object store backends.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/terrycain/tiles-server/pkg/e"
	"github.com/terrycain/tiles-server/pkg/metrics"
	"github.com/terrycain/tiles-server/pkg/s"
)

// Source reads byte ranges of a single archive object. Implementations do not
// retry. A conditional read whose ETag no longer matches fails with
// e.ErrEtagMismatch and returns no data.
type Source interface {
	FetchRange(ctx context.Context, req s.RangeRequest) (s.RangeResponse, error)
	Key() string
}

func Validate(req s.RangeRequest) error {
	if req.Length == 0 {
		return fmt.Errorf("%w: zero length", e.ErrInvalidRange)
	}
	if req.Offset+req.Length < req.Offset {
		return fmt.Errorf("%w: offset %d + length %d overflows", e.ErrInvalidRange, req.Offset, req.Length)
	}
	return nil
}

type instrumented struct {
	Source
	name    string
	timeout time.Duration
}

// Instrument bounds every FetchRange with timeout (when positive) and records
// range read metrics under name.
func Instrument(src Source, name string, timeout time.Duration) Source {
	return &instrumented{Source: src, name: name, timeout: timeout}
}

func (i *instrumented) FetchRange(ctx context.Context, req s.RangeRequest) (s.RangeResponse, error) {
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := i.Source.FetchRange(ctx, req)
	metrics.RangeRead(i.name, result(err), len(resp.Data), time.Since(start).Seconds())
	return resp, err
}

func result(err error) string {
	var transportErr *e.TransportError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, e.ErrEtagMismatch):
		return "etag_mismatch"
	case errors.Is(err, e.ErrArchiveUnavailable):
		return "not_found"
	case errors.Is(err, e.ErrCredentialExpired):
		return "credential_expired"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &transportErr):
		return "transport_error"
	default:
		return "error"
	}
}
