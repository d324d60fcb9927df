package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/terrycain/tiles-server/pkg/e"
	"github.com/terrycain/tiles-server/pkg/s"
	"github.com/terrycain/tiles-server/pkg/utils"
)

// Presigned reads ranges through a presigned URL using a shared HTTP client.
type Presigned struct {
	client *http.Client
	cred   s.Credential
	now    func() time.Time
}

func NewPresigned(client *http.Client, cred s.Credential) *Presigned {
	if client == nil {
		client = http.DefaultClient
	}
	return &Presigned{client: client, cred: cred, now: time.Now}
}

func (p *Presigned) Key() string { return p.cred.Key }

func (p *Presigned) Credential() s.Credential { return p.cred }

func (p *Presigned) FetchRange(ctx context.Context, req s.RangeRequest) (s.RangeResponse, error) {
	if err := Validate(req); err != nil {
		return s.RangeResponse{}, err
	}
	if p.cred.Expired(p.now()) {
		return s.RangeResponse{}, fmt.Errorf("%s: %w at %s", p.cred.Key, e.ErrCredentialExpired, p.cred.ExpiresAt().Format(time.RFC3339))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cred.URL, nil)
	if err != nil {
		return s.RangeResponse{}, &e.TransportError{Key: p.cred.Key, Err: err}
	}
	httpReq.Header.Set("Range", req.Header())
	if req.IfMatchETag != "" {
		httpReq.Header.Set("If-Match", req.IfMatchETag)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return s.RangeResponse{}, &e.TransportError{Key: p.cred.Key, Err: err}
	}
	defer resp.Body.Close()

	result := s.RangeResponse{
		ETag:         resp.Header.Get("ETag"),
		CacheControl: resp.Header.Get("Cache-Control"),
	}
	if expires, err := http.ParseTime(resp.Header.Get("Expires")); err == nil {
		result.Expires = &expires
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		if cr, err := utils.ParseContentRange(resp.Header.Get("Content-Range")); err == nil && cr.Start >= 0 && uint64(cr.Start) != req.Offset {
			return s.RangeResponse{}, &e.TransportError{
				Key:    p.cred.Key,
				Status: resp.StatusCode,
				Err:    fmt.Errorf("store answered range starting at %d, wanted %d", cr.Start, req.Offset),
			}
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, int64(req.Length)))
		if err != nil {
			return s.RangeResponse{}, &e.TransportError{Key: p.cred.Key, Status: resp.StatusCode, Err: err}
		}
		result.Data = data
		return result, nil
	case http.StatusOK:
		// Range ignored, the whole object came back.
		if _, err := io.CopyN(io.Discard, resp.Body, int64(req.Offset)); err != nil {
			if errors.Is(err, io.EOF) {
				result.Data = []byte{}
				return result, nil
			}
			return s.RangeResponse{}, &e.TransportError{Key: p.cred.Key, Status: resp.StatusCode, Err: err}
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, int64(req.Length)))
		if err != nil {
			return s.RangeResponse{}, &e.TransportError{Key: p.cred.Key, Status: resp.StatusCode, Err: err}
		}
		result.Data = data
		return result, nil
	case http.StatusRequestedRangeNotSatisfiable:
		result.Data = []byte{}
		return result, nil
	case http.StatusPreconditionFailed:
		return s.RangeResponse{}, fmt.Errorf("%s: %w", p.cred.Key, e.ErrEtagMismatch)
	case http.StatusNotFound:
		return s.RangeResponse{}, fmt.Errorf("%s: %w", p.cred.Key, e.ErrArchiveUnavailable)
	default:
		return s.RangeResponse{}, &e.TransportError{Key: p.cred.Key, Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}
}
