package e

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrArchiveUnavailable = errors.New("archive not found")
	ErrTileNotFound       = errors.New("tile not found")
	ErrEtagMismatch       = errors.New("etag mismatch")
	ErrCredentialExpired  = errors.New("credential expired")
	ErrInvalidRange       = errors.New("invalid range")
	ErrCacheMiss          = errors.New("cache miss")
	ErrNotFound           = errors.New("not found")
	ErrNotImplemented     = errors.New("not implemented")
)

// TransportError wraps a failed call to the object store. Status is 0 when no
// HTTP response was received at all.
type TransportError struct {
	Key    string
	Status int
	Err    error
}

func (t *TransportError) Error() string {
	if t.Status == 0 {
		return fmt.Sprintf("transport error reading %s: %v", t.Key, t.Err)
	}
	return fmt.Sprintf("transport error reading %s: status %d: %v", t.Key, t.Status, t.Err)
}

func (t *TransportError) Unwrap() error { return t.Err }

// Retryable reports whether repeating the same call could plausibly succeed.
func (t *TransportError) Retryable() bool {
	switch {
	case t.Status == 0:
		return true
	case t.Status == http.StatusTooManyRequests, t.Status == http.StatusRequestTimeout:
		return true
	case t.Status >= 500:
		return true
	default:
		return false
	}
}

// ConfigurationError is returned at startup when a required setting is absent.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (c *ConfigurationError) Error() string {
	if c.Reason == "" {
		return fmt.Sprintf("configuration error: %s is required", c.Field)
	}
	return fmt.Sprintf("configuration error: %s: %s", c.Field, c.Reason)
}
