// Package credentials issues the read grant used to open an archive.
package credentials

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"
	"github.com/terrycain/tiles-server/pkg/e"
	"github.com/terrycain/tiles-server/pkg/metrics"
	"github.com/terrycain/tiles-server/pkg/s"
)

const (
	ModeDirect  = s.CredentialModeDirect
	ModePresign = s.CredentialModePresign

	MinExpiry = time.Second
	MaxExpiry = 7 * 24 * time.Hour
)

// Signer is the part of a storage backend the broker needs.
type Signer interface {
	Type() string
	// CredentialModes lists the modes the backend can serve reads for.
	CredentialModes() []string
	ObjectKey(id string) string
	Presign(ctx context.Context, id string, expiry time.Duration) (string, error)
}

type Broker struct {
	signer Signer
	mode   string
	expiry time.Duration
	margin time.Duration
	now    func() time.Time

	issued *ttlcache.Cache[string, s.Credential]
}

type Option func(*Broker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// WithRefreshMargin sets how long before expiry a credential is treated as
// due for replacement.
func WithRefreshMargin(margin time.Duration) Option {
	return func(b *Broker) { b.margin = margin }
}

func New(signer Signer, mode string, expiry time.Duration, options ...Option) (*Broker, error) {
	switch mode {
	case ModeDirect:
	case ModePresign:
		if expiry < MinExpiry || expiry > MaxExpiry {
			return nil, &e.ConfigurationError{Field: "presign-expiry", Reason: fmt.Sprintf("must be between %s and %s", MinExpiry, MaxExpiry)}
		}
	default:
		return nil, &e.ConfigurationError{Field: "credential-mode", Reason: fmt.Sprintf("unknown mode %q", mode)}
	}
	if modes := signer.CredentialModes(); !slices.Contains(modes, mode) {
		return nil, &e.ConfigurationError{
			Field:  "credential-mode",
			Reason: fmt.Sprintf("%s storage supports %s, not %s", signer.Type(), strings.Join(modes, ", "), mode),
		}
	}

	b := &Broker{
		signer: signer,
		mode:   mode,
		expiry: expiry,
		margin: defaultMargin(expiry),
		now:    time.Now,
	}
	for _, o := range options {
		o(b)
	}
	b.issued = ttlcache.New[string, s.Credential](
		ttlcache.WithDisableTouchOnHit[string, s.Credential](),
	)
	return b, nil
}

// defaultMargin is a fifth of the expiry, capped at a minute.
func defaultMargin(expiry time.Duration) time.Duration {
	margin := expiry / 5
	if margin > time.Minute {
		margin = time.Minute
	}
	return margin
}

func (b *Broker) Mode() string { return b.mode }

// Start runs the expired credential janitor until Stop is called.
func (b *Broker) Start() { b.issued.Start() }

func (b *Broker) Stop() { b.issued.Stop() }

// Issue returns a credential scoped to the single object backing id. Presigned
// credentials are reused until they enter the refresh margin.
func (b *Broker) Issue(ctx context.Context, id string) (s.Credential, error) {
	key := b.signer.ObjectKey(id)
	if b.mode == ModeDirect {
		metrics.CredentialIssued(b.mode)
		return s.Credential{ArchiveID: id, Key: key, IssuedAt: b.now()}, nil
	}

	if item := b.issued.Get(key); item != nil {
		if cred := item.Value(); !b.NeedsRefresh(cred) {
			return cred, nil
		}
	}

	issuedAt := b.now()
	url, err := b.signer.Presign(ctx, id, b.expiry)
	if err != nil {
		return s.Credential{}, fmt.Errorf("presigning %s: %w", key, err)
	}
	cred := s.Credential{ArchiveID: id, Key: key, URL: url, IssuedAt: issuedAt, TTL: b.expiry}
	b.issued.Set(key, cred, b.expiry-b.margin)
	metrics.CredentialIssued(b.mode)
	log.Debug().Str("key", key).Time("expires", cred.ExpiresAt()).Msg("Issued presigned credential")
	return cred, nil
}

// NeedsRefresh reports whether cred expires within the refresh margin.
func (b *Broker) NeedsRefresh(cred s.Credential) bool {
	if cred.Direct() || cred.TTL <= 0 {
		return false
	}
	return !b.now().Add(b.margin).Before(cred.ExpiresAt())
}

// Revoke drops any cached credential for id.
func (b *Broker) Revoke(id string) {
	b.issued.Delete(b.signer.ObjectKey(id))
}
