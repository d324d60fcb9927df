package web

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/jwk"
)

const jwksMinRefresh = 15 * time.Minute

// KeySet serves verification keys from a JWKS URL, refreshed in the
// background.
type KeySet struct {
	url     string
	refresh *jwk.AutoRefresh
}

// NewKeySet fetches the JWKS once so a bad URL fails at startup rather than on
// the first request.
func NewKeySet(ctx context.Context, url string) (*KeySet, error) {
	refresh := jwk.NewAutoRefresh(ctx)
	refresh.Configure(url, jwk.WithMinRefreshInterval(jwksMinRefresh))

	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := refresh.Fetch(fetchCtx, url); err != nil {
		return nil, fmt.Errorf("fetching JWKS from %s: %w", url, err)
	}
	return &KeySet{url: url, refresh: refresh}, nil
}

// LookupKey returns the raw public key for kid.
func (k *KeySet) LookupKey(ctx context.Context, keyID string) (interface{}, error) {
	set, err := k.refresh.Fetch(ctx, k.url)
	if err != nil {
		return nil, err
	}

	key, ok := set.LookupKeyID(keyID)
	if !ok {
		return nil, errors.New("signing key not found")
	}
	var keyData interface{}
	err = key.Raw(&keyData)
	return keyData, err
}
