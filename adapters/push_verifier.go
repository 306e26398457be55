package adapters

import (
	"context"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/inboxpilot/inboxpilot/errors"
)

// PushTokenVerifier validates the OIDC token the push delivery service signs
// its webhook calls with. The signing key set is fetched from the issuer's
// JWKS endpoint and cached.
type PushTokenVerifier struct {
	jwksURL  string
	audience string
	// skip disables verification for local development.
	skip bool

	mu        sync.Mutex
	keys      jwk.Set
	fetchedAt time.Time
}

func NewPushTokenVerifier(jwksURL string, audience string, skip bool) *PushTokenVerifier {
	return &PushTokenVerifier{jwksURL: jwksURL, audience: audience, skip: skip}
}

func (v *PushTokenVerifier) Verify(ctx context.Context, token string) error {
	if v.skip {
		return nil
	}
	if token == "" {
		return errors.Unauthorized("missing push token")
	}
	keys, err := v.keySet(ctx)
	if err != nil {
		return err
	}
	opts := []jwt.ParseOption{
		jwt.WithKeySet(keys),
		jwt.WithIssuer("https://accounts.google.com"),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	if _, err := jwt.Parse([]byte(token), opts...); err != nil {
		return errors.Unauthorized("invalid push token: %v", err)
	}
	return nil
}

func (v *PushTokenVerifier) keySet(ctx context.Context) (jwk.Set, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.keys != nil && time.Since(v.fetchedAt) < time.Hour {
		return v.keys, nil
	}
	keys, err := jwk.Fetch(ctx, v.jwksURL)
	if err != nil {
		if v.keys != nil {
			// Stale keys beat an outage on the JWKS endpoint.
			return v.keys, nil
		}
		return nil, errors.Technical("failed to fetch signing keys: %v", err)
	}
	v.keys = keys
	v.fetchedAt = time.Now()
	return keys, nil
}
