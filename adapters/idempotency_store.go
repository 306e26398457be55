package adapters

import (
	"context"
	"fmt"
	"time"

	f "github.com/inboxpilot/inboxpilot/core"
)

// IdempotencyStore remembers recently seen keys so repeated push notifications
// for the same upstream event collapse into one sync trigger.
type IdempotencyStore struct {
	cache f.CacheProvider
	ttl   time.Duration
}

func NewIdempotencyStore(cache f.CacheProvider, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{cache: cache, ttl: ttl}
}

// Seen marks the key and reports whether it was already present.
func (s *IdempotencyStore) Seen(ctx context.Context, key string) (bool, error) {
	formatted := s.formatKey(key)
	existing, err := s.cache.Get(ctx, formatted)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return true, nil
	}
	if err := s.cache.Set(ctx, formatted, "1", s.ttl); err != nil {
		return false, fmt.Errorf("failed to set idempotency key: %w", err)
	}
	return false, nil
}

func (s *IdempotencyStore) formatKey(key string) string {
	return fmt.Sprintf("idempotency:%s", key)
}
