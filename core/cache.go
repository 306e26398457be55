package f

import (
	"context"
	"time"
)

type CacheProvider interface {
	Init() error
	Close() error
	Ping() error
	Set(ctx context.Context, key string, value any, duration time.Duration) error
	Get(ctx context.Context, key string) (any, error)
}

// TokenCipher protects provider credentials at rest.
type TokenCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}
