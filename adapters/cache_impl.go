package adapters

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/go-redis/redis/v8"

	f "github.com/inboxpilot/inboxpilot/core"
	"github.com/inboxpilot/inboxpilot/log"
)

// NewCacheProvider selects a cache backend from a provider URL. "memory" gives
// a process-local cache; redis:// URLs a shared one.
func NewCacheProvider(provider string) f.CacheProvider {
	if provider == "" || provider == "memory" {
		return NewMemoryCacheProvider()
	}
	if strings.HasPrefix(provider, "redis://") {
		log.Info("using redis cache provider...")
		return NewRedisCacheProvider(provider)
	}
	log.Fatal("unsupported cache provider: %s", provider)
	return nil
}

// ------------------------------------------------------------------------------------------------------------------
// REDIS CACHE PROVIDER IMPL
// ------------------------------------------------------------------------------------------------------------------

type RedisCacheProvider struct {
	client *redis.Client
}

func NewRedisCacheProvider(redisURL string) f.CacheProvider {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatal("failed to parse redis url: %v", err)
	}
	client := redis.NewClient(opts)
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		log.Fatal("failed to ping redis: %v", err)
	}
	return &RedisCacheProvider{client: client}
}

func (p *RedisCacheProvider) Init() error  { return nil }
func (p *RedisCacheProvider) Close() error { return p.client.Close() }
func (p *RedisCacheProvider) Ping() error  { return p.client.Ping(context.Background()).Err() }

func (p *RedisCacheProvider) Set(ctx context.Context, key string, value any, duration time.Duration) error {
	return p.client.Set(ctx, key, value, duration).Err()
}

func (p *RedisCacheProvider) Get(ctx context.Context, key string) (any, error) {
	value, err := p.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// ------------------------------------------------------------------------------------------------------------------
// IN-MEMORY CACHE PROVIDER IMPL
// ------------------------------------------------------------------------------------------------------------------

type MemoryCacheProvider struct {
	cache *ristretto.Cache[string, any]
}

func NewMemoryCacheProvider() f.CacheProvider {
	cache, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters: 1e6,
		MaxCost:     1 << 26,
		BufferItems: 64,
	})
	if err != nil {
		log.Fatal("failed to build memory cache: %v", err)
	}
	return &MemoryCacheProvider{cache: cache}
}

func (p *MemoryCacheProvider) Init() error  { return nil }
func (p *MemoryCacheProvider) Ping() error  { return nil }
func (p *MemoryCacheProvider) Close() error { p.cache.Close(); return nil }

func (p *MemoryCacheProvider) Set(ctx context.Context, key string, value any, duration time.Duration) error {
	p.cache.SetWithTTL(key, value, 1, duration)
	p.cache.Wait()
	return nil
}

func (p *MemoryCacheProvider) Get(ctx context.Context, key string) (any, error) {
	value, ok := p.cache.Get(key)
	if !ok {
		return nil, nil
	}
	return value, nil
}
