// Package cache stores short-lived catalog payloads either in redis, shared by
// every instance, or in process memory when redis is not configured.
package cache

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"yasmin/internal/redis"
)

// Cache is a string key/value store with per-entry expiry.
type Cache interface {
	// Get returns ok=false on a miss.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type memory struct {
	store *gocache.Cache
}

// NewMemory returns an in-process cache.
func NewMemory(defaultTTL time.Duration) Cache {
	return &memory{store: gocache.New(defaultTTL, 2*defaultTTL)}
}

func (m *memory) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.store.Get(key)
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	return s, ok, nil
}

func (m *memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.store.Set(key, value, ttl)
	return nil
}

type remote struct {
	client *redis.Client
}

// NewRedis returns a cache backed by the shared redis instance.
func NewRedis(client *redis.Client) Cache {
	return &remote{client: client}
}

func (r *remote) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

func (r *remote) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl)
}
