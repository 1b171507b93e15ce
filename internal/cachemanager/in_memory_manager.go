package cachemanager

import (
	"context"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/zjrosen/deepwork/internal/log"
)

const DefaultExpiration = 10 * time.Minute
const DefaultCleanupInterval = 30 * time.Minute

// InMemoryCacheManager is a CacheManager over go-cache. Each instance holds
// one kind of value for one namespace, named by useCase in logs.
type InMemoryCacheManager[K ~string, V any] struct {
	useCase string
	cache   *gocache.Cache
	evicted atomic.Int64
}

var _ CacheManager[string, int] = (*InMemoryCacheManager[string, int])(nil)

// NewInMemoryCacheManager creates a cache whose janitor sweeps expired items
// every cleanupInterval.
func NewInMemoryCacheManager[K ~string, V any](useCase string, defaultExpiration, cleanupInterval time.Duration) *InMemoryCacheManager[K, V] {
	m := &InMemoryCacheManager[K, V]{
		useCase: useCase,
		cache:   gocache.New(defaultExpiration, cleanupInterval),
	}
	// Called by the janitor and by Delete, never by Flush.
	m.cache.OnEvicted(func(string, any) { m.evicted.Add(1) })
	return m
}

// Get returns the value for key while its TTL holds.
func (c *InMemoryCacheManager[K, V]) Get(_ context.Context, key K) (V, bool) {
	var zero V

	raw, expiresAt, found := c.cache.GetWithExpiration(string(key))
	if !found {
		// go-cache hides expired items but keeps them until the janitor
		// runs. DeleteExpired rechecks expiry under the cache lock, so a
		// value Set since the lookup above survives.
		c.cache.DeleteExpired()
		log.Debug(log.CatCache, "Cache miss", "cache", c.useCase, "key", key)
		return zero, false
	}

	v, ok := raw.(V)
	if !ok {
		log.Error(log.CatCache, "Cached value has unexpected type", "cache", c.useCase, "key", key)
		c.cache.Delete(string(key))
		return zero, false
	}

	log.Debug(log.CatCache, "Cache hit", "cache", c.useCase, "key", key, "expires", expiresAt)
	return v, true
}

// GetMultiple returns whatever keys are present. The bool is false only when
// none are.
func (c *InMemoryCacheManager[K, V]) GetMultiple(ctx context.Context, keys []K) (map[K]V, bool) {
	found := make(map[K]V, len(keys))
	for _, key := range keys {
		if v, ok := c.Get(ctx, key); ok {
			found[key] = v
		}
	}
	if len(found) == 0 {
		return nil, false
	}
	if missing := len(keys) - len(found); missing > 0 {
		log.Debug(log.CatCache, "Partial cache hit", "cache", c.useCase, "missing", missing, "requested", len(keys))
	}
	return found, true
}

// GetWithRefresh returns the value and restarts its TTL.
func (c *InMemoryCacheManager[K, V]) GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool) {
	v, ok := c.Get(ctx, key)
	if ok {
		c.Set(ctx, key, v, ttl)
	}
	return v, ok
}

// Set stores value under key for ttl.
func (c *InMemoryCacheManager[K, V]) Set(_ context.Context, key K, value V, ttl time.Duration) {
	c.cache.Set(string(key), value, ttl)
}

// Delete drops the given keys; absent keys are ignored.
func (c *InMemoryCacheManager[K, V]) Delete(_ context.Context, keys ...K) error {
	for _, key := range keys {
		c.cache.Delete(string(key))
	}
	return nil
}

// Flush drops every entry.
func (c *InMemoryCacheManager[K, V]) Flush(_ context.Context) error {
	n := c.cache.ItemCount()
	c.cache.Flush()
	if n > 0 {
		log.Debug(log.CatCache, "Cache flushed", "cache", c.useCase, "entries", n)
	}
	return nil
}

// Len counts stored entries, including expired ones not yet swept.
func (c *InMemoryCacheManager[K, V]) Len() int {
	return c.cache.ItemCount()
}

// Evicted counts entries removed by expiry sweeps or Delete.
func (c *InMemoryCacheManager[K, V]) Evicted() int64 {
	return c.evicted.Load()
}
