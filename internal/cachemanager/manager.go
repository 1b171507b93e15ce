// Package cachemanager provides TTL caches for the orchestrator.
//
// CacheManager is the generic key/value contract, InMemoryCacheManager backs
// it with go-cache, ReadThroughCache loads on miss, and TaskCache groups
// three managers per namespace (entities, lists, statistics).
package cachemanager

import (
	"context"
	"time"
)

// CacheManager is a TTL cache keyed by K. A value is never returned after its
// TTL has elapsed.
type CacheManager[K comparable, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	GetMultiple(ctx context.Context, keys []K) (map[K]V, bool)
	GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...K) error
	Flush(ctx context.Context) error
}
