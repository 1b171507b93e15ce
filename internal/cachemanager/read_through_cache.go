package cachemanager

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader produces the value for a cache miss.
type Loader[V any] func(ctx context.Context) (V, error)

// Guard lets the owner of a cache discard loads that raced with an
// invalidation. Stamp is taken before loading; CommitIf runs commit only if
// nothing was invalidated since.
type Guard interface {
	Stamp() uint64
	CommitIf(stamp uint64, commit func()) bool
}

type ReadThroughCache[K ~string, V any] struct {
	cache           CacheManager[K, V]
	shouldSkipCache bool
	group           *singleflight.Group
	guard           Guard
	loadTimeout     time.Duration
}

// ReadThroughOption configures a ReadThroughCache.
type ReadThroughOption func(*readThroughOptions)

type readThroughOptions struct {
	coalesce    bool
	guard       Guard
	loadTimeout time.Duration
}

// WithCoalescing collapses concurrent misses for the same key into one load.
func WithCoalescing(enabled bool) ReadThroughOption {
	return func(o *readThroughOptions) { o.coalesce = enabled }
}

// WithLoadTimeout bounds a coalesced load. Shared loads are detached from
// the caller that started them, so this is their only deadline. Zero means
// no bound beyond the loader's own.
func WithLoadTimeout(d time.Duration) ReadThroughOption {
	return func(o *readThroughOptions) { o.loadTimeout = d }
}

// WithGuard installs a Guard consulted before a loaded value is cached.
func WithGuard(g Guard) ReadThroughOption {
	return func(o *readThroughOptions) { o.guard = g }
}

func NewReadThroughCache[K ~string, V any](
	cache CacheManager[K, V],
	shouldSkipCache bool,
	opts ...ReadThroughOption,
) *ReadThroughCache[K, V] {
	var o readThroughOptions
	for _, opt := range opts {
		opt(&o)
	}
	r := &ReadThroughCache[K, V]{
		cache:           cache,
		shouldSkipCache: shouldSkipCache,
		guard:           o.guard,
		loadTimeout:     o.loadTimeout,
	}
	if o.coalesce {
		r.group = &singleflight.Group{}
	}
	return r
}

// Get returns the cached value for key, or calls load and caches its result
// for ttl. The bool reports whether the value came from the cache.
func (r *ReadThroughCache[K, V]) Get(ctx context.Context, key K, ttl time.Duration, load Loader[V]) (V, bool, error) {
	if r.shouldSkipCache {
		v, err := load(ctx)
		return v, false, err
	}

	if value, ok := r.cache.Get(ctx, key); ok {
		return value, true, nil
	}

	return r.fill(ctx, key, ttl, load)
}

// GetWithRefresh is Get, but a hit extends the entry's TTL.
func (r *ReadThroughCache[K, V]) GetWithRefresh(ctx context.Context, key K, ttl time.Duration, load Loader[V]) (V, bool, error) {
	if r.shouldSkipCache {
		v, err := load(ctx)
		return v, false, err
	}

	if value, ok := r.cache.GetWithRefresh(ctx, key, ttl); ok {
		return value, true, nil
	}

	return r.fill(ctx, key, ttl, load)
}

func (r *ReadThroughCache[K, V]) fill(ctx context.Context, key K, ttl time.Duration, load Loader[V]) (V, bool, error) {
	var stamp uint64
	if r.guard != nil {
		stamp = r.guard.Stamp()
	}

	value, err := r.load(ctx, key, load)
	if err != nil {
		return value, false, err
	}

	commit := func() { r.cache.Set(ctx, key, value, ttl) }
	if r.guard != nil {
		r.guard.CommitIf(stamp, commit)
	} else {
		commit()
	}

	return value, false, nil
}

// load runs the loader, sharing one call between concurrent callers of the
// same key when coalescing is enabled. Shared callers receive the same value.
// A shared load does not inherit any caller's cancellation; a caller whose
// ctx ends stops waiting and the load carries on for the rest.
func (r *ReadThroughCache[K, V]) load(ctx context.Context, key K, load Loader[V]) (V, error) {
	var zero V
	if r.group == nil {
		return load(ctx)
	}
	ch := r.group.DoChan(string(key), func() (any, error) {
		lctx := context.WithoutCancel(ctx)
		if r.loadTimeout > 0 {
			var cancel context.CancelFunc
			lctx, cancel = context.WithTimeout(lctx, r.loadTimeout)
			defer cancel()
		}
		return load(lctx)
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}
