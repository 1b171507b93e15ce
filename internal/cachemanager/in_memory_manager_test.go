package cachemanager

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type ExampleStruct struct {
	ID   int
	Name string
}

type taskKey string

func newManager[V any](t *testing.T) *InMemoryCacheManager[string, V] {
	t.Helper()
	return NewInMemoryCacheManager[string, V](t.Name(), DefaultExpiration, DefaultCleanupInterval)
}

func TestInMemory_SetThenGet(t *testing.T) {
	ctx := context.Background()
	cache := newManager[ExampleStruct](t)

	cache.Set(ctx, "task:1", ExampleStruct{ID: 1, Name: "design doc"}, time.Minute)

	got, ok := cache.Get(ctx, "task:1")
	require.True(t, ok)
	require.Equal(t, ExampleStruct{ID: 1, Name: "design doc"}, got)

	_, ok = cache.Get(ctx, "task:2")
	require.False(t, ok)
}

func TestInMemory_NamedKeyType(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryCacheManager[taskKey, int]("named", DefaultExpiration, DefaultCleanupInterval)

	cache.Set(ctx, taskKey("focus"), 8, time.Minute)
	got, ok := cache.Get(ctx, "focus")
	require.True(t, ok)
	require.Equal(t, 8, got)
}

func TestInMemory_WrongTypeIsAMissAndIsDropped(t *testing.T) {
	ctx := context.Background()
	cache := newManager[string](t)
	cache.cache.Set("task:1", 42, time.Minute)

	got, ok := cache.Get(ctx, "task:1")
	require.False(t, ok)
	require.Empty(t, got)
	require.Zero(t, cache.Len())
}

func TestInMemory_ExpiredValueIsNeverReturned(t *testing.T) {
	ctx := context.Background()
	cache := newManager[string](t)

	cache.Set(ctx, "task:1", "stale", time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := cache.Get(ctx, "task:1")
		return !ok
	}, time.Second, time.Millisecond)
	require.Zero(t, cache.Len(), "expired entry is removed on access")
}

func TestInMemory_MissDoesNotDropConcurrentSet(t *testing.T) {
	ctx := context.Background()
	cache := newManager[string](t)

	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("task:%d", i)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				cache.Get(ctx, key)
			}
		}()
		cache.Set(ctx, key, "fresh", time.Minute)
		wg.Wait()

		v, ok := cache.Get(ctx, key)
		require.True(t, ok, key)
		require.Equal(t, "fresh", v)
	}
}

func TestInMemory_GetMultiple(t *testing.T) {
	ctx := context.Background()
	cache := newManager[int](t)

	got, ok := cache.GetMultiple(ctx, nil)
	require.False(t, ok)
	require.Nil(t, got)

	got, ok = cache.GetMultiple(ctx, []string{"a", "b"})
	require.False(t, ok)
	require.Nil(t, got)

	cache.Set(ctx, "a", 1, time.Minute)
	cache.Set(ctx, "c", 3, time.Minute)
	got, ok = cache.GetMultiple(ctx, []string{"a", "b", "c"})
	require.True(t, ok)
	require.Equal(t, map[string]int{"a": 1, "c": 3}, got)
}

func TestInMemory_GetWithRefreshExtendsTTL(t *testing.T) {
	ctx := context.Background()
	cache := newManager[string](t)

	_, ok := cache.GetWithRefresh(ctx, "missing", time.Hour)
	require.False(t, ok)
	require.Zero(t, cache.Len())

	cache.Set(ctx, "task:1", "v", 50*time.Millisecond)
	got, ok := cache.GetWithRefresh(ctx, "task:1", time.Hour)
	require.True(t, ok)
	require.Equal(t, "v", got)

	_, expiresAt, found := cache.cache.GetWithExpiration("task:1")
	require.True(t, found)
	require.Greater(t, time.Until(expiresAt), 30*time.Minute)
}

func TestInMemory_DeleteAndFlush(t *testing.T) {
	ctx := context.Background()
	cache := newManager[int](t)
	for i, k := range []string{"a", "b", "c"} {
		cache.Set(ctx, k, i, time.Minute)
	}

	require.NoError(t, cache.Delete(ctx))
	require.Equal(t, 3, cache.Len())

	require.NoError(t, cache.Delete(ctx, "a", "missing"))
	_, ok := cache.Get(ctx, "a")
	require.False(t, ok)
	require.Equal(t, int64(1), cache.Evicted())

	require.NoError(t, cache.Flush(ctx))
	require.Zero(t, cache.Len())
	require.Equal(t, int64(1), cache.Evicted(), "flush does not count as eviction")
}
