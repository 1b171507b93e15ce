package cachemanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/deepwork/internal/tasks/domain"
)

func sampleTask(id string) domain.Task {
	return domain.Task{
		ID:             id,
		Title:          "Write report " + id,
		Status:         domain.StatusPending,
		Priority:       domain.PriorityHigh,
		FocusIntensity: 5,
		Dependencies:   []string{"dep-1"},
		Subtasks:       []domain.Subtask{{ID: id + "-s1", Title: "outline"}},
	}
}

func TestTaskCache_TaskRoundTripIsDeepCopied(t *testing.T) {
	c := NewTaskCache(DefaultTaskCacheConfig())
	ctx := context.Background()

	task := sampleTask("t1")
	c.CacheTask(ctx, "tasks", task)

	// Mutating the original after caching must not leak into the cache.
	task.Dependencies[0] = "mutated"
	task.Subtasks[0].Title = "mutated"

	got, ok := c.GetCachedTask(ctx, "tasks", "t1")
	require.True(t, ok)
	require.Equal(t, "dep-1", got.Dependencies[0])
	require.Equal(t, "outline", got.Subtasks[0].Title)

	// Mutating a returned value must not leak either.
	got.Dependencies[0] = "mutated"
	again, ok := c.GetCachedTask(ctx, "tasks", "t1")
	require.True(t, ok)
	require.Equal(t, "dep-1", again.Dependencies[0])
}

func TestTaskCache_NamespacesAreIsolated(t *testing.T) {
	c := NewTaskCache(DefaultTaskCacheConfig())
	ctx := context.Background()

	c.CacheTask(ctx, "tasks", sampleTask("t1"))
	c.CacheTask(ctx, "projects", sampleTask("t1"))
	c.CacheTaskList(ctx, "projects", domain.TaskFilter{}, []domain.Task{sampleTask("t1")})

	c.InvalidateNamespace(ctx, "tasks")

	_, ok := c.GetCachedTask(ctx, "tasks", "t1")
	require.False(t, ok)
	_, ok = c.GetCachedTask(ctx, "projects", "t1")
	require.True(t, ok)
	_, ok = c.GetCachedTaskList(ctx, "projects", domain.TaskFilter{})
	require.True(t, ok)
}

func TestSignature_OrderIndependent(t *testing.T) {
	a := domain.TaskFilter{
		Statuses:   []domain.Status{domain.StatusPending, domain.StatusPaused},
		Priorities: []domain.Priority{domain.PriorityHigh, domain.PriorityLow},
		Search:     " Report ",
	}
	b := domain.TaskFilter{
		Statuses:   []domain.Status{domain.StatusPaused, domain.StatusPending, domain.StatusPending},
		Priorities: []domain.Priority{domain.PriorityLow, domain.PriorityHigh},
		Search:     "report",
	}
	require.Equal(t, Signature(a), Signature(b))
	require.NotEqual(t, Signature(a), Signature(domain.TaskFilter{}))
}

func TestTaskCache_InvalidateTaskListsKeepsEntities(t *testing.T) {
	c := NewTaskCache(DefaultTaskCacheConfig())
	ctx := context.Background()

	c.CacheTask(ctx, "tasks", sampleTask("t1"))
	c.CacheTaskList(ctx, "tasks", domain.TaskFilter{}, []domain.Task{sampleTask("t1")})
	c.CacheStatistics(ctx, "tasks", domain.Analytics{TotalTasks: 1})

	c.InvalidateTaskLists(ctx, "tasks")

	_, ok := c.GetCachedTaskList(ctx, "tasks", domain.TaskFilter{})
	require.False(t, ok)
	_, ok = c.GetCachedStatistics(ctx, "tasks")
	require.False(t, ok)
	_, ok = c.GetCachedTask(ctx, "tasks", "t1")
	require.True(t, ok)
}

func TestTaskCache_InvalidateTask(t *testing.T) {
	c := NewTaskCache(DefaultTaskCacheConfig())
	ctx := context.Background()

	c.CacheTask(ctx, "tasks", sampleTask("t1"))
	c.CacheTask(ctx, "tasks", sampleTask("t2"))
	c.InvalidateTask(ctx, "tasks", "t1")

	_, ok := c.GetCachedTask(ctx, "tasks", "t1")
	require.False(t, ok)
	_, ok = c.GetCachedTask(ctx, "tasks", "t2")
	require.True(t, ok)
}

func TestTaskCache_LoadTaskListCachesResult(t *testing.T) {
	c := NewTaskCache(DefaultTaskCacheConfig())
	ctx := context.Background()
	calls := 0
	load := func(ctx context.Context) ([]domain.Task, error) {
		calls++
		return []domain.Task{sampleTask("t1")}, nil
	}

	filter := domain.TaskFilter{Statuses: []domain.Status{domain.StatusPending}}
	tasks, hit, err := c.LoadTaskList(ctx, "tasks", filter, load)
	require.NoError(t, err)
	require.False(t, hit)
	require.Len(t, tasks, 1)

	tasks[0].Title = "mutated"

	tasks, hit, err = c.LoadTaskList(ctx, "tasks", filter, load)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, "Write report t1", tasks[0].Title)
	require.Equal(t, 1, calls)

	stats := c.Stats()
	require.Equal(t, int64(1), stats.Hits[KindList])
	require.Equal(t, int64(1), stats.Misses[KindList])
	require.Equal(t, 1, stats.Entries[KindList])
}

func TestTaskCache_StatsCountEntriesAndEvictions(t *testing.T) {
	c := NewTaskCache(DefaultTaskCacheConfig())
	ctx := context.Background()

	c.CacheTask(ctx, "a", sampleTask("t1"))
	c.CacheTask(ctx, "a", sampleTask("t2"))
	c.CacheTask(ctx, "b", sampleTask("t3"))
	require.Equal(t, 3, c.Stats().Entries[KindEntity])

	c.InvalidateTask(ctx, "a", "t1")
	stats := c.Stats()
	require.Equal(t, 2, stats.Entries[KindEntity])
	require.Equal(t, int64(1), stats.Evicted[KindEntity])

	c.Flush(ctx)
	require.Zero(t, c.Stats().Entries[KindEntity])
}

func TestTaskCache_LoadErrorIsNotCached(t *testing.T) {
	c := NewTaskCache(DefaultTaskCacheConfig())
	ctx := context.Background()
	boom := errors.New("store down")

	_, _, err := c.LoadStatistics(ctx, "tasks", func(ctx context.Context) (domain.Analytics, error) {
		return domain.Analytics{}, boom
	})
	require.ErrorIs(t, err, boom)

	_, ok := c.GetCachedStatistics(ctx, "tasks")
	require.False(t, ok)
}

func TestTaskCache_InvalidationDuringLoadDiscardsResult(t *testing.T) {
	c := NewTaskCache(DefaultTaskCacheConfig())
	ctx := context.Background()

	_, _, err := c.LoadTask(ctx, "tasks", "t1", func(ctx context.Context) (domain.Task, error) {
		// A write lands while the load is in flight.
		c.InvalidateTask(ctx, "tasks", "t1")
		return sampleTask("t1"), nil
	})
	require.NoError(t, err)

	_, ok := c.GetCachedTask(ctx, "tasks", "t1")
	require.False(t, ok, "a load that raced an invalidation must not be cached")
}

func TestTaskCache_EntriesExpire(t *testing.T) {
	c := NewTaskCache(TaskCacheConfig{
		EntityTTL: 10 * time.Millisecond,
		ListTTL:   10 * time.Millisecond,
		StatsTTL:  10 * time.Millisecond,
	})
	ctx := context.Background()

	c.CacheTask(ctx, "tasks", sampleTask("t1"))
	c.CacheStatistics(ctx, "tasks", domain.Analytics{TotalTasks: 1})

	time.Sleep(25 * time.Millisecond)

	_, ok := c.GetCachedTask(ctx, "tasks", "t1")
	require.False(t, ok)
	_, ok = c.GetCachedStatistics(ctx, "tasks")
	require.False(t, ok)
}

func TestTaskCache_FlushClearsEveryNamespace(t *testing.T) {
	c := NewTaskCache(DefaultTaskCacheConfig())
	ctx := context.Background()

	c.CacheTask(ctx, "a", sampleTask("t1"))
	c.CacheTask(ctx, "b", sampleTask("t1"))
	c.Flush(ctx)

	_, ok := c.GetCachedTask(ctx, "a", "t1")
	require.False(t, ok)
	_, ok = c.GetCachedTask(ctx, "b", "t1")
	require.False(t, ok)
}
