package cachemanager

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/zjrosen/deepwork/internal/log"
	"github.com/zjrosen/deepwork/internal/tasks/domain"
)

// Lookup kinds reported by TaskCache statistics.
const (
	KindEntity = "entity"
	KindList   = "list"
	KindStats  = "stats"
)

const statisticsKey = "statistics"

// TaskCacheConfig holds TTLs per entry kind.
type TaskCacheConfig struct {
	EntityTTL       time.Duration
	ListTTL         time.Duration
	StatsTTL        time.Duration
	CleanupInterval time.Duration
	Coalesce        bool          // share one store load between concurrent misses
	LoadTimeout     time.Duration // deadline of a shared load; zero for none
}

// DefaultTaskCacheConfig returns the TTLs used when nothing is configured.
func DefaultTaskCacheConfig() TaskCacheConfig {
	return TaskCacheConfig{
		EntityTTL:       5 * time.Minute,
		ListTTL:         2 * time.Minute,
		StatsTTL:        time.Minute,
		CleanupInterval: DefaultCleanupInterval,
	}
}

// CacheStats counts lookups per kind, plus what is stored across all
// namespaces.
type CacheStats struct {
	Hits    map[string]int64 `json:"hits"`
	Misses  map[string]int64 `json:"misses"`
	Entries map[string]int   `json:"entries"`
	Evicted map[string]int64 `json:"evicted"`
}

// TaskCache is the namespaced cache used by the orchestrator. Each namespace
// owns three go-cache stores so invalidating lists never touches entities of
// another namespace. Values are deep-copied on the way in and out.
type TaskCache struct {
	cfg TaskCacheConfig

	mu         sync.Mutex
	namespaces map[string]*namespace

	hits   [3]atomic.Int64
	misses [3]atomic.Int64
}

// NewTaskCache creates an empty TaskCache.
func NewTaskCache(cfg TaskCacheConfig) *TaskCache {
	def := DefaultTaskCacheConfig()
	if cfg.EntityTTL <= 0 {
		cfg.EntityTTL = def.EntityTTL
	}
	if cfg.ListTTL <= 0 {
		cfg.ListTTL = def.ListTTL
	}
	if cfg.StatsTTL <= 0 {
		cfg.StatsTTL = def.StatsTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	return &TaskCache{cfg: cfg, namespaces: make(map[string]*namespace)}
}

// namespace is the per entity type cache partition. gen is bumped by every
// write-side operation; loads started before a bump are not cached.
type namespace struct {
	mu  sync.Mutex
	gen uint64

	entities *InMemoryCacheManager[string, domain.Task]
	lists    *InMemoryCacheManager[string, []domain.Task]
	stats    *InMemoryCacheManager[string, domain.Analytics]

	entityRT *ReadThroughCache[string, domain.Task]
	listRT   *ReadThroughCache[string, []domain.Task]
	statsRT  *ReadThroughCache[string, domain.Analytics]
}

func (n *namespace) Stamp() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.gen
}

func (n *namespace) CommitIf(stamp uint64, commit func()) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if stamp != n.gen {
		return false
	}
	commit()
	return true
}

// write runs fn with the generation bumped, under the namespace lock.
func (n *namespace) write(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gen++
	fn()
}

func (c *TaskCache) ns(name string) *namespace {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.namespaces[name]; ok {
		return n
	}
	n := &namespace{
		entities: NewInMemoryCacheManager[string, domain.Task](name+":entities", c.cfg.EntityTTL, c.cfg.CleanupInterval),
		lists:    NewInMemoryCacheManager[string, []domain.Task](name+":lists", c.cfg.ListTTL, c.cfg.CleanupInterval),
		stats:    NewInMemoryCacheManager[string, domain.Analytics](name+":stats", c.cfg.StatsTTL, c.cfg.CleanupInterval),
	}
	n.entityRT = NewReadThroughCache[string, domain.Task](n.entities, false, WithGuard(n), WithCoalescing(c.cfg.Coalesce), WithLoadTimeout(c.cfg.LoadTimeout))
	n.listRT = NewReadThroughCache[string, []domain.Task](n.lists, false, WithGuard(n), WithCoalescing(c.cfg.Coalesce), WithLoadTimeout(c.cfg.LoadTimeout))
	n.statsRT = NewReadThroughCache[string, domain.Analytics](n.stats, false, WithGuard(n), WithCoalescing(c.cfg.Coalesce), WithLoadTimeout(c.cfg.LoadTimeout))
	c.namespaces[name] = n
	return n
}

func kindIndex(kind string) int {
	switch kind {
	case KindEntity:
		return 0
	case KindList:
		return 1
	default:
		return 2
	}
}

func (c *TaskCache) record(kind string, hit bool) {
	if hit {
		c.hits[kindIndex(kind)].Add(1)
	} else {
		c.misses[kindIndex(kind)].Add(1)
	}
}

// Signature returns the order-independent cache key for a filter.
func Signature(filter domain.TaskFilter) string {
	return strconv.FormatUint(xxhash.Sum64String(filter.Canonical()), 16)
}

// GetCachedTaskList returns a copy of the cached list for filter.
func (c *TaskCache) GetCachedTaskList(ctx context.Context, namespace string, filter domain.TaskFilter) ([]domain.Task, bool) {
	tasks, ok := c.ns(namespace).lists.Get(ctx, Signature(filter))
	c.record(KindList, ok)
	if !ok {
		return nil, false
	}
	return domain.CloneTasks(tasks), true
}

// CacheTaskList stores a copy of tasks under the filter's signature.
func (c *TaskCache) CacheTaskList(ctx context.Context, namespace string, filter domain.TaskFilter, tasks []domain.Task) {
	c.ns(namespace).lists.Set(ctx, Signature(filter), domain.CloneTasks(tasks), c.cfg.ListTTL)
}

// LoadTaskList returns the cached list for filter or loads, caches and
// returns it. The bool reports a cache hit.
func (c *TaskCache) LoadTaskList(ctx context.Context, namespace string, filter domain.TaskFilter, load Loader[[]domain.Task]) ([]domain.Task, bool, error) {
	tasks, hit, err := c.ns(namespace).listRT.Get(ctx, Signature(filter), c.cfg.ListTTL, load)
	c.record(KindList, hit)
	if err != nil {
		return nil, false, err
	}
	return domain.CloneTasks(tasks), hit, nil
}

// GetCachedTask returns a copy of the cached task.
func (c *TaskCache) GetCachedTask(ctx context.Context, namespace, id string) (domain.Task, bool) {
	task, ok := c.ns(namespace).entities.Get(ctx, id)
	c.record(KindEntity, ok)
	if !ok {
		return domain.Task{}, false
	}
	return task.Clone(), true
}

// CacheTask stores a copy of task. In-flight loads of the namespace started
// before this call are not cached.
func (c *TaskCache) CacheTask(ctx context.Context, namespace string, task domain.Task) {
	n := c.ns(namespace)
	n.write(func() {
		n.entities.Set(ctx, task.ID, task.Clone(), c.cfg.EntityTTL)
	})
}

// LoadTask returns the cached task or loads, caches and returns it.
func (c *TaskCache) LoadTask(ctx context.Context, namespace, id string, load Loader[domain.Task]) (domain.Task, bool, error) {
	task, hit, err := c.ns(namespace).entityRT.Get(ctx, id, c.cfg.EntityTTL, load)
	c.record(KindEntity, hit)
	if err != nil {
		return domain.Task{}, false, err
	}
	return task.Clone(), hit, nil
}

// GetCachedStatistics returns a copy of the cached analytics.
func (c *TaskCache) GetCachedStatistics(ctx context.Context, namespace string) (domain.Analytics, bool) {
	a, ok := c.ns(namespace).stats.Get(ctx, statisticsKey)
	c.record(KindStats, ok)
	if !ok {
		return domain.Analytics{}, false
	}
	return a.Clone(), true
}

// CacheStatistics stores a copy of the analytics aggregate.
func (c *TaskCache) CacheStatistics(ctx context.Context, namespace string, a domain.Analytics) {
	c.ns(namespace).stats.Set(ctx, statisticsKey, a.Clone(), c.cfg.StatsTTL)
}

// LoadStatistics returns the cached analytics or loads, caches and returns them.
func (c *TaskCache) LoadStatistics(ctx context.Context, namespace string, load Loader[domain.Analytics]) (domain.Analytics, bool, error) {
	a, hit, err := c.ns(namespace).statsRT.Get(ctx, statisticsKey, c.cfg.StatsTTL, load)
	c.record(KindStats, hit)
	if err != nil {
		return domain.Analytics{}, false, err
	}
	return a.Clone(), hit, nil
}

// InvalidateTask removes a single task entry.
func (c *TaskCache) InvalidateTask(ctx context.Context, namespace, id string) {
	n := c.ns(namespace)
	n.write(func() {
		_ = n.entities.Delete(ctx, id)
	})
}

// InvalidateTaskLists drops every list and statistics entry of the namespace.
func (c *TaskCache) InvalidateTaskLists(ctx context.Context, namespace string) {
	n := c.ns(namespace)
	n.write(func() {
		_ = n.lists.Flush(ctx)
		_ = n.stats.Flush(ctx)
	})
	log.Debug(log.CatCache, "invalidated lists", "namespace", namespace)
}

// InvalidateNamespace drops every entry of the namespace.
func (c *TaskCache) InvalidateNamespace(ctx context.Context, namespace string) {
	n := c.ns(namespace)
	n.write(func() {
		_ = n.entities.Flush(ctx)
		_ = n.lists.Flush(ctx)
		_ = n.stats.Flush(ctx)
	})
	log.Debug(log.CatCache, "invalidated namespace", "namespace", namespace)
}

// Flush drops every entry of every namespace.
func (c *TaskCache) Flush(ctx context.Context) {
	c.mu.Lock()
	names := make([]string, 0, len(c.namespaces))
	for name := range c.namespaces {
		names = append(names, name)
	}
	c.mu.Unlock()
	for _, name := range names {
		c.InvalidateNamespace(ctx, name)
	}
}

// Stats returns lookup counts and current occupancy per kind.
func (c *TaskCache) Stats() CacheStats {
	s := CacheStats{
		Hits:    make(map[string]int64, 3),
		Misses:  make(map[string]int64, 3),
		Entries: make(map[string]int, 3),
		Evicted: make(map[string]int64, 3),
	}
	for _, kind := range []string{KindEntity, KindList, KindStats} {
		s.Hits[kind] = c.hits[kindIndex(kind)].Load()
		s.Misses[kind] = c.misses[kindIndex(kind)].Load()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.namespaces {
		s.Entries[KindEntity] += n.entities.Len()
		s.Entries[KindList] += n.lists.Len()
		s.Entries[KindStats] += n.stats.Len()
		s.Evicted[KindEntity] += n.entities.Evicted()
		s.Evicted[KindList] += n.lists.Evicted()
		s.Evicted[KindStats] += n.stats.Evicted()
	}
	return s
}
