package orchestrator

import (
	"cmp"
	"context"
	"slices"

	"github.com/zjrosen/deepwork/internal/cachemanager"
	"github.com/zjrosen/deepwork/internal/errs"
	"github.com/zjrosen/deepwork/internal/log"
	"github.com/zjrosen/deepwork/internal/persistence"
	"github.com/zjrosen/deepwork/internal/session"
	"github.com/zjrosen/deepwork/internal/tasks/domain"
	"github.com/zjrosen/deepwork/internal/transform"
)

// GetTasks returns the tasks matching filter, most focused first. A cached
// list for an equivalent filter is returned without touching the store.
func (o *Orchestrator) GetTasks(ctx context.Context, filter domain.TaskFilter) Result[[]domain.Task] {
	ctx, c := o.begin(ctx, "GetTasks", "")

	load := func(ctx context.Context) ([]domain.Task, error) {
		opts := persistence.QueryOptions{Filter: filter, IncludeDependencies: true, IncludeSubtasks: true}
		resp, attempts, err := storeCall(ctx, o, "GetAllTasks", func(ctx context.Context) (persistence.Response[[]persistence.TaskRow], error) {
			return o.store.GetAllTasks(ctx, opts)
		})
		c.meta.StoreAttempts = attempts
		if err != nil {
			return nil, c.storeErr(err)
		}
		c.meta.Complexity = resp.Metadata.Complexity

		done := c.phase(&c.meta.TransformationTime)
		out := transform.RowsToTasks(resp.Data, transform.Full())
		done()
		if !out.Success {
			return nil, c.malformed(out.Warnings, out.Err)
		}

		done = c.phase(&c.meta.BusinessLogicTime)
		tasks := sortByFocus(out.Data)
		if filter.Limit > 0 && len(tasks) > filter.Limit {
			tasks = tasks[:filter.Limit]
		}
		done()
		return tasks, nil
	}

	tasks, hit, err := o.cache.LoadTaskList(ctx, o.et.Namespace, filter, load)
	c.cacheLookup(cachemanager.KindList, hit)
	if err != nil {
		return finish[[]domain.Task](c, nil, errs.HandleError(err, c.ectx))
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return finish(c, tasks, nil)
}

// sortByFocus orders by focus intensity, then priority (both descending),
// then creation time and id.
func sortByFocus(tasks []domain.Task) []domain.Task {
	slices.SortStableFunc(tasks, func(a, b domain.Task) int {
		if c := cmp.Compare(b.FocusIntensity, a.FocusIntensity); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return tasks
}

// malformed classifies rows the store returned but that could not be
// transformed. The store is the system of record, so this is a persistence
// failure.
func (c *call) malformed(warnings []string, err error) *errs.OpError {
	for _, w := range warnings {
		log.Warn(log.CatDB, "malformed row", "op", c.op, "problem", w)
	}
	return errs.HandleDatabaseError(err, c.ectx.With("problems", len(warnings)))
}

// GetTask returns a single task, from the cache when possible.
func (o *Orchestrator) GetTask(ctx context.Context, id string) Result[domain.Task] {
	ctx, c := o.begin(ctx, "GetTask", id)
	task, err := o.loadTask(ctx, c, id)
	if err != nil {
		return finish(c, domain.Task{}, err)
	}
	return finish(c, task, nil)
}

// loadTask reads a task through the entity cache.
func (o *Orchestrator) loadTask(ctx context.Context, c *call, id string) (domain.Task, *errs.OpError) {
	load := func(ctx context.Context) (domain.Task, error) {
		resp, attempts, err := storeCall(ctx, o, "GetTask", func(ctx context.Context) (persistence.Response[persistence.TaskRow], error) {
			return o.store.GetTask(ctx, id)
		})
		c.meta.StoreAttempts += attempts
		if err != nil {
			return domain.Task{}, c.storeErr(err)
		}
		c.meta.Complexity = resp.Metadata.Complexity

		done := c.phase(&c.meta.TransformationTime)
		out := transform.RowToTask(resp.Data, transform.Full())
		done()
		if !out.Success {
			return domain.Task{}, c.malformed(out.Warnings, out.Err)
		}
		return out.Data, nil
	}

	task, hit, err := o.cache.LoadTask(ctx, o.et.Namespace, id, load)
	c.cacheLookup(cachemanager.KindEntity, hit)
	if err != nil {
		return domain.Task{}, errs.HandleError(err, c.ectx)
	}
	return task, nil
}

// GetAnalytics returns the store aggregate merged with live session
// insights. The merged value is cached until the next mutation or TTL.
func (o *Orchestrator) GetAnalytics(ctx context.Context) Result[domain.Analytics] {
	ctx, c := o.begin(ctx, "GetAnalytics", "")

	load := func(ctx context.Context) (domain.Analytics, error) {
		resp, attempts, err := storeCall(ctx, o, "GetAnalytics", func(ctx context.Context) (persistence.Response[persistence.AnalyticsRow], error) {
			return o.store.GetAnalytics(ctx)
		})
		c.meta.StoreAttempts = attempts
		if err != nil {
			return domain.Analytics{}, c.storeErr(err)
		}
		c.meta.Complexity = resp.Metadata.Complexity

		done := c.phase(&c.meta.TransformationTime)
		a := transform.AnalyticsFromRow(resp.Data)
		a.Sessions = o.sessions.Insights()
		done()
		return a, nil
	}

	a, hit, err := o.cache.LoadStatistics(ctx, o.et.Namespace, load)
	c.cacheLookup(cachemanager.KindStats, hit)
	if err != nil {
		return finish(c, domain.Analytics{}, errs.HandleError(err, c.ectx))
	}
	return finish(c, a, nil)
}

// Sessions returns a snapshot of every live session.
func (o *Orchestrator) Sessions() []session.Session {
	return o.sessions.List()
}

// SessionInsights summarizes the live sessions.
func (o *Orchestrator) SessionInsights() domain.SessionInsights {
	return o.sessions.Insights()
}

// CacheStats returns cache hit and miss counts.
func (o *Orchestrator) CacheStats() cachemanager.CacheStats {
	return o.cache.Stats()
}
