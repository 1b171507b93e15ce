package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/zjrosen/deepwork/internal/log"
	"github.com/zjrosen/deepwork/internal/persistence"
	"github.com/zjrosen/deepwork/internal/session"
	"github.com/zjrosen/deepwork/internal/tasks/domain"
	"github.com/zjrosen/deepwork/internal/transform"
)

// RestoreSessions rebuilds the session table from stored tasks that are in
// progress or paused, so a new process starts with the ceiling it left off
// at. In-progress tasks are restored first, most focused first. Tasks beyond
// the ceiling keep their stored status and are reported as warnings.
func (o *Orchestrator) RestoreSessions(ctx context.Context) Result[int] {
	ctx, c := o.begin(ctx, "RestoreSessions", "")

	filter := domain.TaskFilter{Statuses: []domain.Status{domain.StatusInProgress, domain.StatusPaused}}
	resp, attempts, err := storeCall(ctx, o, "GetAllTasks", func(ctx context.Context) (persistence.Response[[]persistence.TaskRow], error) {
		return o.store.GetAllTasks(ctx, persistence.QueryOptions{Filter: filter})
	})
	c.meta.StoreAttempts = attempts
	if err != nil {
		return finish(c, 0, c.storeErr(err))
	}
	c.meta.Source = SourcePersistence

	out := transform.RowsToTasks(resp.Data, transform.Options{Shape: transform.ShapeStorage})
	if !out.Success {
		return finish(c, 0, c.malformed(out.Warnings, out.Err))
	}

	done := c.phase(&c.meta.BusinessLogicTime)

	tasks := sortByFocus(out.Data)
	restored := 0
	for _, pass := range []domain.Status{domain.StatusInProgress, domain.StatusPaused} {
		for _, t := range tasks {
			if t.Status != pass {
				continue
			}
			err := o.sessions.Restore(t.ID, pass == domain.StatusPaused, t.UpdatedAt, t.EstimatedDurationTime(), t.FocusIntensity)
			if errors.Is(err, session.ErrCeilingReached) {
				c.warn(fmt.Sprintf("session for task %s not restored: maximum concurrent sessions (%d) reached", t.ID, o.et.MaxConcurrentSessions))
				continue
			}
			restored++
		}
	}
	done()
	log.Info(log.CatSession, "restored sessions", "count", restored, "skipped", len(c.warnings))
	return finish(c, restored, nil)
}
