package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/deepwork/internal/errs"
	"github.com/zjrosen/deepwork/internal/log"
	"github.com/zjrosen/deepwork/internal/persistence"
	"github.com/zjrosen/deepwork/internal/pubsub"
	"github.com/zjrosen/deepwork/internal/session"
	"github.com/zjrosen/deepwork/internal/tasks/domain"
	"github.com/zjrosen/deepwork/internal/tracing"
	"github.com/zjrosen/deepwork/internal/transform"
	"github.com/zjrosen/deepwork/internal/validation"
)

// WarnFlowProtection is attached to updates of a task whose session is
// protected.
const WarnFlowProtection = "flow-state protection active"

var storageShape = transform.Options{
	Shape:               transform.ShapeStorage,
	IncludeDependencies: true,
	IncludeSubtasks:     true,
}

// CreateTask validates input, applies defaults and persists a new task. A
// task created in progress reserves a session first; when the ceiling is
// reached nothing is persisted.
func (o *Orchestrator) CreateTask(ctx context.Context, in domain.CreateInput) Result[domain.Task] {
	ctx, c := o.begin(ctx, "CreateTask", "")

	done := c.phase(&c.meta.ValidationTime)
	res := validation.ValidateCreateInput(in, o.rules)
	done()
	c.warn(res.Warnings...)
	if !res.IsValid {
		c.span.AddEvent(tracing.EventValidationFailed)
		return finish(c, domain.Task{}, errs.HandleValidationError(res.Errors, c.ectx))
	}
	in = validation.ApplyCreateDefaults(in, o.rules)

	done = c.phase(&c.meta.BusinessLogicTime)
	if err := c.checkDependencies(len(in.Dependencies)); err != nil {
		done()
		return finish(c, domain.Task{}, err)
	}

	now := o.now()
	task := domain.Task{
		ID:                o.newID(),
		Title:             in.Title,
		Description:       in.Description,
		Status:            in.Status,
		Priority:          in.Priority,
		FocusIntensity:    in.FocusIntensity,
		Complexity:        in.Complexity,
		EstimatedDuration: in.EstimatedDuration,
		Dependencies:      in.Dependencies,
		Subtasks:          o.newSubtasks(in.Subtasks),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	c.ectx.EntityID = task.ID
	c.span.SetAttributes(attribute.String(tracing.AttrTaskID, task.ID))

	reserved := false
	if task.Status == domain.StatusInProgress {
		if err := c.reserveSession(task); err != nil {
			done()
			return finish(c, domain.Task{}, err)
		}
		reserved = true
	}
	done()

	created, err := c.persistRow(ctx, task, func(ctx context.Context, row persistence.TaskRow) (persistence.Response[persistence.TaskRow], error) {
		return o.store.CreateTask(ctx, row)
	})
	if err != nil {
		if reserved {
			o.sessions.Remove(task.ID)
		}
		return finish(c, domain.Task{}, err)
	}

	o.cache.CacheTask(ctx, o.et.Namespace, created)
	o.cache.InvalidateTaskLists(ctx, o.et.Namespace)
	o.publish(pubsub.CreatedEvent, created.ID, &created)
	c.meta.Source = SourcePersistence
	return finish(c, created, nil)
}

// UpdateTask applies a partial update. Updates of a protected task are not
// blocked; they carry a warning and count as an interruption unless they
// pause or complete the task.
func (o *Orchestrator) UpdateTask(ctx context.Context, id string, u domain.UpdateInput) Result[domain.Task] {
	ctx, c := o.begin(ctx, "UpdateTask", id)
	unlock := o.locks.Lock(id)
	defer unlock()

	done := c.phase(&c.meta.ValidationTime)
	res := validation.ValidateUpdateInput(u, o.rules)
	problems := res.Errors
	if u.Dependencies != nil && slices.Contains(*u.Dependencies, id) {
		problems = append(problems, "a task cannot depend on itself")
	}
	done()
	c.warn(res.Warnings...)
	if len(problems) > 0 {
		c.span.AddEvent(tracing.EventValidationFailed)
		return finish(c, domain.Task{}, errs.HandleValidationError(problems, c.ectx))
	}

	var deps []string
	if u.Dependencies != nil {
		deps = validation.Dedupe(*u.Dependencies)
		if err := c.checkDependencies(len(deps)); err != nil {
			return finish(c, domain.Task{}, err)
		}
	}

	interrupting := false
	if o.sessions.IsProtected(id) {
		c.warn(WarnFlowProtection)
		interrupting = u.Status == nil || *u.Status == domain.StatusInProgress
	}

	current, err := o.loadTask(ctx, c, id)
	if err != nil {
		return finish(c, domain.Task{}, err)
	}

	if u.OnlyStatus() {
		task, err := o.transition(ctx, c, current, *u.Status)
		if err != nil {
			return finish(c, domain.Task{}, err)
		}
		if interrupting {
			c.interrupt(id)
		}
		return finish(c, task, nil)
	}

	next := current.Status
	if u.Status != nil {
		tr := validation.ValidateStatusTransition(current.Status, *u.Status, o.transitions)
		c.warn(tr.Warnings...)
		if !tr.IsValid {
			return finish(c, domain.Task{}, errs.HandleTransitionError(tr.Errors, c.ectx))
		}
		next = *u.Status
	}

	done = c.phase(&c.meta.BusinessLogicTime)
	updated := o.applyUpdate(current, u, deps, next)
	reserved := false
	if next != current.Status && next == domain.StatusInProgress {
		if _, live := o.sessions.Get(id); !live {
			if err := c.reserveSession(updated); err != nil {
				done()
				return finish(c, domain.Task{}, err)
			}
			reserved = true
		}
	}
	done()

	stored, err := c.persistRow(ctx, updated, func(ctx context.Context, row persistence.TaskRow) (persistence.Response[persistence.TaskRow], error) {
		return o.store.UpdateTask(ctx, id, row)
	})
	if err != nil {
		if reserved {
			o.sessions.Remove(id)
		}
		return finish(c, domain.Task{}, err)
	}

	if interrupting {
		c.interrupt(id)
	}
	if next != current.Status {
		c.driveSession(stored)
	}
	o.cache.CacheTask(ctx, o.et.Namespace, stored)
	o.cache.InvalidateTaskLists(ctx, o.et.Namespace)
	o.publish(pubsub.UpdatedEvent, id, &stored)
	if next != current.Status {
		o.publish(pubsub.StatusChangedEvent, id, &stored)
	}
	return finish(c, stored, nil)
}

// UpdateTaskStatus marks a task completed, or takes it out of completion
// and progress. Completing an already completed task succeeds without a
// write. Un-completing moves an in-progress task to paused; pending and
// paused tasks are left alone; a completed task cannot be reopened.
func (o *Orchestrator) UpdateTaskStatus(ctx context.Context, id string, completed bool) Result[domain.Task] {
	ctx, c := o.begin(ctx, "UpdateTaskStatus", id)
	unlock := o.locks.Lock(id)
	defer unlock()

	current, err := o.loadTask(ctx, c, id)
	if err != nil {
		return finish(c, domain.Task{}, err)
	}

	var next domain.Status
	switch {
	case completed && current.Status == domain.StatusCompleted:
		c.warn("task is already completed")
		if _, ok := o.sessions.Complete(id); ok {
			log.Debug(log.CatSession, "stale session closed", "taskID", id)
		}
		return finish(c, current, nil)
	case completed:
		next = domain.StatusCompleted
	case current.Status == domain.StatusInProgress:
		next = domain.StatusPaused
	case current.Status == domain.StatusCompleted:
		next = domain.StatusPending
	default:
		c.warn(fmt.Sprintf("task is already %s", current.Status))
		return finish(c, current, nil)
	}

	task, err := o.transition(ctx, c, current, next)
	if err != nil {
		return finish(c, domain.Task{}, err)
	}
	return finish(c, task, nil)
}

// StartTask moves a task to in-progress, opening or resuming its session.
func (o *Orchestrator) StartTask(ctx context.Context, id string) Result[domain.Task] {
	ctx, c := o.begin(ctx, "StartTask", id)
	unlock := o.locks.Lock(id)
	defer unlock()

	current, err := o.loadTask(ctx, c, id)
	if err != nil {
		return finish(c, domain.Task{}, err)
	}
	task, err := o.transition(ctx, c, current, domain.StatusInProgress)
	if err != nil {
		return finish(c, domain.Task{}, err)
	}
	return finish(c, task, nil)
}

// UpdateSubtaskStatus sets a subtask's completion flag. The write holds the
// parent task's lock so it cannot interleave with a full-row UpdateTask. The
// parent's cache entry is dropped rather than patched.
func (o *Orchestrator) UpdateSubtaskStatus(ctx context.Context, subtaskID string, completed bool) Result[domain.Subtask] {
	ctx, c := o.begin(ctx, "UpdateSubtaskStatus", subtaskID)
	c.noun = "Subtask"
	c.span.SetAttributes(attribute.String(tracing.AttrSubtaskID, subtaskID))

	if strings.TrimSpace(subtaskID) == "" {
		return finish(c, domain.Subtask{}, errs.HandleValidationError([]string{"subtask id is required"}, c.ectx))
	}

	owner, attempts, err := storeCall(ctx, o, "GetSubtask", func(ctx context.Context) (persistence.Response[persistence.SubtaskRow], error) {
		return o.store.GetSubtask(ctx, subtaskID)
	})
	c.meta.StoreAttempts = attempts
	if err != nil {
		c.meta.Source = SourcePersistence
		return finish(c, domain.Subtask{}, c.storeErr(err))
	}
	parentID := owner.Data.TaskID
	c.span.SetAttributes(attribute.String(tracing.AttrTaskID, parentID))
	unlock := o.locks.Lock(parentID)
	defer unlock()

	resp, attempts, err := storeCall(ctx, o, "UpdateSubtaskStatus", func(ctx context.Context) (persistence.Response[persistence.SubtaskRow], error) {
		return o.store.UpdateSubtaskStatus(ctx, subtaskID, completed, o.now())
	})
	c.meta.StoreAttempts += attempts
	c.meta.Source = SourcePersistence
	if err != nil {
		return finish(c, domain.Subtask{}, c.storeErr(err))
	}

	row := resp.Data
	o.cache.InvalidateTask(ctx, o.et.Namespace, row.TaskID)
	o.cache.InvalidateTaskLists(ctx, o.et.Namespace)
	o.publish(pubsub.UpdatedEvent, row.TaskID, nil)

	return finish(c, domain.Subtask{
		ID:        row.ID,
		Title:     row.Title,
		Completed: row.Completed,
		Position:  row.Position,
	}, nil)
}

// DeleteTask removes a task. Its live session, if any, is dropped without
// completion.
func (o *Orchestrator) DeleteTask(ctx context.Context, id string) Result[string] {
	ctx, c := o.begin(ctx, "DeleteTask", id)
	unlock := o.locks.Lock(id)
	defer unlock()

	_, attempts, err := storeCall(ctx, o, "DeleteTask", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.store.DeleteTask(ctx, id)
	})
	c.meta.StoreAttempts = attempts
	c.meta.Source = SourcePersistence
	if err != nil {
		return finish(c, "", c.storeErr(err))
	}

	if o.sessions.Remove(id) {
		log.Debug(log.CatSession, "session dropped with deleted task", "taskID", id)
	}
	o.cache.InvalidateTask(ctx, o.et.Namespace, id)
	o.cache.InvalidateTaskLists(ctx, o.et.Namespace)
	o.publish(pubsub.DeletedEvent, id, nil)
	return finish(c, id, nil)
}

// InvalidateNamespace drops every cached value of the orchestrator's
// namespace. Used when the store was changed behind the orchestrator's back.
func (o *Orchestrator) InvalidateNamespace(ctx context.Context) {
	o.cache.InvalidateNamespace(ctx, o.et.Namespace)
	log.Info(log.CatCache, "namespace invalidated", "namespace", o.et.Namespace)
	if o.events != nil {
		o.events.Publish(pubsub.InvalidatedEvent, TaskEvent{Namespace: o.et.Namespace})
	}
}

// transition moves current to next through the store's status update. The
// caller holds the task lock. A same-state request is a no-op with a
// warning.
func (o *Orchestrator) transition(ctx context.Context, c *call, current domain.Task, next domain.Status) (domain.Task, *errs.OpError) {
	id := current.ID
	c.span.SetAttributes(attribute.String(tracing.AttrTaskStatus, string(next)))

	done := c.phase(&c.meta.ValidationTime)
	tr := validation.ValidateStatusTransition(current.Status, next, o.transitions)
	done()
	c.warn(tr.Warnings...)
	if !tr.IsValid {
		return domain.Task{}, errs.HandleTransitionError(tr.Errors, c.ectx.With("from", string(current.Status)).With("to", string(next)))
	}
	if current.Status == next {
		return current, nil
	}

	reserved := false
	if next == domain.StatusInProgress {
		if _, live := o.sessions.Get(id); !live {
			if err := c.reserveSession(current); err != nil {
				return domain.Task{}, err
			}
			reserved = true
		}
	}

	resp, attempts, err := storeCall(ctx, o, "UpdateTaskStatus", func(ctx context.Context) (persistence.Response[persistence.TaskRow], error) {
		return o.store.UpdateTaskStatus(ctx, id, next, o.now())
	})
	c.meta.StoreAttempts += attempts
	c.meta.Source = SourcePersistence
	if err != nil {
		if reserved {
			o.sessions.Remove(id)
		}
		return domain.Task{}, c.storeErr(err)
	}

	done = c.phase(&c.meta.TransformationTime)
	out := transform.RowToTask(resp.Data, transform.Full())
	done()
	if !out.Success {
		return domain.Task{}, c.malformed(out.Warnings, out.Err)
	}
	task := out.Data

	c.driveSession(task)
	o.cache.CacheTask(ctx, o.et.Namespace, task)
	o.cache.InvalidateTaskLists(ctx, o.et.Namespace)
	o.publish(pubsub.StatusChangedEvent, id, &task)
	return task, nil
}

// persistRow converts task to its storage row, writes it with write and
// converts the stored row back.
func (c *call) persistRow(ctx context.Context, task domain.Task, write func(context.Context, persistence.TaskRow) (persistence.Response[persistence.TaskRow], error)) (domain.Task, *errs.OpError) {
	done := c.phase(&c.meta.TransformationTime)
	in := transform.TaskToRow(task, storageShape)
	done()
	if !in.Success {
		return domain.Task{}, errs.HandleError(in.Err, c.ectx.With("problems", strings.Join(in.Warnings, "; ")))
	}

	resp, attempts, err := storeCall(ctx, c.o, c.op, func(ctx context.Context) (persistence.Response[persistence.TaskRow], error) {
		return write(ctx, in.Data)
	})
	c.meta.StoreAttempts += attempts
	c.meta.Source = SourcePersistence
	if err != nil {
		return domain.Task{}, c.storeErr(err)
	}
	c.meta.Complexity = resp.Metadata.Complexity

	done = c.phase(&c.meta.TransformationTime)
	out := transform.RowToTask(resp.Data, transform.Full())
	done()
	if !out.Success {
		return domain.Task{}, c.malformed(out.Warnings, out.Err)
	}
	return out.Data, nil
}

// checkDependencies enforces the dependency count limit. Lists are
// rejected, never truncated.
func (c *call) checkDependencies(n int) *errs.OpError {
	et := c.o.et
	if !et.ValidateDependencies || n <= et.MaxDependencies {
		return nil
	}
	err := fmt.Errorf("Dependency limit exceeded: %d dependencies given, at most %d allowed", n, et.MaxDependencies)
	return errs.HandleBusinessLogicError(err, c.ectx.With("dependencies", n), errs.DependencyLimit)
}

// reserveSession opens a session for task before it is persisted in
// progress.
func (c *call) reserveSession(task domain.Task) *errs.OpError {
	o := c.o
	_, _, err := o.sessions.Start(task.ID, task.EstimatedDurationTime(), task.FocusIntensity)
	if errors.Is(err, session.ErrCeilingReached) {
		o.metrics.CeilingRejected()
		msg := fmt.Errorf("Maximum concurrent sessions (%d) reached, pause or complete a task first", o.sessions.Max())
		return errs.HandleBusinessLogicError(msg, c.ectx.With("live", o.sessions.Count()), errs.ConcurrencyLimit)
	}
	if err != nil {
		return errs.HandleError(err, c.ectx)
	}
	c.span.AddEvent(tracing.EventSessionStarted)
	return nil
}

// driveSession brings the tracker in line with a task's persisted status.
func (c *call) driveSession(task domain.Task) {
	o := c.o
	switch task.Status {
	case domain.StatusInProgress:
		_, resumed, err := o.sessions.Start(task.ID, task.EstimatedDurationTime(), task.FocusIntensity)
		if err != nil {
			log.Warn(log.CatSession, "session not started", "taskID", task.ID, "error", err)
			return
		}
		if resumed {
			log.Debug(log.CatSession, "session resumed", "taskID", task.ID)
		}
	case domain.StatusPaused:
		_, interrupted, err := o.sessions.Pause(task.ID)
		if err != nil && !errors.Is(err, session.ErrNoSession) {
			log.Warn(log.CatSession, "session not paused", "taskID", task.ID, "error", err)
		}
		if interrupted {
			o.metrics.Interrupted()
			c.span.AddEvent(tracing.EventSessionInterrupted)
		}
	case domain.StatusCompleted:
		o.sessions.Complete(task.ID)
	default:
		o.sessions.Remove(task.ID)
	}
}

func (c *call) interrupt(id string) {
	if c.o.sessions.Interrupt(id) {
		c.o.metrics.Interrupted()
		c.span.AddEvent(tracing.EventSessionInterrupted, trace.WithAttributes(attribute.String(tracing.AttrTaskID, id)))
	}
}

func (o *Orchestrator) newSubtasks(in []domain.SubtaskInput) []domain.Subtask {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.Subtask, len(in))
	for i, s := range in {
		out[i] = domain.Subtask{
			ID:        o.newID(),
			Title:     strings.TrimSpace(s.Title),
			Completed: s.Completed,
			Position:  i,
		}
	}
	return out
}

// applyUpdate returns current with every present field of u applied.
func (o *Orchestrator) applyUpdate(current domain.Task, u domain.UpdateInput, deps []string, next domain.Status) domain.Task {
	t := current.Clone()
	t.Meta = nil
	if u.Title != nil {
		t.Title = strings.TrimSpace(*u.Title)
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.Priority != nil {
		t.Priority = *u.Priority
	}
	if u.FocusIntensity != nil {
		t.FocusIntensity = *u.FocusIntensity
	}
	if u.Complexity != nil {
		t.Complexity = *u.Complexity
	}
	if u.EstimatedDuration != nil {
		t.EstimatedDuration = *u.EstimatedDuration
	}
	if u.Dependencies != nil {
		t.Dependencies = deps
	}
	if u.Subtasks != nil {
		t.Subtasks = o.newSubtasks(*u.Subtasks)
	}

	now := o.now()
	t.UpdatedAt = now
	if next != t.Status {
		t.Status = next
		t.CompletedAt = nil
		if next == domain.StatusCompleted {
			t.CompletedAt = &now
		}
	}
	return t
}
