// Package orchestrator coordinates validation, caching, persistence,
// transformation, error classification and session tracking for one task
// entity type.
//
// Every operation returns a Result; no error or panic crosses the package
// boundary. Mutations of the same task id are serialized; different ids run
// in parallel. Each store call is bounded by the entity type's
// OperationTimeout and transient store failures are retried with backoff.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/deepwork/internal/cachemanager"
	"github.com/zjrosen/deepwork/internal/errs"
	"github.com/zjrosen/deepwork/internal/log"
	"github.com/zjrosen/deepwork/internal/persistence"
	"github.com/zjrosen/deepwork/internal/pubsub"
	"github.com/zjrosen/deepwork/internal/session"
	"github.com/zjrosen/deepwork/internal/tasks/domain"
	"github.com/zjrosen/deepwork/internal/tracing"
	"github.com/zjrosen/deepwork/internal/validation"
)

// Metrics receives orchestrator measurements. *metrics.Collector
// implements it.
type Metrics interface {
	ObserveOperation(op, outcome string, d time.Duration)
	CacheLookup(kind string, hit bool)
	StoreRetry(op string)
	SetActiveSessions(n int)
	CeilingRejected()
	Interrupted()
}

type nopMetrics struct{}

func (nopMetrics) ObserveOperation(string, string, time.Duration) {}
func (nopMetrics) CacheLookup(string, bool)                       {}
func (nopMetrics) StoreRetry(string)                              {}
func (nopMetrics) SetActiveSessions(int)                          {}
func (nopMetrics) CeilingRejected()                               {}
func (nopMetrics) Interrupted()                                   {}

// TaskEvent is published after every successful mutation.
type TaskEvent struct {
	Namespace string        `json:"namespace"`
	TaskID    string        `json:"taskId"`
	Status    domain.Status `json:"status,omitempty"`
	Task      *domain.Task  `json:"task,omitempty"`
}

// Deps are the collaborators of an Orchestrator. Only Store is required.
type Deps struct {
	Store    persistence.Store
	Cache    *cachemanager.TaskCache
	Sessions *session.Tracker
	Metrics  Metrics
	Tracer   trace.Tracer
	Events   pubsub.Publisher[TaskEvent]
	Clock    func() time.Time
	IDs      func() string
}

// Orchestrator is the public operation set for one entity type.
type Orchestrator struct {
	et          EntityType
	rules       validation.Rules
	transitions validation.Transitions

	store    persistence.Store
	cache    *cachemanager.TaskCache
	sessions *session.Tracker
	metrics  Metrics
	tracer   trace.Tracer
	events   pubsub.Publisher[TaskEvent]
	now      func() time.Time
	newID    func() string

	locks *keyLocks
}

// New creates an Orchestrator for et.
func New(deps Deps, et EntityType) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	et = et.withDefaults()

	o := &Orchestrator{
		et:          et,
		rules:       et.Rules(),
		transitions: et.Transitions(),
		store:       deps.Store,
		cache:       deps.Cache,
		sessions:    deps.Sessions,
		metrics:     deps.Metrics,
		tracer:      deps.Tracer,
		events:      deps.Events,
		now:         deps.Clock,
		newID:       deps.IDs,
		locks:       newKeyLocks(),
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	if o.cache == nil {
		cfg := cachemanager.DefaultTaskCacheConfig()
		cfg.LoadTimeout = et.LoadBudget()
		o.cache = cachemanager.NewTaskCache(cfg)
	}
	if o.sessions == nil {
		o.sessions = session.NewTracker(session.Config{
			MaxConcurrent:       et.MaxConcurrentSessions,
			ProtectionThreshold: et.ProtectionFocusThreshold,
			Clock:               o.now,
		})
	}
	if o.metrics == nil {
		o.metrics = nopMetrics{}
	}
	return o, nil
}

// EntityType returns the descriptor the orchestrator was built with.
func (o *Orchestrator) EntityType() EntityType {
	return o.et
}

// call is the bookkeeping of one operation in flight.
type call struct {
	o        *Orchestrator
	op       string
	noun     string // entity named in not-found messages
	start    time.Time
	ectx     errs.Context
	span     trace.Span
	meta     Metadata
	warnings []string
}

func (o *Orchestrator) begin(ctx context.Context, op, id string) (context.Context, *call) {
	attrs := []attribute.KeyValue{
		attribute.String(tracing.AttrEntityType, o.et.Tag),
		attribute.String(tracing.AttrNamespace, o.et.Namespace),
	}
	if id != "" {
		attrs = append(attrs, attribute.String(tracing.AttrTaskID, id))
	}
	ctx, span := tracing.StartOperation(ctx, o.tracer, op, attrs...)
	return ctx, &call{
		o:     o,
		op:    op,
		noun:  "Task",
		start: time.Now(),
		ectx:  errs.Context{Operation: op, EntityType: o.et.Tag, EntityID: id, Timestamp: o.now()},
		span:  span,
		meta:  Metadata{Source: SourceNone, Complexity: domain.ComplexityLow},
	}
}

func (c *call) warn(msgs ...string) {
	c.warnings = append(c.warnings, msgs...)
}

// phase measures a sub-step into one of the metadata timings.
func (c *call) phase(into *time.Duration) func() {
	start := time.Now()
	return func() { *into += time.Since(start) }
}

func finish[T any](c *call, data T, err *errs.OpError) Result[T] {
	c.meta.ExecutionTime = time.Since(c.start)
	c.span.SetAttributes(
		attribute.String(tracing.AttrSource, string(c.meta.Source)),
		attribute.Bool(tracing.AttrCacheHit, c.meta.Cached),
		attribute.String(tracing.AttrComplexity, string(c.meta.Complexity)),
	)
	if c.meta.StoreAttempts > 0 {
		c.span.SetAttributes(attribute.Int(tracing.AttrAttempts, c.meta.StoreAttempts))
	}

	outcome := "success"
	if err != nil {
		outcome = string(err.Kind)
		tracing.EndOperation(c.span, err, string(err.Kind), string(err.BusinessKind))
	} else {
		tracing.EndOperation(c.span, nil, "", "")
	}
	c.o.metrics.ObserveOperation(c.op, outcome, c.meta.ExecutionTime)
	c.o.metrics.SetActiveSessions(c.o.sessions.Count())

	if err != nil {
		return fail[T](err, c.warnings, c.meta)
	}
	log.Debug(log.CatOrch, "operation complete",
		"op", c.op, "entity_type", c.o.et.Tag, "source", c.meta.Source,
		"cached", c.meta.Cached, "elapsed", c.meta.ExecutionTime)
	return succeed(data, c.warnings, c.meta)
}

// storeErr classifies an error returned by the store. The entity id stays
// in the error context and is logged, never put in the message.
func (c *call) storeErr(err error) *errs.OpError {
	if errors.Is(err, persistence.ErrNotFound) {
		return errs.HandleBusinessLogicError(fmt.Errorf("%s not found", c.noun), c.ectx, errs.NotFound)
	}
	return errs.HandleDatabaseError(err, c.ectx)
}

func (c *call) cacheLookup(kind string, hit bool) {
	c.o.metrics.CacheLookup(kind, hit)
	if hit {
		c.span.AddEvent(tracing.EventCacheHit, trace.WithAttributes(attribute.String("kind", kind)))
		c.meta.Cached = true
		c.meta.Source = SourceCache
	} else {
		c.span.AddEvent(tracing.EventCacheMiss, trace.WithAttributes(attribute.String("kind", kind)))
		c.meta.Source = SourcePersistence
	}
}

func (o *Orchestrator) publish(t pubsub.EventType, id string, task *domain.Task) {
	if o.events == nil {
		return
	}
	ev := TaskEvent{Namespace: o.et.Namespace, TaskID: id}
	if task != nil {
		cp := task.Clone()
		ev.Task = &cp
		ev.Status = task.Status
	}
	o.events.Publish(t, ev)
}
