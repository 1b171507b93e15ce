package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrOperation  = "deepwork.operation"
	AttrEntityType = "deepwork.entity_type"
	AttrNamespace  = "deepwork.namespace"
	AttrTaskID     = "task.id"
	AttrTaskStatus = "task.status"
	AttrSubtaskID  = "subtask.id"
	AttrCacheHit   = "cache.hit"
	AttrSource     = "result.source"
	AttrComplexity = "result.complexity"
	AttrRowCount   = "result.row_count"
	AttrAttempts   = "store.attempts"

	AttrErrorKind = "error.kind"
	AttrErrorRule = "error.rule"
)

// SpanPrefixOrchestrator prefixes orchestrator operation spans.
const SpanPrefixOrchestrator = "orchestrator."

// Span event names.
const (
	EventCacheHit           = "cache.hit"
	EventCacheMiss          = "cache.miss"
	EventValidationFailed   = "validation.failed"
	EventStoreRetry         = "store.retry"
	EventSessionStarted     = "session.started"
	EventSessionInterrupted = "session.interrupted"
)

// StartOperation starts the span of an orchestrator operation. A nil tracer
// yields a non-recording span.
func StartOperation(ctx context.Context, tracer trace.Tracer, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	ctx, span := tracer.Start(ctx, SpanPrefixOrchestrator+op, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String(AttrOperation, op))
	span.SetAttributes(attrs...)
	return ctx, span
}

// EndOperation records the outcome and ends the span. kind and rule are the
// error classification; both are empty on success.
func EndOperation(span trace.Span, err error, kind, rule string) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(AttrErrorKind, kind))
		if rule != "" {
			span.SetAttributes(attribute.String(AttrErrorRule, rule))
		}
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
