// Package errs classifies failures raised while orchestrating tasks.
//
// Every failure that crosses the orchestrator boundary is an *OpError: a
// Kind that callers can branch on, a single-line message that is safe to
// show to an end user, and a Context describing where the failure happened.
// The Context and the underlying cause are written to the log; they never
// appear in the user message.
package errs

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/zjrosen/deepwork/internal/log"
)

// Kind is the top-level failure category.
type Kind string

const (
	KindValidation    Kind = "validation"     // caller-fixable, never retried
	KindPersistence   Kind = "persistence"    // backend failure
	KindBusinessLogic Kind = "business_logic" // rule violation
	KindUnknown       Kind = "unknown"        // catch-all
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "Validation Error"
	case KindPersistence:
		return "Persistence Error"
	case KindBusinessLogic:
		return "Business Logic Error"
	default:
		return "Unknown Error"
	}
}

// BusinessKind tags rule violations for analytics and transport mapping.
// Transition failures are validation errors that also carry InvalidTransition.
type BusinessKind string

const (
	ConcurrencyLimit  BusinessKind = "concurrency_limit"
	DependencyLimit   BusinessKind = "dependency_limit"
	NotFound          BusinessKind = "not_found"
	InvalidTransition BusinessKind = "invalid_transition"
)

// Context describes the operation that failed.
type Context struct {
	Operation  string         `json:"operation"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// NewContext builds a Context stamped with the current time.
func NewContext(operation, entityType, entityID string) Context {
	return Context{
		Operation:  operation,
		EntityType: entityType,
		EntityID:   entityID,
		Timestamp:  time.Now(),
	}
}

// With returns a copy of the context with an extra key set.
func (c Context) With(key string, value any) Context {
	extra := make(map[string]any, len(c.Extra)+1)
	maps.Copy(extra, c.Extra)
	extra[key] = value
	c.Extra = extra
	return c
}

// fields flattens the context into key/value pairs for the logger.
func (c Context) fields() []any {
	fields := []any{
		"op", c.Operation,
		"entity_type", c.EntityType,
		"at", c.Timestamp.Format(time.RFC3339Nano),
	}
	if c.EntityID != "" {
		fields = append(fields, "entity_id", c.EntityID)
	}
	for _, k := range sortedKeys(c.Extra) {
		fields = append(fields, k, c.Extra[k])
	}
	return fields
}

// OpError is the typed failure returned by orchestrator operations.
type OpError struct {
	Kind         Kind         // Top-level category
	BusinessKind BusinessKind // Rule tag for business and transition failures
	UserMessage  string       // Single line, safe to display
	Details      []string     // Individual validation messages
	Context      Context      // Diagnostic context, logged not displayed
	Cause        error        // Underlying error, if any
}

// Error implements the error interface and returns the user message only.
func (e *OpError) Error() string {
	return e.UserMessage
}

// Unwrap exposes the underlying cause to errors.Is and errors.As.
func (e *OpError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *OpError with the same kind (and business
// kind when the target sets one).
func (e *OpError) Is(target error) bool {
	t, ok := target.(*OpError)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.BusinessKind == "" || t.BusinessKind == e.BusinessKind
}

// Sentinel values for errors.Is checks against classified failures.
var (
	ErrValidation        = &OpError{Kind: KindValidation}
	ErrPersistence       = &OpError{Kind: KindPersistence}
	ErrUnknown           = &OpError{Kind: KindUnknown}
	ErrConcurrencyLimit  = &OpError{Kind: KindBusinessLogic, BusinessKind: ConcurrencyLimit}
	ErrDependencyLimit   = &OpError{Kind: KindBusinessLogic, BusinessKind: DependencyLimit}
	ErrNotFound          = &OpError{Kind: KindBusinessLogic, BusinessKind: NotFound}
	ErrInvalidTransition = &OpError{Kind: KindValidation, BusinessKind: InvalidTransition}
)

// HandleValidationError classifies input validation failures. The messages are
// caller-fixable and are joined into the user message.
func HandleValidationError(messages []string, ctx Context) *OpError {
	msg := "Validation failed"
	if len(messages) > 0 {
		msg += ": " + oneLine(strings.Join(messages, "; "))
	}
	e := &OpError{
		Kind:        KindValidation,
		UserMessage: msg,
		Details:     append([]string(nil), messages...),
		Context:     ctx,
	}
	log.Warn(log.CatValidation, "validation failed", append(ctx.fields(), "errors", strings.Join(messages, "; "))...)
	return e
}

// HandleTransitionError classifies a rejected status transition. It is a
// validation failure tagged InvalidTransition.
func HandleTransitionError(messages []string, ctx Context) *OpError {
	e := HandleValidationError(messages, ctx)
	e.BusinessKind = InvalidTransition
	return e
}

// HandleDatabaseError classifies a persistence failure. The user sees a
// generic message; the cause is logged.
func HandleDatabaseError(err error, ctx Context) *OpError {
	msg := "The task store is unavailable, please try again"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "The task store did not respond in time, please try again"
	}
	e := &OpError{
		Kind:        KindPersistence,
		UserMessage: msg,
		Context:     ctx,
		Cause:       err,
	}
	log.ErrorErr(log.CatDB, "persistence failure", err, ctx.fields()...)
	return e
}

// HandleBusinessLogicError classifies a rule violation. The rule message is
// user-facing.
func HandleBusinessLogicError(err error, ctx Context, kind BusinessKind) *OpError {
	msg := "Operation not allowed"
	if err != nil && err.Error() != "" {
		msg = oneLine(err.Error())
	}
	e := &OpError{
		Kind:         KindBusinessLogic,
		BusinessKind: kind,
		UserMessage:  msg,
		Context:      ctx,
		Cause:        err,
	}
	log.Warn(log.CatOrch, "business rule violation", append(ctx.fields(), "kind", string(kind), "reason", msg)...)
	return e
}

// HandleError is the catch-all. Already classified errors pass through with
// the supplied context filled in when they carry none.
func HandleError(err error, ctx Context) *OpError {
	if err == nil {
		return nil
	}
	var op *OpError
	if errors.As(err, &op) {
		if op.Context.Operation == "" {
			cp := *op
			cp.Context = ctx
			return &cp
		}
		return op
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return HandleDatabaseError(err, ctx)
	}
	e := &OpError{
		Kind:        KindUnknown,
		UserMessage: "An unexpected error occurred",
		Context:     ctx,
		Cause:       err,
	}
	log.ErrorErr(log.CatOrch, "unclassified failure", err, ctx.fields()...)
	return e
}

// KindOf returns the kind of a classified error, or KindUnknown.
func KindOf(err error) Kind {
	var op *OpError
	if errors.As(err, &op) {
		return op.Kind
	}
	return KindUnknown
}

// Diagnostic renders the full context and cause for logs and debugging.
func (e *OpError) Diagnostic() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Kind, e.UserMessage)
	if e.BusinessKind != "" {
		fmt.Fprintf(&b, " kind=%s", e.BusinessKind)
	}
	f := e.Context.fields()
	for i := 0; i+1 < len(f); i += 2 {
		fmt.Fprintf(&b, " %v=%v", f[i], f[i+1])
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, " cause=%q", e.Cause.Error())
	}
	return b.String()
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}
