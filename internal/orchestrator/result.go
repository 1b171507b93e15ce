package orchestrator

import (
	"encoding/json"
	"time"

	"github.com/zjrosen/deepwork/internal/errs"
	"github.com/zjrosen/deepwork/internal/tasks/domain"
)

// Source is where a result's data came from.
type Source string

const (
	SourceCache       Source = "cache"
	SourcePersistence Source = "persistence"
	SourceNone        Source = "none" // failed before any data was read
)

// Metadata describes how a result was produced. Sub-timings are zero when
// the phase did not run.
type Metadata struct {
	Cached             bool
	Source             Source
	ExecutionTime      time.Duration
	Complexity         domain.Complexity
	ValidationTime     time.Duration
	TransformationTime time.Duration
	BusinessLogicTime  time.Duration
	StoreAttempts      int
}

// Result is the outcome of an orchestrator operation. The data is only
// reachable through Data or Unwrap, both of which report failure.
type Result[T any] struct {
	data     T
	err      *errs.OpError
	warnings []string
	meta     Metadata
}

func succeed[T any](data T, warnings []string, meta Metadata) Result[T] {
	return Result[T]{data: data, warnings: warnings, meta: meta}
}

func fail[T any](err *errs.OpError, warnings []string, meta Metadata) Result[T] {
	return Result[T]{err: err, warnings: warnings, meta: meta}
}

// Success reports whether the operation succeeded.
func (r Result[T]) Success() bool {
	return r.err == nil
}

// Data returns the data and true on success, the zero value and false
// otherwise.
func (r Result[T]) Data() (T, bool) {
	if r.err != nil {
		var zero T
		return zero, false
	}
	return r.data, true
}

// Unwrap returns the data, or the classified error.
func (r Result[T]) Unwrap() (T, error) {
	if r.err != nil {
		var zero T
		return zero, r.err
	}
	return r.data, nil
}

// Err returns the classified error, nil on success.
func (r Result[T]) Err() *errs.OpError {
	return r.err
}

// Warnings returns non-fatal notes, such as defaulted fields.
func (r Result[T]) Warnings() []string {
	return r.warnings
}

// Metadata returns timing and provenance details.
func (r Result[T]) Metadata() Metadata {
	return r.meta
}

type metadataJSON struct {
	Cached               bool     `json:"cached"`
	Source               Source   `json:"source"`
	ExecutionTimeMs      float64  `json:"executionTimeMs"`
	Complexity           string   `json:"complexity"`
	ValidationTimeMs     *float64 `json:"validationTimeMs,omitempty"`
	TransformationTimeMs *float64 `json:"transformationTimeMs,omitempty"`
	BusinessLogicTimeMs  *float64 `json:"businessLogicTimeMs,omitempty"`
	StoreAttempts        int      `json:"storeAttempts,omitempty"`
}

type errorJSON struct {
	Kind    errs.Kind         `json:"kind"`
	Rule    errs.BusinessKind `json:"rule,omitempty"`
	Message string            `json:"message"`
	Details []string          `json:"details,omitempty"`
}

type resultJSON[T any] struct {
	Success  bool         `json:"success"`
	Data     *T           `json:"data,omitempty"`
	Error    *errorJSON   `json:"error,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
	Metadata metadataJSON `json:"metadata"`
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

func optMillis(d time.Duration) *float64 {
	if d <= 0 {
		return nil
	}
	ms := millis(d)
	return &ms
}

// MarshalJSON renders {success, data?, error?, warnings?, metadata}. The
// error carries the user message only.
func (r Result[T]) MarshalJSON() ([]byte, error) {
	out := resultJSON[T]{
		Success:  r.err == nil,
		Warnings: r.warnings,
		Metadata: metadataJSON{
			Cached:               r.meta.Cached,
			Source:               r.meta.Source,
			ExecutionTimeMs:      millis(r.meta.ExecutionTime),
			Complexity:           string(r.meta.Complexity),
			ValidationTimeMs:     optMillis(r.meta.ValidationTime),
			TransformationTimeMs: optMillis(r.meta.TransformationTime),
			BusinessLogicTimeMs:  optMillis(r.meta.BusinessLogicTime),
			StoreAttempts:        r.meta.StoreAttempts,
		},
	}
	if r.err != nil {
		out.Error = &errorJSON{
			Kind:    r.err.Kind,
			Rule:    r.err.BusinessKind,
			Message: r.err.UserMessage,
			Details: r.err.Details,
		}
	} else {
		data := r.data
		out.Data = &data
	}
	return json.Marshal(out)
}
