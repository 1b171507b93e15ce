// Package httpapi exposes the orchestrator over HTTP.
//
// Every /api response body is the orchestrator Result envelope
// ({success, data?, error?, warnings?, metadata}); the status code is derived
// from the error kind.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/zjrosen/deepwork/internal/cachemanager"
	"github.com/zjrosen/deepwork/internal/errs"
	"github.com/zjrosen/deepwork/internal/log"
	"github.com/zjrosen/deepwork/internal/orchestrator"
	"github.com/zjrosen/deepwork/internal/pubsub"
	"github.com/zjrosen/deepwork/internal/session"
	"github.com/zjrosen/deepwork/internal/tasks/domain"
)

// Service is the operation set the API serves. *orchestrator.Orchestrator
// implements it.
type Service interface {
	GetTasks(ctx context.Context, filter domain.TaskFilter) orchestrator.Result[[]domain.Task]
	GetTask(ctx context.Context, id string) orchestrator.Result[domain.Task]
	CreateTask(ctx context.Context, in domain.CreateInput) orchestrator.Result[domain.Task]
	UpdateTask(ctx context.Context, id string, u domain.UpdateInput) orchestrator.Result[domain.Task]
	UpdateTaskStatus(ctx context.Context, id string, completed bool) orchestrator.Result[domain.Task]
	StartTask(ctx context.Context, id string) orchestrator.Result[domain.Task]
	UpdateSubtaskStatus(ctx context.Context, subtaskID string, completed bool) orchestrator.Result[domain.Subtask]
	DeleteTask(ctx context.Context, id string) orchestrator.Result[string]
	GetAnalytics(ctx context.Context) orchestrator.Result[domain.Analytics]
	Sessions() []session.Session
	CacheStats() cachemanager.CacheStats
}

// Options configures a Server. Metrics and Events are optional.
type Options struct {
	Metrics     http.Handler
	MetricsPath string
	Events      pubsub.Subscriber[orchestrator.TaskEvent]
}

// Server routes API requests to a Service.
type Server struct {
	svc    Service
	events pubsub.Subscriber[orchestrator.TaskEvent]
	mux    *http.ServeMux
}

// New creates a Server and registers its routes.
func New(svc Service, opts Options) *Server {
	s := &Server{svc: svc, events: opts.Events, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /api/tasks", s.listTasks)
	s.mux.HandleFunc("POST /api/tasks", s.createTask)
	s.mux.HandleFunc("GET /api/tasks/{id}", s.getTask)
	s.mux.HandleFunc("PATCH /api/tasks/{id}", s.updateTask)
	s.mux.HandleFunc("DELETE /api/tasks/{id}", s.deleteTask)
	s.mux.HandleFunc("POST /api/tasks/{id}/start", s.startTask)
	s.mux.HandleFunc("POST /api/tasks/{id}/status", s.setTaskStatus)
	s.mux.HandleFunc("POST /api/subtasks/{id}/status", s.setSubtaskStatus)
	s.mux.HandleFunc("GET /api/analytics", s.analytics)
	s.mux.HandleFunc("GET /api/sessions", s.sessions)
	s.mux.HandleFunc("GET /api/cache", s.cacheStats)
	if s.events != nil {
		s.mux.HandleFunc("GET /api/events", s.streamEvents)
	}
	s.mux.HandleFunc("GET /healthz", s.health)

	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.mux.Handle("GET "+path, opts.Metrics)
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		if p := recover(); p != nil {
			log.Error(log.CatHTTP, "Handler panicked", "method", r.Method, "path", r.URL.Path, "panic", p)
			if !rec.wrote {
				writeError(rec, http.StatusInternalServerError, errs.KindUnknown, "internal error")
			}
		}
		log.Debug(log.CatHTTP, "Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	}()
	// Continue the caller's trace when a traceparent header is present.
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	s.mux.ServeHTTP(rec, r.WithContext(ctx))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.wrote = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Flush lets the event stream push through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// StatusFor maps a classified error to an HTTP status code.
func StatusFor(err *errs.OpError) int {
	if err == nil {
		return http.StatusOK
	}
	switch err.BusinessKind {
	case errs.NotFound:
		return http.StatusNotFound
	case errs.ConcurrencyLimit, errs.DependencyLimit, errs.InvalidTransition:
		return http.StatusConflict
	}
	switch err.Kind {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeResult[T any](w http.ResponseWriter, r orchestrator.Result[T], okStatus int) {
	status := okStatus
	if !r.Success() {
		status = StatusFor(r.Err())
	}
	writeJSON(w, status, r)
}

type errorBody struct {
	Kind    errs.Kind `json:"kind"`
	Message string    `json:"message"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

// writeError reports a request that never reached the orchestrator, such as
// a malformed body.
func writeError(w http.ResponseWriter, status int, kind errs.Kind, msg string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Kind: kind, Message: msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.ErrorErr(log.CatHTTP, "Failed to encode response", err)
	}
}
