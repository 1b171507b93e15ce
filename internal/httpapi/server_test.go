package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zjrosen/deepwork/internal/errs"
	"github.com/zjrosen/deepwork/internal/metrics"
	"github.com/zjrosen/deepwork/internal/orchestrator"
	"github.com/zjrosen/deepwork/internal/persistence"
	"github.com/zjrosen/deepwork/internal/persistence/memory"
	"github.com/zjrosen/deepwork/internal/pubsub"
	"github.com/zjrosen/deepwork/internal/testutil"
)

type envelope struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data"`
	Warnings []string        `json:"warnings"`
	Error    *struct {
		Kind    string `json:"kind"`
		Rule    string `json:"rule"`
		Message string `json:"message"`
	} `json:"error"`
}

type apiFixture struct {
	handler http.Handler
	store   *memory.Store
	events  *pubsub.Broker[orchestrator.TaskEvent]
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	store := testutil.NewMemoryStore(t)
	testutil.NewBuilder(t, store).WithStandardTestData().Build()

	et := orchestrator.DeepWork()
	et.RetryInitialInterval = time.Millisecond

	collector := metrics.NewCollector(nil)
	events := pubsub.NewBrokerWithBuffer[orchestrator.TaskEvent](16)
	t.Cleanup(events.Close)

	o, err := orchestrator.New(orchestrator.Deps{
		Store:   store,
		Metrics: collector,
		Events:  events,
	}, et)
	require.NoError(t, err)

	return &apiFixture{
		handler: New(o, Options{Metrics: collector.Handler(), Events: events}),
		store:   store,
		events:  events,
	}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func TestHealth(t *testing.T) {
	f := newAPI(t)
	rec, _ := f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateTask(t *testing.T) {
	f := newAPI(t)

	rec, env := f.do(t, http.MethodPost, "/api/tasks", `{"title":"Refactor cache","focusIntensity":1}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.True(t, env.Success)
	require.Contains(t, env.Warnings, "focusIntensity raised to minimum of 3")

	var task struct {
		ID             string `json:"id"`
		Status         string `json:"status"`
		FocusIntensity int    `json:"focusIntensity"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &task))
	require.NotEmpty(t, task.ID)
	require.Equal(t, "pending", task.Status)
	require.Equal(t, 3, task.FocusIntensity)

	rec, env = f.do(t, http.MethodGet, "/api/tasks/"+task.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)
}

func TestCreateTask_ValidationIsBadRequest(t *testing.T) {
	f := newAPI(t)

	rec, env := f.do(t, http.MethodPost, "/api/tasks", `{"title":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, env.Success)
	require.Equal(t, string(errs.KindValidation), env.Error.Kind)
}

func TestCreateTask_MalformedBody(t *testing.T) {
	f := newAPI(t)
	before := f.store.Calls("CreateTask")

	rec, env := f.do(t, http.MethodPost, "/api/tasks", `{"title":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, env.Error.Message, "invalid request body")

	rec, _ = f.do(t, http.MethodPost, "/api/tasks", `{"title":"x","colour":"red"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, before, f.store.Calls("CreateTask"))
}

func TestCreateTask_DependencyLimitIsConflict(t *testing.T) {
	f := newAPI(t)

	rec, env := f.do(t, http.MethodPost, "/api/tasks",
		`{"title":"Too many","dependencies":["a","b","c","d","e","f"]}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, string(errs.DependencyLimit), env.Error.Rule)
}

func TestGetTask_NotFound(t *testing.T) {
	f := newAPI(t)

	rec, env := f.do(t, http.MethodGet, "/api/tasks/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, string(errs.NotFound), env.Error.Rule)
	require.Equal(t, "Task not found", env.Error.Message)
}

func TestListTasks_FilterAndOrder(t *testing.T) {
	f := newAPI(t)

	rec, env := f.do(t, http.MethodGet, "/api/tasks?status=pending&limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var tasks []struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &tasks))
	require.Len(t, tasks, 2)
	require.Equal(t, "write-design", tasks[0].ID)
	require.Equal(t, "review-pr", tasks[1].ID)
}

func TestListTasks_PriorityNamesAndNumbers(t *testing.T) {
	f := newAPI(t)

	_, env := f.do(t, http.MethodGet, "/api/tasks?priority=urgent,3", "")
	var tasks []struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &tasks))
	ids := []string{}
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	require.ElementsMatch(t, []string{"write-design", "benchmarks"}, ids)
}

func TestListTasks_BadFilter(t *testing.T) {
	f := newAPI(t)
	before := f.store.Calls("GetAllTasks")

	for _, q := range []string{"status=done", "priority=huge", "complexity=epic", "min_focus=-1", "limit=x"} {
		rec, env := f.do(t, http.MethodGet, "/api/tasks?"+q, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, q)
		require.Equal(t, string(errs.KindValidation), env.Error.Kind, q)
	}
	require.Equal(t, before, f.store.Calls("GetAllTasks"))
}

func TestStartTask_CeilingIsConflict(t *testing.T) {
	f := newAPI(t)

	for _, id := range []string{"write-design", "review-pr", "inbox"} {
		rec, _ := f.do(t, http.MethodPost, "/api/tasks/"+id+"/start", "")
		require.Equal(t, http.StatusOK, rec.Code, id)
	}

	rec, env := f.do(t, http.MethodPost, "/api/tasks/benchmarks/start", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, string(errs.ConcurrencyLimit), env.Error.Rule)

	_, env = f.do(t, http.MethodGet, "/api/sessions", "")
	var sessions []struct {
		TaskID string `json:"taskId"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &sessions))
	require.Len(t, sessions, 3)
}

func TestSetTaskStatus(t *testing.T) {
	f := newAPI(t)

	rec, env := f.do(t, http.MethodPost, "/api/tasks/release-notes/status", `{"completed":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, env.Warnings, "task is already completed")

	rec, env = f.do(t, http.MethodPost, "/api/tasks/release-notes/status", `{"completed":false}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, string(errs.InvalidTransition), env.Error.Rule)

	rec, _ = f.do(t, http.MethodPost, "/api/tasks/release-notes/status", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetSubtaskStatus(t *testing.T) {
	f := newAPI(t)

	rec, env := f.do(t, http.MethodPost, "/api/subtasks/"+testutil.SubtaskID("write-design", 1)+"/status", `{"completed":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var sub struct {
		Completed bool `json:"completed"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &sub))
	require.True(t, sub.Completed)

	rec, _ = f.do(t, http.MethodPost, "/api/subtasks/nope/status", `{"completed":true}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateAndDeleteTask(t *testing.T) {
	f := newAPI(t)

	rec, env := f.do(t, http.MethodPatch, "/api/tasks/inbox", `{"title":"Inbox zero","priority":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, string(env.Data), "Inbox zero")

	rec, _ = f.do(t, http.MethodDelete, "/api/tasks/inbox", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/tasks/inbox", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalytics(t *testing.T) {
	f := newAPI(t)

	rec, env := f.do(t, http.MethodGet, "/api/analytics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var a struct {
		TotalTasks int `json:"totalTasks"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &a))
	require.Equal(t, 5, a.TotalTasks)
}

func TestPersistenceFailureIsUnavailable(t *testing.T) {
	f := newAPI(t)
	f.store.InjectFailure(func(op string) error {
		if op == "GetTask" {
			return persistence.ErrConflict
		}
		return nil
	})

	rec, env := f.do(t, http.MethodGet, "/api/tasks/write-design", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, string(errs.KindPersistence), env.Error.Kind)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPI(t)
	f.do(t, http.MethodGet, "/api/tasks", "")

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "deepwork_operations_total")
}

func TestEventStream(t *testing.T) {
	f := newAPI(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	post, err := http.Post(srv.URL+"/api/tasks", "application/json", strings.NewReader(`{"title":"Streamed"}`))
	require.NoError(t, err)
	_ = post.Body.Close()

	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed before event")
			if line == "event: created" {
				data := <-lines
				require.Contains(t, data, `"Streamed"`)
				return
			}
		case <-deadline:
			t.Fatal("no created event received")
		}
	}
}

func TestCacheStats(t *testing.T) {
	f := newAPI(t)
	for range 2 {
		rec, _ := f.do(t, http.MethodGet, "/api/tasks/write-design", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, _ := f.do(t, http.MethodGet, "/api/cache", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data struct {
			Hits    map[string]int64 `json:"hits"`
			Entries map[string]int   `json:"entries"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.GreaterOrEqual(t, body.Data.Hits["entity"], int64(1))
	require.GreaterOrEqual(t, body.Data.Entries["entity"], 1)
}

func TestEventStreamFiltersTypes(t *testing.T) {
	f := newAPI(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events?types=deleted", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	post, err := http.Post(srv.URL+"/api/tasks", "application/json", strings.NewReader(`{"title":"Short lived"}`))
	require.NoError(t, err)
	var created struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(post.Body).Decode(&created))
	_ = post.Body.Close()

	del, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/tasks/"+created.Data.ID, nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(del)
	require.NoError(t, err)
	_ = delResp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	var first []string
	for sc.Scan() && sc.Text() != "" {
		first = append(first, sc.Text())
	}
	require.Len(t, first, 3)
	require.True(t, strings.HasPrefix(first[0], "id: "))
	require.Equal(t, "event: deleted", first[1], "created event is filtered out")
	require.Contains(t, first[2], created.Data.ID)
}

func TestEventStreamRejectsUnknownType(t *testing.T) {
	f := newAPI(t)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events?types=created,exploded", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "exploded")
}

func TestRequestContinuesCallerTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	store := testutil.NewMemoryStore(t)
	testutil.NewBuilder(t, store).WithStandardTestData().Build()
	o, err := orchestrator.New(orchestrator.Deps{Store: store, Tracer: tp.Tracer("test")}, orchestrator.DeepWork())
	require.NoError(t, err)
	handler := New(o, Options{})

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodGet, "/api/tasks/write-design", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	ended := recorder.Ended()
	require.NotEmpty(t, ended)
	require.Equal(t, traceID, ended[0].SpanContext().TraceID().String())
	require.Equal(t, "00f067aa0ba902b7", ended[0].Parent().SpanID().String())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  *errs.OpError
		want int
	}{
		{nil, http.StatusOK},
		{&errs.OpError{Kind: errs.KindValidation}, http.StatusBadRequest},
		{&errs.OpError{Kind: errs.KindValidation, BusinessKind: errs.InvalidTransition}, http.StatusConflict},
		{&errs.OpError{Kind: errs.KindBusinessLogic, BusinessKind: errs.NotFound}, http.StatusNotFound},
		{&errs.OpError{Kind: errs.KindBusinessLogic, BusinessKind: errs.ConcurrencyLimit}, http.StatusConflict},
		{&errs.OpError{Kind: errs.KindBusinessLogic, BusinessKind: errs.DependencyLimit}, http.StatusConflict},
		{&errs.OpError{Kind: errs.KindPersistence}, http.StatusServiceUnavailable},
		{&errs.OpError{Kind: errs.KindUnknown}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, StatusFor(tt.err))
	}
}
