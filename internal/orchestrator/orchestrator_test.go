package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/deepwork/internal/errs"
	"github.com/zjrosen/deepwork/internal/mocks"
	"github.com/zjrosen/deepwork/internal/persistence"
	"github.com/zjrosen/deepwork/internal/persistence/memory"
	"github.com/zjrosen/deepwork/internal/pubsub"
	"github.com/zjrosen/deepwork/internal/tasks/domain"
	"github.com/zjrosen/deepwork/internal/testutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	o      *Orchestrator
	store  *memory.Store
	clock  *fakeClock
	events *pubsub.Broker[TaskEvent]
}

func fastRetry(et *EntityType) {
	et.RetryInitialInterval = time.Millisecond
}

func newFixture(t *testing.T, opts ...func(*EntityType)) *fixture {
	t.Helper()
	et := DeepWork()
	fastRetry(&et)
	for _, opt := range opts {
		opt(&et)
	}

	clock := &fakeClock{now: testutil.Base}
	var seq atomic.Int64
	f := &fixture{
		store:  memory.New(),
		clock:  clock,
		events: pubsub.NewBrokerWithBuffer[TaskEvent](64),
	}
	t.Cleanup(f.events.Close)

	o, err := New(Deps{
		Store:  f.store,
		Events: f.events,
		Clock:  clock.Now,
		IDs:    func() string { return fmt.Sprintf("id-%d", seq.Add(1)) },
	}, et)
	require.NoError(t, err)
	f.o = o
	return f
}

func (f *fixture) create(t *testing.T, in domain.CreateInput) domain.Task {
	t.Helper()
	task, err := f.o.CreateTask(context.Background(), in).Unwrap()
	require.NoError(t, err)
	return task
}

func requireKind(t *testing.T, err *errs.OpError, kind errs.Kind, rule errs.BusinessKind) {
	t.Helper()
	require.NotNil(t, err)
	require.Equal(t, kind, err.Kind)
	require.Equal(t, rule, err.BusinessKind)
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(Deps{}, DeepWork())
	require.Error(t, err)
}

func TestCreateTask_ClampsFocusIntensity(t *testing.T) {
	f := newFixture(t)

	res := f.o.CreateTask(context.Background(), domain.CreateInput{Title: "Read paper", FocusIntensity: 1})
	task, ok := res.Data()
	require.True(t, ok)
	require.Equal(t, 3, task.FocusIntensity)
	require.Contains(t, res.Warnings(), "focusIntensity raised to minimum of 3")
}

func TestCreateTask_AppliesDefaults(t *testing.T) {
	f := newFixture(t)

	res := f.o.CreateTask(context.Background(), domain.CreateInput{
		Title:        "  Plan quarter  ",
		Dependencies: []string{"a", "b", "a"},
		Subtasks:     []domain.SubtaskInput{{Title: "goals"}, {Title: "risks", Completed: true}},
	})
	task, err := res.Unwrap()
	require.NoError(t, err)

	assert.Equal(t, "id-1", task.ID)
	assert.Equal(t, "Plan quarter", task.Title)
	assert.Equal(t, domain.StatusPending, task.Status)
	assert.Equal(t, domain.PriorityMedium, task.Priority)
	assert.Equal(t, domain.ComplexityMedium, task.Complexity)
	assert.Equal(t, 25, task.EstimatedDuration)
	assert.Equal(t, []string{"a", "b"}, task.Dependencies)
	require.Len(t, task.Subtasks, 2)
	assert.Equal(t, "id-2", task.Subtasks[0].ID)
	assert.Equal(t, 1, task.Subtasks[1].Position)
	assert.Equal(t, testutil.Base, task.CreatedAt)

	assert.Contains(t, res.Warnings(), "complexity defaulted to medium")
	assert.Contains(t, res.Warnings(), "duplicate dependencies removed")
	assert.Equal(t, SourcePersistence, res.Metadata().Source)
	assert.False(t, res.Metadata().Cached)
}

func TestCreateTask_ValidationFailureNeverReachesStore(t *testing.T) {
	store := mocks.NewMockStore(t)
	o, err := New(Deps{Store: store}, DeepWork())
	require.NoError(t, err)

	res := o.CreateTask(context.Background(), domain.CreateInput{Title: "   ", FocusIntensity: 11})
	require.False(t, res.Success())
	requireKind(t, res.Err(), errs.KindValidation, "")
	require.Contains(t, res.Err().Details, "title is required")
	require.Contains(t, res.Err().Details, "focusIntensity must be at most 10")
	require.Equal(t, SourceNone, res.Metadata().Source)
}

func TestCreateTask_DependencyLimitMakesNoStoreCalls(t *testing.T) {
	store := mocks.NewMockStore(t)
	o, err := New(Deps{Store: store}, DeepWork())
	require.NoError(t, err)

	res := o.CreateTask(context.Background(), domain.CreateInput{
		Title:        "Too connected",
		Dependencies: []string{"d1", "d2", "d3", "d4", "d5", "d6"},
	})
	require.False(t, res.Success())
	requireKind(t, res.Err(), errs.KindBusinessLogic, errs.DependencyLimit)
	require.Contains(t, res.Err().Error(), "Dependency limit")
	require.ErrorIs(t, res.Err(), errs.ErrDependencyLimit)
}

func TestCreateTask_DuplicateDependenciesDoNotCountTowardLimit(t *testing.T) {
	f := newFixture(t)

	res := f.o.CreateTask(context.Background(), domain.CreateInput{
		Title:        "Five distinct",
		Dependencies: []string{"d1", "d2", "d3", "d4", "d5", "d5"},
	})
	task, err := res.Unwrap()
	require.NoError(t, err)
	require.Len(t, task.Dependencies, 5)
}

func TestCreateTask_DependencyLimitDisabled(t *testing.T) {
	f := newFixture(t, func(et *EntityType) { et.ValidateDependencies = false })

	res := f.o.CreateTask(context.Background(), domain.CreateInput{
		Title:        "Unchecked",
		Dependencies: []string{"d1", "d2", "d3", "d4", "d5", "d6"},
	})
	require.True(t, res.Success())
}

func TestCreateTask_SessionCeiling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := range 3 {
		f.create(t, domain.CreateInput{Title: fmt.Sprintf("Focus %d", i), Status: domain.StatusInProgress, FocusIntensity: 5})
	}
	require.Len(t, f.o.Sessions(), 3)

	res := f.o.CreateTask(ctx, domain.CreateInput{Title: "One too many", Status: domain.StatusInProgress})
	require.False(t, res.Success())
	requireKind(t, res.Err(), errs.KindBusinessLogic, errs.ConcurrencyLimit)
	require.ErrorIs(t, res.Err(), errs.ErrConcurrencyLimit)

	require.Len(t, f.o.Sessions(), 3)
	require.Equal(t, 3, f.store.Calls("CreateTask"), "rejected task must not be persisted")

	list, err := f.o.GetTasks(ctx, domain.TaskFilter{}).Unwrap()
	require.NoError(t, err)
	require.Len(t, list, 3)
}

func TestCreateTask_PersistFailureReleasesSession(t *testing.T) {
	f := newFixture(t)
	f.store.InjectFailure(func(op string) error {
		if op == "CreateTask" {
			return persistence.ErrConflict
		}
		return nil
	})

	res := f.o.CreateTask(context.Background(), domain.CreateInput{Title: "Doomed", Status: domain.StatusInProgress})
	require.False(t, res.Success())
	requireKind(t, res.Err(), errs.KindPersistence, "")
	require.Empty(t, f.o.Sessions())
	require.Equal(t, 1, f.store.Calls("CreateTask"), "conflicts are not retried")
}

func TestCreateTask_PublishesEvent(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := f.events.Subscribe(ctx)

	task := f.create(t, domain.CreateInput{Title: "Announce"})

	select {
	case ev := <-ch:
		require.Equal(t, pubsub.CreatedEvent, ev.Type)
		require.Equal(t, task.ID, ev.Payload.TaskID)
		require.Equal(t, "deep-work", ev.Payload.Namespace)
		require.NotNil(t, ev.Payload.Task)
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestGetTask_CachedAfterCreate(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, domain.CreateInput{Title: "Cached"})

	res := f.o.GetTask(context.Background(), task.ID)
	got, err := res.Unwrap()
	require.NoError(t, err)
	require.Equal(t, task.Title, got.Title)
	require.True(t, res.Metadata().Cached)
	require.Equal(t, SourceCache, res.Metadata().Source)
	require.Zero(t, f.store.Calls("GetTask"))
}

func TestGetTask_NotFound(t *testing.T) {
	f := newFixture(t)

	res := f.o.GetTask(context.Background(), "missing")
	require.False(t, res.Success())
	requireKind(t, res.Err(), errs.KindBusinessLogic, errs.NotFound)
	require.Equal(t, "Task not found", res.Err().Error())
	require.NotContains(t, res.Err().Error(), "missing")
	require.Equal(t, 1, f.store.Calls("GetTask"), "not found is permanent")
}

func TestGetTasks_CacheHitThenInvalidatedByMutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.NewBuilder(t, f.store).WithStandardTestData().Build()

	first := f.o.GetTasks(ctx, domain.TaskFilter{})
	require.True(t, first.Success())
	require.Equal(t, SourcePersistence, first.Metadata().Source)

	second := f.o.GetTasks(ctx, domain.TaskFilter{})
	require.True(t, second.Metadata().Cached)
	require.Equal(t, SourceCache, second.Metadata().Source)
	require.Equal(t, 1, f.store.Calls("GetAllTasks"))

	// Create: the new task shows up.
	created := f.create(t, domain.CreateInput{Title: "Fresh", FocusIntensity: 10})
	list, err := f.o.GetTasks(ctx, domain.TaskFilter{}).Unwrap()
	require.NoError(t, err)
	require.Len(t, list, 6)
	require.Equal(t, created.ID, list[0].ID, "highest focus sorts first")

	// Update: both the entity and the list reflect it.
	title := "Fresh and renamed"
	_, err = f.o.UpdateTask(ctx, created.ID, domain.UpdateInput{Title: &title}).Unwrap()
	require.NoError(t, err)
	got, err := f.o.GetTask(ctx, created.ID).Unwrap()
	require.NoError(t, err)
	require.Equal(t, title, got.Title)
	list, err = f.o.GetTasks(ctx, domain.TaskFilter{}).Unwrap()
	require.NoError(t, err)
	require.Equal(t, title, list[0].Title)

	// Delete: gone from both.
	_, err = f.o.DeleteTask(ctx, created.ID).Unwrap()
	require.NoError(t, err)
	res := f.o.GetTask(ctx, created.ID)
	requireKind(t, res.Err(), errs.KindBusinessLogic, errs.NotFound)
	list, err = f.o.GetTasks(ctx, domain.TaskFilter{}).Unwrap()
	require.NoError(t, err)
	require.Len(t, list, 5)
}

func TestGetTasks_SortAndLimit(t *testing.T) {
	f := newFixture(t)
	testutil.NewBuilder(t, f.store).
		WithTask("a", testutil.Focus(5), testutil.Priority(domain.PriorityLow), testutil.CreatedAt(0)).
		WithTask("b", testutil.Focus(5), testutil.Priority(domain.PriorityHigh), testutil.CreatedAt(time.Hour)).
		WithTask("c", testutil.Focus(9), testutil.Priority(domain.PriorityLow), testutil.CreatedAt(2*time.Hour)).
		WithTask("d", testutil.Focus(5), testutil.Priority(domain.PriorityHigh), testutil.CreatedAt(-time.Hour)).
		Build()

	list, err := f.o.GetTasks(context.Background(), domain.TaskFilter{}).Unwrap()
	require.NoError(t, err)
	ids := make([]string, len(list))
	for i, task := range list {
		ids[i] = task.ID
	}
	require.Equal(t, []string{"c", "d", "b", "a"}, ids)

	limited, err := f.o.GetTasks(context.Background(), domain.TaskFilter{Limit: 2}).Unwrap()
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, "c", limited[0].ID)
}

func TestGetTasks_FilterSignatureSharesCacheEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.NewBuilder(t, f.store).WithStandardTestData().Build()

	a := domain.TaskFilter{Statuses: []domain.Status{domain.StatusPending, domain.StatusPaused}}
	b := domain.TaskFilter{Statuses: []domain.Status{domain.StatusPaused, domain.StatusPending}}

	first, err := f.o.GetTasks(ctx, a).Unwrap()
	require.NoError(t, err)
	res := f.o.GetTasks(ctx, b)
	second, err := res.Unwrap()
	require.NoError(t, err)
	require.True(t, res.Metadata().Cached)
	require.Equal(t, first, second)
	require.Equal(t, 1, f.store.Calls("GetAllTasks"))
}

func TestGetTasks_MalformedRowIsPersistenceFailure(t *testing.T) {
	store := mocks.NewMockStore(t)
	store.EXPECT().GetAllTasks(mock.Anything, mock.Anything).Return(persistence.Response[[]persistence.TaskRow]{
		Data: []persistence.TaskRow{testutil.Task("ok"), testutil.Task("bad", testutil.Priority(9))},
	}, nil)
	o, err := New(Deps{Store: store}, DeepWork())
	require.NoError(t, err)

	res := o.GetTasks(context.Background(), domain.TaskFilter{})
	require.False(t, res.Success())
	requireKind(t, res.Err(), errs.KindPersistence, "")
}

func TestGetTasks_RetriesTransientFailures(t *testing.T) {
	f := newFixture(t)
	failures := 2
	f.store.InjectFailure(func(op string) error {
		if op == "GetAllTasks" && failures > 0 {
			failures--
			return errors.New("database is locked")
		}
		return nil
	})

	res := f.o.GetTasks(context.Background(), domain.TaskFilter{})
	require.True(t, res.Success())
	require.Equal(t, 3, res.Metadata().StoreAttempts)
	require.Equal(t, 3, f.store.Calls("GetAllTasks"))
}

func TestGetTasks_GivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	f.store.InjectFailure(func(op string) error { return errors.New("disk I/O error") })

	res := f.o.GetTasks(context.Background(), domain.TaskFilter{})
	requireKind(t, res.Err(), errs.KindPersistence, "")
	require.Equal(t, 3, f.store.Calls("GetAllTasks"))
}

func TestGetTasks_SingleAttemptDisablesRetry(t *testing.T) {
	f := newFixture(t, func(et *EntityType) { et.MaxRetryAttempts = 1 })
	f.store.InjectFailure(func(op string) error { return errors.New("disk I/O error") })

	res := f.o.GetTasks(context.Background(), domain.TaskFilter{})
	requireKind(t, res.Err(), errs.KindPersistence, "")
	require.Equal(t, 1, f.store.Calls("GetAllTasks"))
}

func TestGetAnalytics_CachedWithIdenticalData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.NewBuilder(t, f.store).WithStandardTestData().Build()

	first := f.o.GetAnalytics(ctx)
	a, err := first.Unwrap()
	require.NoError(t, err)
	require.Equal(t, 5, a.TotalTasks)
	require.False(t, first.Metadata().Cached)

	second := f.o.GetAnalytics(ctx)
	b, err := second.Unwrap()
	require.NoError(t, err)
	require.True(t, second.Metadata().Cached)
	require.Equal(t, a, b)
	require.Equal(t, 1, f.store.Calls("GetAnalytics"))

	f.create(t, domain.CreateInput{Title: "Sixth"})
	c, err := f.o.GetAnalytics(ctx).Unwrap()
	require.NoError(t, err)
	require.Equal(t, 6, c.TotalTasks)
	require.Equal(t, 2, f.store.Calls("GetAnalytics"))
}

func TestGetAnalytics_IncludesSessionInsights(t *testing.T) {
	f := newFixture(t)
	f.create(t, domain.CreateInput{Title: "Deep", Status: domain.StatusInProgress, FocusIntensity: 8, EstimatedDuration: 60})

	a, err := f.o.GetAnalytics(context.Background()).Unwrap()
	require.NoError(t, err)
	require.Equal(t, 1, a.Sessions.ActiveSessions)
	require.Equal(t, 1, a.Sessions.ProtectedSessions)
	require.InDelta(t, 8.0, a.Sessions.AverageFocusIntensity, 0.001)
}

func TestUpdateTask_CompletedCannotReturnToPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.CreateInput{Title: "Ship", Status: domain.StatusInProgress})
	_, err := f.o.UpdateTaskStatus(ctx, task.ID, true).Unwrap()
	require.NoError(t, err)

	pending := domain.StatusPending
	res := f.o.UpdateTask(ctx, task.ID, domain.UpdateInput{Status: &pending})
	require.False(t, res.Success())
	requireKind(t, res.Err(), errs.KindValidation, errs.InvalidTransition)
	require.ErrorIs(t, res.Err(), errs.ErrInvalidTransition)

	stored, err := f.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, string(domain.StatusCompleted), stored.Data.Status)
}

func TestUpdateTaskStatus_ReopenCompletedIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.CreateInput{Title: "Done"})
	_, err := f.o.UpdateTaskStatus(ctx, task.ID, true).Unwrap()
	require.NoError(t, err)

	res := f.o.UpdateTaskStatus(ctx, task.ID, false)
	requireKind(t, res.Err(), errs.KindValidation, errs.InvalidTransition)
	require.Equal(t, 1, f.store.Calls("UpdateTaskStatus"))
}

func TestUpdateTaskStatus_CompletionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.CreateInput{Title: "Finish", Status: domain.StatusInProgress})
	require.Len(t, f.o.Sessions(), 1)

	first, err := f.o.UpdateTaskStatus(ctx, task.ID, true).Unwrap()
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, first.Status)
	require.NotNil(t, first.CompletedAt)
	require.Empty(t, f.o.Sessions())

	res := f.o.UpdateTaskStatus(ctx, task.ID, true)
	second, err := res.Unwrap()
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, second.Status)
	require.Contains(t, res.Warnings(), "task is already completed")
	require.Empty(t, f.o.Sessions())
	require.Equal(t, 1, f.store.Calls("UpdateTaskStatus"))
}

func TestUpdateTaskStatus_UncompletePausesInProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.CreateInput{Title: "Deep dive", Status: domain.StatusInProgress, FocusIntensity: 7, EstimatedDuration: 60})

	paused, err := f.o.UpdateTaskStatus(ctx, task.ID, false).Unwrap()
	require.NoError(t, err)
	require.Equal(t, domain.StatusPaused, paused.Status)

	sessions := f.o.Sessions()
	require.Len(t, sessions, 1)
	require.Equal(t, 1, sessions[0].InterruptionCount, "pausing a protected session is an interruption")
	require.Equal(t, 1, f.o.SessionInsights().PausedSessions)

	// Pending and paused tasks are left alone.
	res := f.o.UpdateTaskStatus(ctx, task.ID, false)
	require.True(t, res.Success())
	require.Contains(t, res.Warnings(), "task is already paused")
	require.Equal(t, 1, f.store.Calls("UpdateTaskStatus"))
}

func TestStartTask_ResumesPausedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.CreateInput{Title: "Resume me", Status: domain.StatusInProgress})
	_, err := f.o.UpdateTaskStatus(ctx, task.ID, false).Unwrap()
	require.NoError(t, err)

	started, err := f.o.StartTask(ctx, task.ID).Unwrap()
	require.NoError(t, err)
	require.Equal(t, domain.StatusInProgress, started.Status)
	require.Equal(t, 1, f.o.SessionInsights().ActiveSessions)
	require.Zero(t, f.o.SessionInsights().PausedSessions)
}

func TestStartTask_SameStateIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.CreateInput{Title: "Already going", Status: domain.StatusInProgress})

	res := f.o.StartTask(ctx, task.ID)
	require.True(t, res.Success())
	require.Contains(t, res.Warnings(), "task is already in-progress")
	require.Zero(t, f.store.Calls("UpdateTaskStatus"))
}

func TestStartTask_CeilingLeavesTaskPending(t *testing.T) {
	f := newFixture(t, func(et *EntityType) { et.MaxConcurrentSessions = 1 })
	ctx := context.Background()
	f.create(t, domain.CreateInput{Title: "Busy", Status: domain.StatusInProgress})
	waiting := f.create(t, domain.CreateInput{Title: "Waiting"})

	res := f.o.StartTask(ctx, waiting.ID)
	requireKind(t, res.Err(), errs.KindBusinessLogic, errs.ConcurrencyLimit)

	stored, err := f.store.GetTask(ctx, waiting.ID)
	require.NoError(t, err)
	require.Equal(t, string(domain.StatusPending), stored.Data.Status)
	require.Len(t, f.o.Sessions(), 1)
}

func TestStartTask_ConcurrentCallsRespectCeiling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = f.create(t, domain.CreateInput{Title: fmt.Sprintf("Task %d", i)}).ID
	}

	var ok atomic.Int32
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.o.StartTask(ctx, id).Success() {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(3), ok.Load())
	require.Len(t, f.o.Sessions(), 3)
}

func TestDirectCompletion(t *testing.T) {
	t.Run("allowed by default", func(t *testing.T) {
		f := newFixture(t)
		task := f.create(t, domain.CreateInput{Title: "Quick"})

		done, err := f.o.UpdateTaskStatus(context.Background(), task.ID, true).Unwrap()
		require.NoError(t, err)
		require.Equal(t, domain.StatusCompleted, done.Status)
	})

	t.Run("rejected when disabled", func(t *testing.T) {
		f := newFixture(t, func(et *EntityType) { et.AllowDirectCompletion = false })
		task := f.create(t, domain.CreateInput{Title: "Slow"})

		res := f.o.UpdateTaskStatus(context.Background(), task.ID, true)
		requireKind(t, res.Err(), errs.KindValidation, errs.InvalidTransition)
		require.Zero(t, f.store.Calls("UpdateTaskStatus"))
	})
}

func TestUpdateTask_FlowProtectionWarnsAndCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.CreateInput{Title: "Flow", Status: domain.StatusInProgress, FocusIntensity: 6, EstimatedDuration: 60})

	title := "Flow, renamed"
	res := f.o.UpdateTask(ctx, task.ID, domain.UpdateInput{Title: &title})
	require.True(t, res.Success(), "protection never blocks")
	require.Contains(t, res.Warnings(), WarnFlowProtection)
	require.Equal(t, 1, f.o.Sessions()[0].InterruptionCount)

	f.clock.Advance(2 * time.Hour)
	res = f.o.UpdateTask(ctx, task.ID, domain.UpdateInput{Title: &title})
	require.True(t, res.Success())
	require.NotContains(t, res.Warnings(), WarnFlowProtection)
	require.Equal(t, 1, f.o.Sessions()[0].InterruptionCount)
}

func TestUpdateTask_FailedWriteIsNotAnInterruption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.CreateInput{Title: "Flow", Status: domain.StatusInProgress, FocusIntensity: 6, EstimatedDuration: 60})

	f.store.InjectFailure(func(op string) error {
		if op == "UpdateTask" {
			return persistence.ErrConflict
		}
		return nil
	})
	title := "Flow, renamed"
	res := f.o.UpdateTask(ctx, task.ID, domain.UpdateInput{Title: &title})
	require.False(t, res.Success())
	require.Zero(t, f.o.Sessions()[0].InterruptionCount)

	f.store.InjectFailure(nil)
	res = f.o.UpdateTask(ctx, task.ID, domain.UpdateInput{Title: &title})
	require.True(t, res.Success())
	require.Equal(t, 1, f.o.Sessions()[0].InterruptionCount)
}

func TestUpdateTask_CompletingProtectedTaskIsNotAnInterruption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.CreateInput{Title: "Flow", Status: domain.StatusInProgress, FocusIntensity: 6, EstimatedDuration: 60})

	completed := domain.StatusCompleted
	res := f.o.UpdateTask(ctx, task.ID, domain.UpdateInput{Status: &completed})
	require.True(t, res.Success())
	require.Contains(t, res.Warnings(), WarnFlowProtection)
	require.Zero(t, f.o.SessionInsights().TotalInterruptions)
	require.Empty(t, f.o.Sessions())
}

func TestUpdateTask_FieldsAndStatusTogether(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.CreateInput{Title: "Combined"})

	status := domain.StatusInProgress
	focus := 9
	updated, err := f.o.UpdateTask(ctx, task.ID, domain.UpdateInput{Status: &status, FocusIntensity: &focus}).Unwrap()
	require.NoError(t, err)
	require.Equal(t, domain.StatusInProgress, updated.Status)
	require.Equal(t, 9, updated.FocusIntensity)

	sessions := f.o.Sessions()
	require.Len(t, sessions, 1)
	require.Equal(t, 9, sessions[0].FocusIntensity)
	require.Equal(t, 1, f.store.Calls("UpdateTask"))
}

func TestUpdateTask_ValidationErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.CreateInput{Title: "Target"})

	res := f.o.UpdateTask(ctx, task.ID, domain.UpdateInput{})
	requireKind(t, res.Err(), errs.KindValidation, "")

	self := []string{task.ID}
	res = f.o.UpdateTask(ctx, task.ID, domain.UpdateInput{Dependencies: &self})
	requireKind(t, res.Err(), errs.KindValidation, "")
	require.Contains(t, res.Err().Details, "a task cannot depend on itself")

	tooMany := []string{"d1", "d2", "d3", "d4", "d5", "d6"}
	res = f.o.UpdateTask(ctx, task.ID, domain.UpdateInput{Dependencies: &tooMany})
	requireKind(t, res.Err(), errs.KindBusinessLogic, errs.DependencyLimit)

	require.Zero(t, f.store.Calls("UpdateTask"))
}

func TestUpdateTask_NotFound(t *testing.T) {
	f := newFixture(t)
	title := "ghost"

	res := f.o.UpdateTask(context.Background(), "nope", domain.UpdateInput{Title: &title})
	requireKind(t, res.Err(), errs.KindBusinessLogic, errs.NotFound)
}

func TestUpdateTask_BumpsUpdatedAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.CreateInput{Title: "Clocked"})

	f.clock.Advance(time.Minute)
	desc := "now with words"
	updated, err := f.o.UpdateTask(ctx, task.ID, domain.UpdateInput{Description: &desc}).Unwrap()
	require.NoError(t, err)
	require.Equal(t, testutil.Base.Add(time.Minute), updated.UpdatedAt)
	require.Equal(t, task.CreatedAt, updated.CreatedAt)
}

func TestUpdateSubtaskStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.CreateInput{Title: "Parent", Subtasks: []domain.SubtaskInput{{Title: "child"}}})
	subID := task.Subtasks[0].ID

	_, err := f.o.GetTask(ctx, task.ID).Unwrap()
	require.NoError(t, err)

	sub, err := f.o.UpdateSubtaskStatus(ctx, subID, true).Unwrap()
	require.NoError(t, err)
	require.True(t, sub.Completed)

	res := f.o.GetTask(ctx, task.ID)
	parent, err := res.Unwrap()
	require.NoError(t, err)
	require.False(t, res.Metadata().Cached, "parent entry was invalidated")
	require.True(t, parent.Subtasks[0].Completed)
	require.NotNil(t, parent.Meta)
	require.InDelta(t, 1.0, parent.Meta.Progress, 0.001)
}

// racingStore toggles a subtask from another goroutine while a full-row
// UpdateTask is between its read and its write.
type racingStore struct {
	*memory.Store
	toggle  func()
	located chan struct{}
}

func (s *racingStore) UpdateTask(ctx context.Context, id string, row persistence.TaskRow) (persistence.Response[persistence.TaskRow], error) {
	if s.toggle != nil {
		toggle := s.toggle
		s.toggle = nil
		go toggle()
		select {
		case <-s.located:
		case <-time.After(time.Second):
		}
	}
	return s.Store.UpdateTask(ctx, id, row)
}

func (s *racingStore) GetSubtask(ctx context.Context, subtaskID string) (persistence.Response[persistence.SubtaskRow], error) {
	resp, err := s.Store.GetSubtask(ctx, subtaskID)
	select {
	case s.located <- struct{}{}:
	default:
	}
	return resp, err
}

func TestUpdateSubtaskStatus_NotLostToConcurrentUpdate(t *testing.T) {
	store := &racingStore{Store: memory.New(), located: make(chan struct{}, 1)}
	var seq atomic.Int64
	o, err := New(Deps{
		Store: store,
		IDs:   func() string { return fmt.Sprintf("id-%d", seq.Add(1)) },
	}, DeepWork())
	require.NoError(t, err)
	ctx := context.Background()

	task, err := o.CreateTask(ctx, domain.CreateInput{Title: "Parent", Subtasks: []domain.SubtaskInput{{Title: "outline"}}}).Unwrap()
	require.NoError(t, err)
	subID := task.Subtasks[0].ID

	toggled := make(chan Result[domain.Subtask], 1)
	store.toggle = func() { toggled <- o.UpdateSubtaskStatus(ctx, subID, true) }

	title := "Parent, renamed"
	_, err = o.UpdateTask(ctx, task.ID, domain.UpdateInput{Title: &title}).Unwrap()
	require.NoError(t, err)

	select {
	case res := <-toggled:
		require.True(t, res.Success())
	case <-time.After(5 * time.Second):
		t.Fatal("subtask update never finished")
	}

	got, err := o.GetTask(ctx, task.ID).Unwrap()
	require.NoError(t, err)
	require.Equal(t, "Parent, renamed", got.Title)
	require.True(t, got.Subtasks[0].Completed)
}

func TestUpdateSubtaskStatus_NotFound(t *testing.T) {
	f := newFixture(t)

	res := f.o.UpdateSubtaskStatus(context.Background(), "sub-x", true)
	requireKind(t, res.Err(), errs.KindBusinessLogic, errs.NotFound)
	require.Equal(t, "Subtask not found", res.Err().Error())

	res = f.o.UpdateSubtaskStatus(context.Background(), " ", true)
	requireKind(t, res.Err(), errs.KindValidation, "")
}

func TestDeleteTask_DropsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.CreateInput{Title: "Abandon", Status: domain.StatusInProgress})

	id, err := f.o.DeleteTask(ctx, task.ID).Unwrap()
	require.NoError(t, err)
	require.Equal(t, task.ID, id)
	require.Empty(t, f.o.Sessions())

	res := f.o.DeleteTask(ctx, task.ID)
	requireKind(t, res.Err(), errs.KindBusinessLogic, errs.NotFound)
}

func TestDeleteTask_FailureKeepsSession(t *testing.T) {
	f := newFixture(t, func(et *EntityType) { et.MaxRetryAttempts = 1 })
	ctx := context.Background()
	task := f.create(t, domain.CreateInput{Title: "Sticky", Status: domain.StatusInProgress})
	f.store.InjectFailure(func(op string) error { return errors.New("read-only database") })

	res := f.o.DeleteTask(ctx, task.ID)
	requireKind(t, res.Err(), errs.KindPersistence, "")
	require.Len(t, f.o.Sessions(), 1)
}

func TestInvalidateNamespace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, domain.CreateInput{Title: "Watched"})

	f.o.InvalidateNamespace(ctx)

	res := f.o.GetTask(ctx, task.ID)
	require.True(t, res.Success())
	require.False(t, res.Metadata().Cached)
	require.Equal(t, 1, f.store.Calls("GetTask"))
}

func TestOperationTimeoutBoundsStoreCalls(t *testing.T) {
	f := newFixture(t, func(et *EntityType) {
		et.OperationTimeout = 20 * time.Millisecond
		et.MaxRetryAttempts = 1
	})
	store := mocks.NewMockStore(t)
	store.EXPECT().GetAnalytics(mock.Anything).RunAndReturn(func(ctx context.Context) (persistence.Response[persistence.AnalyticsRow], error) {
		<-ctx.Done()
		return persistence.Response[persistence.AnalyticsRow]{}, ctx.Err()
	})
	f.o.store = store

	res := f.o.GetAnalytics(context.Background())
	requireKind(t, res.Err(), errs.KindPersistence, "")
	require.Contains(t, res.Err().Error(), "did not respond in time")
}

func TestRestoreSessions_FillsCeilingByFocus(t *testing.T) {
	f := newFixture(t)
	testutil.NewBuilder(t, f.store).
		WithTask("low", testutil.Status(domain.StatusInProgress), testutil.Focus(3)).
		WithTask("mid", testutil.Status(domain.StatusInProgress), testutil.Focus(6)).
		WithTask("high", testutil.Status(domain.StatusInProgress), testutil.Focus(9)).
		WithTask("parked", testutil.Status(domain.StatusPaused), testutil.Focus(10)).
		WithTask("top", testutil.Status(domain.StatusInProgress), testutil.Focus(8)).
		WithTask("idle", testutil.Focus(10)).
		Build()

	res := f.o.RestoreSessions(context.Background())
	n, err := res.Unwrap()
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Len(t, res.Warnings(), 2)

	ids := []string{}
	for _, s := range f.o.Sessions() {
		ids = append(ids, s.TaskID)
	}
	require.ElementsMatch(t, []string{"high", "top", "mid"}, ids)

	// The ceiling now holds for new starts.
	start := f.o.StartTask(context.Background(), "idle")
	requireKind(t, start.Err(), errs.KindBusinessLogic, errs.ConcurrencyLimit)
}

func TestRestoreSessions_PausedStaysPaused(t *testing.T) {
	f := newFixture(t)
	testutil.NewBuilder(t, f.store).
		WithTask("parked", testutil.Status(domain.StatusPaused), testutil.Focus(8), testutil.Minutes(60)).
		Build()

	_, err := f.o.RestoreSessions(context.Background()).Unwrap()
	require.NoError(t, err)

	sessions := f.o.Sessions()
	require.Len(t, sessions, 1)
	require.Equal(t, "paused", string(sessions[0].State))

	task, err := f.o.StartTask(context.Background(), "parked").Unwrap()
	require.NoError(t, err)
	require.Equal(t, domain.StatusInProgress, task.Status)
	require.Equal(t, 0, f.o.SessionInsights().TotalInterruptions)
}
