// Package storetest holds the behavioral test suite every persistence.Store
// implementation must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/deepwork/internal/persistence"
	"github.com/zjrosen/deepwork/internal/tasks/domain"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) persistence.Store

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// Row builds a valid pending task row.
func Row(id, title string, createdOffset time.Duration) persistence.TaskRow {
	at := base.Add(createdOffset)
	return persistence.TaskRow{
		ID:                id,
		Title:             title,
		Status:            string(domain.StatusPending),
		Priority:          int(domain.PriorityMedium),
		FocusIntensity:    3,
		Complexity:        string(domain.ComplexityMedium),
		EstimatedDuration: 25,
		CreatedAt:         at,
		UpdatedAt:         at,
	}
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("CreateConflict", func(t *testing.T) { testCreateConflict(t, newStore(t)) })
	t.Run("GetNotFound", func(t *testing.T) { testGetNotFound(t, newStore(t)) })
	t.Run("GetAllFilters", func(t *testing.T) { testGetAllFilters(t, newStore(t)) })
	t.Run("GetAllNested", func(t *testing.T) { testGetAllNested(t, newStore(t)) })
	t.Run("UpdateTask", func(t *testing.T) { testUpdateTask(t, newStore(t)) })
	t.Run("UpdateTaskStatus", func(t *testing.T) { testUpdateTaskStatus(t, newStore(t)) })
	t.Run("GetSubtask", func(t *testing.T) { testGetSubtask(t, newStore(t)) })
	t.Run("UpdateSubtaskStatus", func(t *testing.T) { testUpdateSubtaskStatus(t, newStore(t)) })
	t.Run("DeleteTask", func(t *testing.T) { testDeleteTask(t, newStore(t)) })
	t.Run("Analytics", func(t *testing.T) { testAnalytics(t, newStore(t)) })
}

func closeStore(t *testing.T, s persistence.Store) {
	t.Cleanup(func() { _ = s.Close() })
}

func testCreateAndGet(t *testing.T, s persistence.Store) {
	closeStore(t, s)
	ctx := context.Background()

	row := Row("t1", "Design API", 0)
	row.Description = "REST surface"
	row.Dependencies = []string{"a", "b"}
	row.Subtasks = []persistence.SubtaskRow{{ID: "s1", Title: "draft"}, {ID: "s2", Title: "review", Completed: true}}

	created, err := s.CreateTask(ctx, row)
	require.NoError(t, err)
	assert.Equal(t, 1, created.Metadata.RowCount)

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Design API", got.Data.Title)
	assert.Equal(t, "REST surface", got.Data.Description)
	assert.ElementsMatch(t, []string{"a", "b"}, got.Data.Dependencies)
	require.Len(t, got.Data.Subtasks, 2)
	assert.Equal(t, "s1", got.Data.Subtasks[0].ID)
	assert.Equal(t, 0, got.Data.Subtasks[0].Position)
	assert.Equal(t, "t1", got.Data.Subtasks[0].TaskID)
	assert.True(t, got.Data.Subtasks[1].Completed)
	assert.True(t, base.Equal(got.Data.CreatedAt))
	assert.Nil(t, got.Data.CompletedAt)
}

func testCreateConflict(t *testing.T, s persistence.Store) {
	closeStore(t, s)
	ctx := context.Background()

	_, err := s.CreateTask(ctx, Row("t1", "one", 0))
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, Row("t1", "again", 0))
	require.ErrorIs(t, err, persistence.ErrConflict)
}

func testGetNotFound(t *testing.T, s persistence.Store) {
	closeStore(t, s)
	ctx := context.Background()

	_, err := s.GetTask(ctx, "missing")
	require.ErrorIs(t, err, persistence.ErrNotFound)
	_, err = s.UpdateTask(ctx, "missing", Row("missing", "x", 0))
	require.ErrorIs(t, err, persistence.ErrNotFound)
	_, err = s.UpdateTaskStatus(ctx, "missing", domain.StatusCompleted, base)
	require.ErrorIs(t, err, persistence.ErrNotFound)
	_, err = s.UpdateSubtaskStatus(ctx, "missing", true, base)
	require.ErrorIs(t, err, persistence.ErrNotFound)
	require.ErrorIs(t, s.DeleteTask(ctx, "missing"), persistence.ErrNotFound)
}

func testGetAllFilters(t *testing.T, s persistence.Store) {
	closeStore(t, s)
	ctx := context.Background()

	a := Row("a", "Write report", 0)
	b := Row("b", "Review design", time.Minute)
	b.Status = string(domain.StatusInProgress)
	b.Priority = int(domain.PriorityUrgent)
	b.FocusIntensity = 8
	c := Row("c", "Plan sprint", 2*time.Minute)
	c.Complexity = string(domain.ComplexityHigh)
	c.Description = "design review follow-ups"
	for _, r := range []persistence.TaskRow{a, b, c} {
		_, err := s.CreateTask(ctx, r)
		require.NoError(t, err)
	}

	ids := func(f domain.TaskFilter) []string {
		resp, err := s.GetAllTasks(ctx, persistence.QueryOptions{Filter: f})
		require.NoError(t, err)
		out := make([]string, 0, len(resp.Data))
		for _, r := range resp.Data {
			out = append(out, r.ID)
		}
		assert.Equal(t, len(out), resp.Metadata.RowCount)
		return out
	}

	assert.Equal(t, []string{"a", "b", "c"}, ids(domain.TaskFilter{}))
	assert.Equal(t, []string{"b"}, ids(domain.TaskFilter{Statuses: []domain.Status{domain.StatusInProgress}}))
	assert.Equal(t, []string{"b"}, ids(domain.TaskFilter{Priorities: []domain.Priority{domain.PriorityUrgent}}))
	assert.Equal(t, []string{"c"}, ids(domain.TaskFilter{Complexities: []domain.Complexity{domain.ComplexityHigh}}))
	assert.Equal(t, []string{"b"}, ids(domain.TaskFilter{MinFocusIntensity: 5}))
	assert.Equal(t, []string{"b", "c"}, ids(domain.TaskFilter{Search: "Design"}))
	assert.Empty(t, ids(domain.TaskFilter{Statuses: []domain.Status{domain.StatusCompleted}}))
}

func testGetAllNested(t *testing.T, s persistence.Store) {
	closeStore(t, s)
	ctx := context.Background()

	row := Row("t1", "nested", 0)
	row.Dependencies = []string{"x"}
	row.Subtasks = []persistence.SubtaskRow{{ID: "s1", Title: "one"}}
	_, err := s.CreateTask(ctx, row)
	require.NoError(t, err)

	flat, err := s.GetAllTasks(ctx, persistence.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, flat.Data, 1)
	assert.Empty(t, flat.Data[0].Dependencies)
	assert.Empty(t, flat.Data[0].Subtasks)

	full, err := s.GetAllTasks(ctx, persistence.QueryOptions{IncludeDependencies: true, IncludeSubtasks: true})
	require.NoError(t, err)
	require.Len(t, full.Data, 1)
	assert.Equal(t, []string{"x"}, full.Data[0].Dependencies)
	require.Len(t, full.Data[0].Subtasks, 1)
	assert.Equal(t, "one", full.Data[0].Subtasks[0].Title)
}

func testUpdateTask(t *testing.T, s persistence.Store) {
	closeStore(t, s)
	ctx := context.Background()

	row := Row("t1", "before", 0)
	row.Dependencies = []string{"a"}
	row.Subtasks = []persistence.SubtaskRow{{ID: "s1", Title: "old"}}
	_, err := s.CreateTask(ctx, row)
	require.NoError(t, err)

	updated := row
	updated.Title = "after"
	updated.FocusIntensity = 7
	updated.UpdatedAt = base.Add(time.Hour)
	updated.Dependencies = []string{"b", "c"}
	updated.Subtasks = []persistence.SubtaskRow{{ID: "s2", Title: "new"}}

	resp, err := s.UpdateTask(ctx, "t1", updated)
	require.NoError(t, err)
	assert.Equal(t, "after", resp.Data.Title)

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "after", got.Data.Title)
	assert.Equal(t, 7, got.Data.FocusIntensity)
	assert.True(t, base.Add(time.Hour).Equal(got.Data.UpdatedAt))
	assert.True(t, base.Equal(got.Data.CreatedAt))
	assert.ElementsMatch(t, []string{"b", "c"}, got.Data.Dependencies)
	require.Len(t, got.Data.Subtasks, 1)
	assert.Equal(t, "s2", got.Data.Subtasks[0].ID)

	_, err = s.UpdateSubtaskStatus(ctx, "s1", true, base)
	require.ErrorIs(t, err, persistence.ErrNotFound, "replaced subtasks are gone")
}

func testUpdateTaskStatus(t *testing.T, s persistence.Store) {
	closeStore(t, s)
	ctx := context.Background()

	_, err := s.CreateTask(ctx, Row("t1", "status", 0))
	require.NoError(t, err)

	done := base.Add(2 * time.Hour)
	resp, err := s.UpdateTaskStatus(ctx, "t1", domain.StatusCompleted, done)
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusCompleted), resp.Data.Status)
	require.NotNil(t, resp.Data.CompletedAt)
	assert.True(t, done.Equal(*resp.Data.CompletedAt))
	assert.True(t, done.Equal(resp.Data.UpdatedAt))

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusCompleted), got.Data.Status)
	require.NotNil(t, got.Data.CompletedAt)

	resp, err = s.UpdateTaskStatus(ctx, "t1", domain.StatusPaused, done.Add(time.Minute))
	require.NoError(t, err)
	assert.Nil(t, resp.Data.CompletedAt)
}

func testUpdateSubtaskStatus(t *testing.T, s persistence.Store) {
	closeStore(t, s)
	ctx := context.Background()

	row := Row("t1", "parent", 0)
	row.Subtasks = []persistence.SubtaskRow{{ID: "s1", Title: "one"}, {ID: "s2", Title: "two"}}
	_, err := s.CreateTask(ctx, row)
	require.NoError(t, err)

	at := base.Add(time.Hour)
	resp, err := s.UpdateSubtaskStatus(ctx, "s2", true, at)
	require.NoError(t, err)
	assert.Equal(t, "t1", resp.Data.TaskID)
	assert.True(t, resp.Data.Completed)

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, got.Data.Subtasks[0].Completed)
	assert.True(t, got.Data.Subtasks[1].Completed)
	assert.True(t, at.Equal(got.Data.UpdatedAt), "parent is touched")
}

func testGetSubtask(t *testing.T, s persistence.Store) {
	closeStore(t, s)
	ctx := context.Background()

	row := Row("t1", "parent", 0)
	row.Subtasks = []persistence.SubtaskRow{{ID: "s1", Title: "one"}, {ID: "s2", Title: "two", Position: 1}}
	_, err := s.CreateTask(ctx, row)
	require.NoError(t, err)

	resp, err := s.GetSubtask(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, "t1", resp.Data.TaskID)
	assert.Equal(t, "two", resp.Data.Title)
	assert.Equal(t, 1, resp.Data.Position)

	_, err = s.GetSubtask(ctx, "missing")
	require.ErrorIs(t, err, persistence.ErrNotFound)
}

func testDeleteTask(t *testing.T, s persistence.Store) {
	closeStore(t, s)
	ctx := context.Background()

	row := Row("t1", "doomed", 0)
	row.Subtasks = []persistence.SubtaskRow{{ID: "s1", Title: "one"}}
	_, err := s.CreateTask(ctx, row)
	require.NoError(t, err)

	require.NoError(t, s.DeleteTask(ctx, "t1"))
	_, err = s.GetTask(ctx, "t1")
	require.ErrorIs(t, err, persistence.ErrNotFound)
	_, err = s.UpdateSubtaskStatus(ctx, "s1", true, base)
	require.ErrorIs(t, err, persistence.ErrNotFound)
}

func testAnalytics(t *testing.T, s persistence.Store) {
	closeStore(t, s)
	ctx := context.Background()

	empty, err := s.GetAnalytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Data.TotalTasks)
	assert.InDelta(t, 0, empty.Data.AverageFocusIntensity, 0.0001)

	a := Row("a", "a", 0)
	a.FocusIntensity = 2
	a.Subtasks = []persistence.SubtaskRow{{ID: "s1", Title: "x", Completed: true}, {ID: "s2", Title: "y"}}
	b := Row("b", "b", time.Minute)
	b.FocusIntensity = 6
	b.Priority = int(domain.PriorityHigh)
	b.EstimatedDuration = 50
	for _, r := range []persistence.TaskRow{a, b} {
		_, err := s.CreateTask(ctx, r)
		require.NoError(t, err)
	}
	_, err = s.UpdateTaskStatus(ctx, "b", domain.StatusCompleted, base.Add(time.Hour))
	require.NoError(t, err)

	resp, err := s.GetAnalytics(ctx)
	require.NoError(t, err)
	got := resp.Data
	assert.Equal(t, 2, got.TotalTasks)
	assert.Equal(t, 1, got.CompletedTasks)
	assert.Equal(t, 1, got.ByStatus[string(domain.StatusPending)])
	assert.Equal(t, 1, got.ByStatus[string(domain.StatusCompleted)])
	assert.Equal(t, 1, got.ByPriority[int(domain.PriorityHigh)])
	assert.Equal(t, 1, got.ByPriority[int(domain.PriorityMedium)])
	assert.InDelta(t, 4.0, got.AverageFocusIntensity, 0.0001)
	assert.Equal(t, 75, got.TotalEstimatedMinutes)
	assert.Equal(t, 2, got.TotalSubtasks)
	assert.Equal(t, 1, got.CompletedSubtasks)
}
