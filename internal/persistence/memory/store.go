// Package memory implements persistence.Store with in-process maps.
// It backs the --memory CLI mode and orchestrator tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zjrosen/deepwork/internal/log"
	"github.com/zjrosen/deepwork/internal/persistence"
	"github.com/zjrosen/deepwork/internal/tasks/domain"
)

// Compile-time interface assertion.
var _ persistence.Store = (*Store)(nil)

// Store keeps tasks in memory. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	tasks     map[string]persistence.TaskRow
	subtaskOf map[string]string // subtask id -> task id
	calls     map[string]int
	failure   func(op string) error
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		tasks:     make(map[string]persistence.TaskRow),
		subtaskOf: make(map[string]string),
		calls:     make(map[string]int),
	}
}

// InjectFailure installs a hook consulted at the start of every operation.
// A non-nil return fails the call with that error. Pass nil to clear.
func (s *Store) InjectFailure(fn func(op string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = fn
}

// Calls returns how many times op was invoked, including failed calls.
func (s *Store) Calls(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// TotalCalls returns the number of operations invoked on the store.
func (s *Store) TotalCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// begin records the call and returns the injected failure, if any.
// Caller must hold s.mu for writing.
func (s *Store) begin(ctx context.Context, op string) error {
	s.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.failure != nil {
		if err := s.failure(op); err != nil {
			log.Debug(log.CatDB, "injected failure", "op", op, "error", err)
			return err
		}
	}
	return nil
}

// GetAllTasks implements persistence.Store.
func (s *Store) GetAllTasks(ctx context.Context, opts persistence.QueryOptions) (persistence.Response[[]persistence.TaskRow], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "GetAllTasks"); err != nil {
		return persistence.Response[[]persistence.TaskRow]{}, err
	}

	rows := make([]persistence.TaskRow, 0, len(s.tasks))
	for _, r := range s.tasks {
		if !persistence.RowMatches(opts.Filter, r) {
			continue
		}
		c := persistence.CloneRow(r)
		if !opts.IncludeDependencies {
			c.Dependencies = nil
		}
		if !opts.IncludeSubtasks {
			c.Subtasks = nil
		}
		rows = append(rows, c)
	}
	// Stable output, matching the sqlite store's ORDER BY created_at, id.
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].ID < rows[j].ID
	})

	nested := opts.IncludeDependencies || opts.IncludeSubtasks
	return persistence.Response[[]persistence.TaskRow]{
		Data:     rows,
		Metadata: persistence.Metadata{Complexity: persistence.EstimateComplexity(len(rows), nested), RowCount: len(rows)},
	}, nil
}

// GetTask implements persistence.Store.
func (s *Store) GetTask(ctx context.Context, id string) (persistence.Response[persistence.TaskRow], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "GetTask"); err != nil {
		return persistence.Response[persistence.TaskRow]{}, err
	}
	r, ok := s.tasks[id]
	if !ok {
		return persistence.Response[persistence.TaskRow]{}, fmt.Errorf("task %s: %w", id, persistence.ErrNotFound)
	}
	return single(persistence.CloneRow(r)), nil
}

// CreateTask implements persistence.Store.
func (s *Store) CreateTask(ctx context.Context, row persistence.TaskRow) (persistence.Response[persistence.TaskRow], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "CreateTask"); err != nil {
		return persistence.Response[persistence.TaskRow]{}, err
	}
	if _, exists := s.tasks[row.ID]; exists {
		return persistence.Response[persistence.TaskRow]{}, fmt.Errorf("task %s: %w", row.ID, persistence.ErrConflict)
	}
	for _, st := range row.Subtasks {
		if _, exists := s.subtaskOf[st.ID]; exists {
			return persistence.Response[persistence.TaskRow]{}, fmt.Errorf("subtask %s: %w", st.ID, persistence.ErrConflict)
		}
	}
	stored := s.put(row)
	return single(stored), nil
}

// UpdateTask implements persistence.Store.
func (s *Store) UpdateTask(ctx context.Context, id string, row persistence.TaskRow) (persistence.Response[persistence.TaskRow], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "UpdateTask"); err != nil {
		return persistence.Response[persistence.TaskRow]{}, err
	}
	old, ok := s.tasks[id]
	if !ok {
		return persistence.Response[persistence.TaskRow]{}, fmt.Errorf("task %s: %w", id, persistence.ErrNotFound)
	}
	for _, st := range old.Subtasks {
		delete(s.subtaskOf, st.ID)
	}
	row.ID = id
	row.CreatedAt = old.CreatedAt
	stored := s.put(row)
	return single(stored), nil
}

// UpdateTaskStatus implements persistence.Store.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status domain.Status, at time.Time) (persistence.Response[persistence.TaskRow], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "UpdateTaskStatus"); err != nil {
		return persistence.Response[persistence.TaskRow]{}, err
	}
	r, ok := s.tasks[id]
	if !ok {
		return persistence.Response[persistence.TaskRow]{}, fmt.Errorf("task %s: %w", id, persistence.ErrNotFound)
	}
	r.Status = string(status)
	r.UpdatedAt = at
	r.CompletedAt = nil
	if status == domain.StatusCompleted {
		completed := at
		r.CompletedAt = &completed
	}
	s.tasks[id] = r
	return single(persistence.CloneRow(r)), nil
}

// GetSubtask implements persistence.Store.
func (s *Store) GetSubtask(ctx context.Context, subtaskID string) (persistence.Response[persistence.SubtaskRow], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "GetSubtask"); err != nil {
		return persistence.Response[persistence.SubtaskRow]{}, err
	}
	taskID, ok := s.subtaskOf[subtaskID]
	if !ok {
		return persistence.Response[persistence.SubtaskRow]{}, fmt.Errorf("subtask %s: %w", subtaskID, persistence.ErrNotFound)
	}
	for _, st := range s.tasks[taskID].Subtasks {
		if st.ID == subtaskID {
			return persistence.Response[persistence.SubtaskRow]{
				Data:     st,
				Metadata: persistence.Metadata{Complexity: domain.ComplexityLow, RowCount: 1},
			}, nil
		}
	}
	return persistence.Response[persistence.SubtaskRow]{}, fmt.Errorf("subtask %s: %w", subtaskID, persistence.ErrNotFound)
}

// UpdateSubtaskStatus implements persistence.Store.
func (s *Store) UpdateSubtaskStatus(ctx context.Context, subtaskID string, completed bool, at time.Time) (persistence.Response[persistence.SubtaskRow], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "UpdateSubtaskStatus"); err != nil {
		return persistence.Response[persistence.SubtaskRow]{}, err
	}
	taskID, ok := s.subtaskOf[subtaskID]
	if !ok {
		return persistence.Response[persistence.SubtaskRow]{}, fmt.Errorf("subtask %s: %w", subtaskID, persistence.ErrNotFound)
	}
	r := persistence.CloneRow(s.tasks[taskID])
	var out persistence.SubtaskRow
	for i := range r.Subtasks {
		if r.Subtasks[i].ID == subtaskID {
			r.Subtasks[i].Completed = completed
			out = r.Subtasks[i]
		}
	}
	r.UpdatedAt = at
	s.tasks[taskID] = r
	return persistence.Response[persistence.SubtaskRow]{
		Data:     out,
		Metadata: persistence.Metadata{Complexity: domain.ComplexityLow, RowCount: 1},
	}, nil
}

// DeleteTask implements persistence.Store.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "DeleteTask"); err != nil {
		return err
	}
	r, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, persistence.ErrNotFound)
	}
	for _, st := range r.Subtasks {
		delete(s.subtaskOf, st.ID)
	}
	delete(s.tasks, id)
	return nil
}

// GetAnalytics implements persistence.Store.
func (s *Store) GetAnalytics(ctx context.Context) (persistence.Response[persistence.AnalyticsRow], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, "GetAnalytics"); err != nil {
		return persistence.Response[persistence.AnalyticsRow]{}, err
	}

	a := persistence.AnalyticsRow{
		ByStatus:   make(map[string]int),
		ByPriority: make(map[int]int),
	}
	focusSum := 0
	for _, r := range s.tasks {
		a.TotalTasks++
		a.ByStatus[r.Status]++
		a.ByPriority[r.Priority]++
		if r.Status == string(domain.StatusCompleted) {
			a.CompletedTasks++
		}
		focusSum += r.FocusIntensity
		a.TotalEstimatedMinutes += r.EstimatedDuration
		for _, st := range r.Subtasks {
			a.TotalSubtasks++
			if st.Completed {
				a.CompletedSubtasks++
			}
		}
	}
	if a.TotalTasks > 0 {
		a.AverageFocusIntensity = float64(focusSum) / float64(a.TotalTasks)
	}
	return persistence.Response[persistence.AnalyticsRow]{
		Data:     a,
		Metadata: persistence.Metadata{Complexity: persistence.EstimateComplexity(a.TotalTasks, true), RowCount: a.TotalTasks},
	}, nil
}

// Close implements persistence.Store.
func (s *Store) Close() error {
	return nil
}

// put stores a copy of row with subtask ownership and positions normalized.
// Caller must hold s.mu for writing.
func (s *Store) put(row persistence.TaskRow) persistence.TaskRow {
	stored := persistence.CloneRow(row)
	for i := range stored.Subtasks {
		stored.Subtasks[i].TaskID = stored.ID
		stored.Subtasks[i].Position = i
		s.subtaskOf[stored.Subtasks[i].ID] = stored.ID
	}
	s.tasks[stored.ID] = stored
	return persistence.CloneRow(stored)
}

func single(r persistence.TaskRow) persistence.Response[persistence.TaskRow] {
	return persistence.Response[persistence.TaskRow]{
		Data:     r,
		Metadata: persistence.Metadata{Complexity: persistence.EstimateComplexity(1, len(r.Subtasks) > 0 || len(r.Dependencies) > 0), RowCount: 1},
	}
}
