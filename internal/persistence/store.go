// Package persistence defines the boundary between the orchestrator and the
// system of record for tasks.
//
// Implementations live in sub-packages (memory, sqlite). The orchestrator
// depends only on the Store interface and the row types declared here; the
// transform package converts rows to domain tasks and back.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/zjrosen/deepwork/internal/tasks/domain"
)

// Sentinel errors returned by Store implementations. Both are permanent:
// retrying the same call cannot succeed.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Store is the persistence boundary. A non-nil error means the call failed;
// the response is only meaningful when the error is nil.
type Store interface {
	// GetAllTasks returns every task matching opts.Filter (Limit is ignored;
	// ordering and limiting belong to the caller).
	GetAllTasks(ctx context.Context, opts QueryOptions) (Response[[]TaskRow], error)

	// GetTask returns a task with its dependencies and subtasks.
	// Returns ErrNotFound if no task has the id.
	GetTask(ctx context.Context, id string) (Response[TaskRow], error)

	// CreateTask inserts a task. Returns ErrConflict if the id is taken.
	CreateTask(ctx context.Context, row TaskRow) (Response[TaskRow], error)

	// UpdateTask replaces the stored task with row, including its
	// dependencies and subtasks. Returns ErrNotFound if no task has the id.
	UpdateTask(ctx context.Context, id string, row TaskRow) (Response[TaskRow], error)

	// UpdateTaskStatus sets the status and updated timestamp. Moving to
	// completed stamps completed_at; any other status clears it.
	UpdateTaskStatus(ctx context.Context, id string, status domain.Status, at time.Time) (Response[TaskRow], error)

	// GetSubtask returns a single subtask. Returns ErrNotFound if no subtask
	// has the id.
	GetSubtask(ctx context.Context, subtaskID string) (Response[SubtaskRow], error)

	// UpdateSubtaskStatus sets a subtask's completion flag and touches the
	// parent task. Returns ErrNotFound if no subtask has the id.
	UpdateSubtaskStatus(ctx context.Context, subtaskID string, completed bool, at time.Time) (Response[SubtaskRow], error)

	// DeleteTask removes a task with its dependencies and subtasks.
	// Returns ErrNotFound if no task has the id.
	DeleteTask(ctx context.Context, id string) error

	// GetAnalytics returns aggregate statistics over all tasks.
	GetAnalytics(ctx context.Context) (Response[AnalyticsRow], error)

	Close() error
}

// QueryOptions controls a list query.
type QueryOptions struct {
	Filter              domain.TaskFilter
	IncludeDependencies bool
	IncludeSubtasks     bool
}

// Metadata describes how a response was produced.
type Metadata struct {
	Complexity domain.Complexity // Backend's estimate of the query cost
	RowCount   int
}

// Response wraps data returned by a Store.
type Response[T any] struct {
	Data     T
	Metadata Metadata
}

// TaskRow is the storage representation of a task.
type TaskRow struct {
	ID                string
	Title             string
	Description       string
	Status            string
	Priority          int
	FocusIntensity    int
	Complexity        string
	EstimatedDuration int
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
	Dependencies      []string
	Subtasks          []SubtaskRow
}

// SubtaskRow is the storage representation of a subtask.
type SubtaskRow struct {
	ID        string
	TaskID    string
	Title     string
	Completed bool
	Position  int
}

// AnalyticsRow is the raw aggregate computed by a Store.
type AnalyticsRow struct {
	TotalTasks            int
	ByStatus              map[string]int
	ByPriority            map[int]int
	CompletedTasks        int
	AverageFocusIntensity float64
	TotalEstimatedMinutes int
	CompletedSubtasks     int
	TotalSubtasks         int
}

// EstimateComplexity classifies the cost of a query from the number of rows
// it touched and whether nested collections were loaded.
func EstimateComplexity(rows int, nested bool) domain.Complexity {
	switch {
	case rows > 100 || (nested && rows > 25):
		return domain.ComplexityHigh
	case rows > 10 || nested:
		return domain.ComplexityMedium
	default:
		return domain.ComplexityLow
	}
}
