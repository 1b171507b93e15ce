package testutil

import (
	"time"

	"github.com/zjrosen/deepwork/internal/persistence"
	"github.com/zjrosen/deepwork/internal/tasks/domain"
)

// Base is the reference time used by builders. Offsets are relative to it.
var Base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// TaskOption configures a task row being built.
type TaskOption func(*persistence.TaskRow)

// defaultTask returns a valid pending row.
func defaultTask(id string) persistence.TaskRow {
	return persistence.TaskRow{
		ID:                id,
		Title:             "Task " + id,
		Status:            string(domain.StatusPending),
		Priority:          int(domain.PriorityMedium),
		FocusIntensity:    3,
		Complexity:        string(domain.ComplexityMedium),
		EstimatedDuration: 25,
		CreatedAt:         Base,
		UpdatedAt:         Base,
	}
}

// Title sets the task title.
func Title(title string) TaskOption {
	return func(r *persistence.TaskRow) { r.Title = title }
}

// Description sets the task description.
func Description(desc string) TaskOption {
	return func(r *persistence.TaskRow) { r.Description = desc }
}

// Status sets the task status. Completed tasks get a completion time.
func Status(s domain.Status) TaskOption {
	return func(r *persistence.TaskRow) {
		r.Status = string(s)
		r.CompletedAt = nil
		if s == domain.StatusCompleted {
			at := r.UpdatedAt
			r.CompletedAt = &at
		}
	}
}

// Priority sets the task priority.
func Priority(p domain.Priority) TaskOption {
	return func(r *persistence.TaskRow) { r.Priority = int(p) }
}

// Focus sets the focus intensity.
func Focus(n int) TaskOption {
	return func(r *persistence.TaskRow) { r.FocusIntensity = n }
}

// Complexity sets the task complexity.
func Complexity(c domain.Complexity) TaskOption {
	return func(r *persistence.TaskRow) { r.Complexity = string(c) }
}

// Minutes sets the estimated duration.
func Minutes(n int) TaskOption {
	return func(r *persistence.TaskRow) { r.EstimatedDuration = n }
}

// CreatedAt offsets the creation (and update) time from Base.
func CreatedAt(offset time.Duration) TaskOption {
	return func(r *persistence.TaskRow) {
		r.CreatedAt = Base.Add(offset)
		r.UpdatedAt = r.CreatedAt
	}
}

// DependsOn sets the dependency ids.
func DependsOn(ids ...string) TaskOption {
	return func(r *persistence.TaskRow) { r.Dependencies = append([]string(nil), ids...) }
}

// Subtask appends a subtask. Its id is derived from the task id.
func Subtask(title string, completed bool) TaskOption {
	return func(r *persistence.TaskRow) {
		pos := len(r.Subtasks)
		r.Subtasks = append(r.Subtasks, persistence.SubtaskRow{
			ID:        SubtaskID(r.ID, pos),
			TaskID:    r.ID,
			Title:     title,
			Completed: completed,
			Position:  pos,
		})
	}
}
