package persistence

import "github.com/zjrosen/deepwork/internal/tasks/domain"

// RowMatches applies a task filter to a storage row.
func RowMatches(f domain.TaskFilter, r TaskRow) bool {
	return f.Matches(domain.Task{
		Title:          r.Title,
		Description:    r.Description,
		Status:         domain.Status(r.Status),
		Priority:       domain.Priority(r.Priority),
		Complexity:     domain.Complexity(r.Complexity),
		FocusIntensity: r.FocusIntensity,
	})
}

// CloneRow deep copies a row.
func CloneRow(r TaskRow) TaskRow {
	c := r
	if r.Dependencies != nil {
		c.Dependencies = append([]string(nil), r.Dependencies...)
	}
	if r.Subtasks != nil {
		c.Subtasks = append([]SubtaskRow(nil), r.Subtasks...)
	}
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		c.CompletedAt = &at
	}
	return c
}
