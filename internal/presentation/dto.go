package presentation

import (
	"github.com/zjrosen/deepwork/internal/session"
	"github.com/zjrosen/deepwork/internal/tasks/domain"
)

// TaskSummaryDTO is one row of `deepwork task list`.
type TaskSummaryDTO struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	Priority string  `json:"priority"`
	Focus    int     `json:"focusIntensity"`
	Progress float64 `json:"progress"`
	Title    string  `json:"title"`
	Session  string  `json:"session,omitempty"` // live session state, if any
}

// FromTask converts a task to its summary, attaching the live session state
// when the task has one.
func FromTask(t domain.Task, live map[string]session.Session) TaskSummaryDTO {
	dto := TaskSummaryDTO{
		ID:       t.ID,
		Status:   string(t.Status),
		Priority: t.Priority.String(),
		Focus:    t.FocusIntensity,
		Title:    t.Title,
	}
	if t.Meta != nil {
		dto.Progress = t.Meta.Progress
	}
	if s, ok := live[t.ID]; ok {
		dto.Session = string(s.State)
	}
	return dto
}

// FromTasks converts a task list, preserving order.
func FromTasks(tasks []domain.Task, sessions []session.Session) []TaskSummaryDTO {
	live := make(map[string]session.Session, len(sessions))
	for _, s := range sessions {
		live[s.TaskID] = s
	}
	out := make([]TaskSummaryDTO, len(tasks))
	for i, t := range tasks {
		out[i] = FromTask(t, live)
	}
	return out
}
