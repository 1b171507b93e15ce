// Package domain provides the task domain model with no infrastructure dependencies.
//
// It defines the Task entity orchestrated by deepwork, its enumerations
// (status, priority, complexity), the inputs accepted by create and update
// operations, list filters, and the analytics aggregate.
package domain

import (
	"slices"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	// StatusPending indicates the task exists but work has not started.
	StatusPending Status = "pending"

	// StatusInProgress indicates a live work session is attached to the task.
	StatusInProgress Status = "in-progress"

	// StatusPaused indicates work was interrupted; the session stays live.
	StatusPaused Status = "paused"

	// StatusCompleted is terminal.
	StatusCompleted Status = "completed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status is a recognized task status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusPaused, StatusCompleted:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if no transition may leave this status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted
}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusInProgress, StatusPaused, StatusCompleted}
}

// Priority is an ordered enum; higher values sort first.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityMedium Priority = 2
	PriorityHigh   Priority = 3
	PriorityUrgent Priority = 4
)

// IsValid returns true if the priority is within the known range.
func (p Priority) IsValid() bool {
	return p >= PriorityLow && p <= PriorityUrgent
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "unknown"
	}
}

// ParsePriority converts a name ("low", "high") into a Priority.
func ParsePriority(s string) (Priority, bool) {
	switch s {
	case "low":
		return PriorityLow, true
	case "medium":
		return PriorityMedium, true
	case "high":
		return PriorityHigh, true
	case "urgent":
		return PriorityUrgent, true
	default:
		return 0, false
	}
}

// Complexity is a coarse size estimate for a task or an operation.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// IsValid returns true if the complexity is a recognized value.
func (c Complexity) IsValid() bool {
	switch c {
	case ComplexityLow, ComplexityMedium, ComplexityHigh:
		return true
	default:
		return false
	}
}

// Subtask is an ordered child item of a task with its own completion flag.
type Subtask struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	Position  int    `json:"position"`
}

// TaskMeta holds values derived from a task's nested collections.
// It is only populated when a transformation asks for metadata.
type TaskMeta struct {
	Progress        float64 `json:"progress"`
	DependencyCount int     `json:"dependencyCount"`
	SubtaskCount    int     `json:"subtaskCount"`
}

// Task is the unit of deep work being orchestrated.
type Task struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	Status            Status     `json:"status"`
	Priority          Priority   `json:"priority"`
	FocusIntensity    int        `json:"focusIntensity"`
	Complexity        Complexity `json:"complexity"`
	EstimatedDuration int        `json:"estimatedDuration"` // minutes
	Dependencies      []string   `json:"dependencies"`
	Subtasks          []Subtask  `json:"subtasks"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	Meta              *TaskMeta  `json:"meta,omitempty"`
}

// EstimatedDurationTime returns the estimate as a time.Duration.
func (t Task) EstimatedDurationTime() time.Duration {
	return time.Duration(t.EstimatedDuration) * time.Minute
}

// Clone returns a deep copy so cached values cannot be mutated by callers.
func (t Task) Clone() Task {
	c := t
	if t.Dependencies != nil {
		c.Dependencies = slices.Clone(t.Dependencies)
	}
	if t.Subtasks != nil {
		c.Subtasks = slices.Clone(t.Subtasks)
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	if t.Meta != nil {
		m := *t.Meta
		c.Meta = &m
	}
	return c
}

// CloneTasks deep copies a slice of tasks.
func CloneTasks(tasks []Task) []Task {
	if tasks == nil {
		return nil
	}
	out := make([]Task, len(tasks))
	for i := range tasks {
		out[i] = tasks[i].Clone()
	}
	return out
}

// SubtaskInput describes a subtask supplied at creation or replacement time.
type SubtaskInput struct {
	Title     string `json:"title"`
	Completed bool   `json:"completed,omitempty"`
}

// CreateInput is the caller-supplied payload for creating a task.
// Zero values mean "not supplied" and are defaulted by the orchestrator.
type CreateInput struct {
	Title             string         `json:"title"`
	Description       string         `json:"description,omitempty"`
	Status            Status         `json:"status,omitempty"`
	Priority          Priority       `json:"priority,omitempty"`
	FocusIntensity    int            `json:"focusIntensity,omitempty"`
	Complexity        Complexity     `json:"complexity,omitempty"`
	EstimatedDuration int            `json:"estimatedDuration,omitempty"`
	Dependencies      []string       `json:"dependencies,omitempty"`
	Subtasks          []SubtaskInput `json:"subtasks,omitempty"`
}

// UpdateInput is a partial update. A nil field means "no change".
type UpdateInput struct {
	Title             *string         `json:"title,omitempty"`
	Description       *string         `json:"description,omitempty"`
	Status            *Status         `json:"status,omitempty"`
	Priority          *Priority       `json:"priority,omitempty"`
	FocusIntensity    *int            `json:"focusIntensity,omitempty"`
	Complexity        *Complexity     `json:"complexity,omitempty"`
	EstimatedDuration *int            `json:"estimatedDuration,omitempty"`
	Dependencies      *[]string       `json:"dependencies,omitempty"`
	Subtasks          *[]SubtaskInput `json:"subtasks,omitempty"`
}

// IsEmpty reports whether no recognized field is present.
func (u UpdateInput) IsEmpty() bool {
	return u.Title == nil && u.Description == nil && u.Status == nil &&
		u.Priority == nil && u.FocusIntensity == nil && u.Complexity == nil &&
		u.EstimatedDuration == nil && u.Dependencies == nil && u.Subtasks == nil
}

// OnlyStatus reports whether the update changes the status and nothing else.
func (u UpdateInput) OnlyStatus() bool {
	if u.Status == nil {
		return false
	}
	rest := u
	rest.Status = nil
	return rest.IsEmpty()
}
