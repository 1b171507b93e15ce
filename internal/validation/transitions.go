package validation

import (
	"slices"

	"github.com/zjrosen/deepwork/internal/tasks/domain"
)

// Transitions maps each status to the statuses it may move to.
// A status missing from the map has no outgoing edges.
type Transitions map[domain.Status][]domain.Status

// NewTransitions builds the task lifecycle table. When allowDirectCompletion
// is set, pending and paused tasks may be completed without passing through
// in-progress.
func NewTransitions(allowDirectCompletion bool) Transitions {
	t := Transitions{
		domain.StatusPending:    {domain.StatusInProgress},
		domain.StatusInProgress: {domain.StatusPaused, domain.StatusCompleted},
		domain.StatusPaused:     {domain.StatusInProgress},
	}
	if allowDirectCompletion {
		t[domain.StatusPending] = append(t[domain.StatusPending], domain.StatusCompleted)
		t[domain.StatusPaused] = append(t[domain.StatusPaused], domain.StatusCompleted)
	}
	return t
}

// Allowed reports whether from -> to is an edge in the table.
func (t Transitions) Allowed(from, to domain.Status) bool {
	return slices.Contains(t[from], to)
}
