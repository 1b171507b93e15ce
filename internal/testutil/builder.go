// Package testutil provides builders and fixtures for tests that need a
// populated task store.
package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/deepwork/internal/persistence"
)

// Builder accumulates task rows and inserts them into a store.
type Builder struct {
	t     *testing.T
	store persistence.Store
	rows  []persistence.TaskRow
}

// NewBuilder creates a builder for the given store.
func NewBuilder(t *testing.T, store persistence.Store) *Builder {
	t.Helper()
	return &Builder{t: t, store: store}
}

// WithTask adds a task with optional configuration.
func (b *Builder) WithTask(id string, opts ...TaskOption) *Builder {
	b.rows = append(b.rows, Task(id, opts...))
	return b
}

// Build inserts every accumulated row and returns them in insertion order.
func (b *Builder) Build() []persistence.TaskRow {
	b.t.Helper()
	ctx := context.Background()
	for _, r := range b.rows {
		_, err := b.store.CreateTask(ctx, r)
		require.NoError(b.t, err, "seeding task %s", r.ID)
	}
	return b.rows
}

// Task builds a single row without inserting it.
func Task(id string, opts ...TaskOption) persistence.TaskRow {
	r := defaultTask(id)
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// SubtaskID is the id Subtask assigns to the subtask at pos of task.
func SubtaskID(taskID string, pos int) string {
	return fmt.Sprintf("%s-s%d", taskID, pos+1)
}
