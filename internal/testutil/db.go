package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/deepwork/internal/persistence/memory"
	"github.com/zjrosen/deepwork/internal/persistence/sqlite"
)

// NewSQLiteStore opens a migrated SQLite store in a temporary directory.
// The store is closed when the test ends.
func NewSQLiteStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "deepwork.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })
	return store
}
