package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nhle/draftspace/internal/store"
)

// NewTestStore opens a throwaway in-memory draft store with all
// migrations applied. The store is closed when the test finishes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	return NewTestStoreAt(t, ":memory:")
}

// NewTestStoreAt opens a store at path, for tests that need the
// database file to outlive a Close and be reopened. Cleanup still
// closes the store; Close is idempotent, so tests closing early are
// fine.
func NewTestStoreAt(t *testing.T, path string) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(path)
	require.NoError(t, err, "opening test store at %s", path)

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})
	return s
}
