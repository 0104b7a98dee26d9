package sqlite

import (
	"context"
	"testing"
)

// newTestStore creates a Store backed by a temp-file database.
//
// File-based databases are more reliable than in-memory for connection pool
// scenarios, and t.TempDir() gives each test its own isolated database.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := t.TempDir() + "/test.db"
	ctx := context.Background()
	store, err := New(ctx, dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("Failed to close test database: %v", cerr)
		}
	})

	// The feed needs at least one version row so triggers have a version
	// to stamp.
	if _, err := store.NextFeedVersion(ctx); err != nil {
		t.Fatalf("Failed to start feed version: %v", err)
	}
	return store
}
