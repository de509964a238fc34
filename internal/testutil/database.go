package testutil

import (
	"testing"

	"geosync/internal/database"
)

// NewTestMetadataStore creates a new in-memory metadata store with schema applied.
// The store is automatically closed when the test completes.
func NewTestMetadataStore(t *testing.T) *database.MetadataStore {
	t.Helper()

	store, err := database.NewMetadataStore(":memory:", FixedClock())
	if err != nil {
		t.Fatalf("failed to open metadata store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}
