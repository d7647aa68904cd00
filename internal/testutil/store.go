package testutil

import (
	"custdoc/internal/store"
)

// NewTestStore creates an empty in-memory content store.
func NewTestStore() *store.MemoryStore {
	return store.NewMemoryStore("test-remote")
}
