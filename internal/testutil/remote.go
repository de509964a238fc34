package testutil

import (
	"geosync/internal/geosync"
	"geosync/internal/lock"
	"geosync/internal/server"
)

// NewTestStore creates a project store over an in-memory vault.
func NewTestStore(opts ...server.StoreOption) *server.Store {
	return server.NewStore(NewTestVault(), lock.NewMemoryLocker(), geosync.NewNopLogger(), opts...)
}

// NewTestRemote creates an in-process remote over store.
func NewTestRemote(store *server.Store) *server.LocalRemote {
	return server.NewLocalRemote(store)
}
