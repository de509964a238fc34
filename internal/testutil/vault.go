package testutil

import (
	"geosync/internal/server"
	"geosync/internal/vault"
)

// NewTestVault creates a new in-memory vault for testing.
func NewTestVault() server.Vault {
	return vault.NewMemoryVault("test-vault")
}
