package vault

import "github.com/spf13/afero"

// NewMemoryVault returns a vault held entirely in memory, for tests and
// throwaway servers. It shares the filesystem vault's layout and checks.
func NewMemoryVault(name string) *FileSystemVault {
	v, err := NewFileSystemVaultFs(name, "memory:"+name, afero.NewMemMapFs())
	if err != nil {
		// MkdirAll on a fresh MemMapFs cannot fail.
		panic(err)
	}
	return v
}
