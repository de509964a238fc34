package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"geosync/internal/geosync"
)

// FileName is the metadata database inside a working copy's metadata directory.
const FileName = "metadata.db"

// WorkingCopyPath returns the metadata database path of the working copy at root.
func WorkingCopyPath(root string) string {
	return filepath.Join(root, ".geosync", FileName)
}

// OpenWorkingCopy opens the metadata store of the working copy at root.
// Unless create is set, a directory without metadata is reported as
// geosync.ErrNotInitialized instead of being turned into a working copy.
func OpenWorkingCopy(root string, create bool, clock geosync.Clock) (*MetadataStore, error) {
	p := WorkingCopyPath(root)
	if _, err := os.Stat(p); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("checking metadata database: %w", err)
		}
		if !create {
			return nil, fmt.Errorf("%w: %s", geosync.ErrNotInitialized, root)
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("creating metadata directory: %w", err)
		}
	}
	return NewMetadataStore(p, clock)
}
