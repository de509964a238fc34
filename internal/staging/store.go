package staging

import "io"

// stagingStore abstracts the storage mechanics for a staging area.
// Implementations must be safe for concurrent use: content is written by
// several transfer workers at once. Reference counting is managed by the
// caller (stagingArea).
type stagingStore interface {
	// StoreContent reads from r, computes the SHA-1 checksum, and stores
	// content under it. Deduplicates if the checksum already exists.
	StoreContent(r io.Reader) (checksum string, size int64, err error)

	// RemoveContent removes stored content by checksum (best-effort).
	RemoveContent(checksum string)

	// OpenContent returns a reader for stored content by checksum.
	OpenContent(checksum string) (io.ReadCloser, error)

	// ContentSize returns total bytes of all stored content.
	ContentSize() (int64, error)

	// RemoveAll deletes all stored content.
	RemoveAll() error
}
