package geosync

import "errors"

var (
	// ErrNotInitialized is returned when a directory is not a working copy.
	ErrNotInitialized = errors.New("not a geosync working copy")
	// ErrIntegrity is returned when content does not match its checksum.
	ErrIntegrity = errors.New("checksum mismatch")
	// ErrPermissionDenied is returned when the actor may not write the project.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnauthorized is returned when the server rejects the credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrQuotaExceeded is returned when a push would exceed the storage quota.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrVersionConflict is returned when a push is based on a stale version.
	ErrVersionConflict = errors.New("project version conflict")
	// ErrLocked is returned when another session owns the working copy.
	ErrLocked = errors.New("working copy is locked by another session")
	// ErrNoDiffChain is returned when a file has no complete changeset chain.
	ErrNoDiffChain = errors.New("no changeset chain available")
	// ErrProjectNotFound is returned for an unknown remote project.
	ErrProjectNotFound = errors.New("project not found")
	// ErrFileNotFound is returned when a remote file does not exist.
	ErrFileNotFound = errors.New("file not found")
	// ErrProjectExists is returned when creating a project that exists.
	ErrProjectExists = errors.New("project already exists")
	// ErrInvalidTransition is returned for a sync state change that is not allowed.
	ErrInvalidTransition = errors.New("invalid sync state transition")
	// ErrNotVersioned is returned when a versioned-file operation targets
	// another kind of file.
	ErrNotVersioned = errors.New("not a versioned file")
)

// IsFatal reports whether err aborts the whole session rather than a phase.
func IsFatal(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrIntegrity)
}
