package geosync

import (
	"context"
	"io"

	"geosync/internal/geodiff"
	"geosync/internal/model"
)

// Remote is the server side of a project.
type Remote interface {
	// ProjectInfo returns the current state of the project.
	ProjectInfo(ctx context.Context, projectID string) (*model.ProjectInfo, error)

	// CreateProject creates an empty project.
	CreateProject(ctx context.Context, projectID string) (*model.ProjectInfo, error)

	// Download streams the current content of a file into w.
	Download(ctx context.Context, projectID, path string, w io.Writer) error

	// DownloadDiffs streams the changesets of a versioned file for every
	// version after since, in ascending order, calling fn once per version.
	// Returns ErrNoDiffChain when some version has no changeset.
	DownloadDiffs(ctx context.Context, projectID, path string, since int, fn func(version int, r io.Reader) error) error

	// Push uploads a change set in one request. Either every change commits
	// or none does.
	Push(ctx context.Context, projectID string, req *PushRequest) (*model.ProjectInfo, error)
}

// PushRequest bundles a manifest with the bodies it refers to. Bodies are
// opened lazily, one at a time, while the request is written.
type PushRequest struct {
	Manifest *model.Manifest
	Files    []PushFile
	Diffs    []PushFile
}

// PushFile is one body of a push request.
type PushFile struct {
	Path     string
	Checksum string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

// MetadataStore persists the working-copy state.
type MetadataStore interface {
	// Load returns the metadata, or ErrNotInitialized.
	Load(ctx context.Context) (*model.Metadata, error)

	// Save replaces the metadata atomically.
	Save(ctx context.Context, meta *model.Metadata) error
}

// ChangesetCodec computes, applies and lists changesets of versioned files.
type ChangesetCodec interface {
	ComputeChangeset(ctx context.Context, base, modified, changeset string) error
	// ApplyChangeset patches target in place.
	ApplyChangeset(ctx context.Context, target, changeset string) error
	ListChanges(ctx context.Context, changeset string) ([]geodiff.DiffEntry, error)
	Schema(ctx context.Context, db string) (geodiff.Schema, error)
}

// StagingArea holds file content in transit between the working copy and the
// remote. Content is addressed by checksum and reference counted.
type StagingArea interface {
	// Stage snapshots the file at path. The file is stat-ed before and after
	// the copy and staging fails if it changed in between.
	Stage(path string) (checksum string, size int64, err error)

	// Put stores the content read from r. It fails with ErrIntegrity when the
	// content does not match checksum and size.
	Put(r io.Reader, checksum string, size int64) error

	// Open returns a reader for staged content.
	Open(checksum string) (io.ReadCloser, error)

	// Remove drops one reference to staged content.
	Remove(checksum string) error

	// Clear removes all staged content.
	Clear() error

	// Size returns the total size of staged content in bytes.
	Size() (int64, error)
}

// Locker grants exclusive ownership of a working copy.
type Locker interface {
	// Lock acquires the lock for key or fails with ErrLocked. The returned
	// function releases it.
	Lock(ctx context.Context, key string) (release func() error, err error)
}
