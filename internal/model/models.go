package model

import "time"

// FileEntry is the content identity of one file in a project.
// Path is relative to the project root and always uses forward slashes.
type FileEntry struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
	Size     int64  `json:"size"`
}

// RenamedEntry pairs an origin file with the path it was moved to.
type RenamedEntry struct {
	FileEntry
	NewPath string `json:"new_path"`
}

// ChangeSet is the file-level delta between two inventories.
// A path appears in at most one bucket.
type ChangeSet struct {
	Added   []FileEntry    `json:"added"`
	Removed []FileEntry    `json:"removed"`
	Updated []FileEntry    `json:"updated"`
	Renamed []RenamedEntry `json:"renamed"`
}

// IsEmpty reports whether the change set contains no changes.
func (c ChangeSet) IsEmpty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Updated) == 0 && len(c.Renamed) == 0
}

// Len returns the total number of changes.
func (c ChangeSet) Len() int {
	return len(c.Added) + len(c.Removed) + len(c.Updated) + len(c.Renamed)
}

// Permissions describes what the caller may do with a remote project.
type Permissions struct {
	Read  bool `json:"read"`
	Write bool `json:"write"`
}

// DiffRef identifies the changeset that produced a given version of a file.
type DiffRef struct {
	Version  int    `json:"version"`
	Checksum string `json:"checksum"`
	Size     int64  `json:"size"`
}

// RemoteFile is a file as known by the server at the project's current version.
type RemoteFile struct {
	FileEntry
	// Version is the project version in which the file last changed.
	Version int `json:"version"`
	// Diffs lists changesets for versioned files, ascending by version.
	Diffs []DiffRef `json:"diffs,omitempty"`
}

// ProjectInfo is the server's view of a project.
type ProjectInfo struct {
	ID          string       `json:"id"`
	Version     int          `json:"version"`
	Files       []RemoteFile `json:"files"`
	Permissions Permissions  `json:"permissions"`
}

// Entries returns the plain inventory of the remote project.
func (p *ProjectInfo) Entries() []FileEntry {
	entries := make([]FileEntry, 0, len(p.Files))
	for _, f := range p.Files {
		entries = append(entries, f.FileEntry)
	}
	return entries
}

// File returns the remote file at path, or nil.
func (p *ProjectInfo) File(path string) *RemoteFile {
	for i := range p.Files {
		if p.Files[i].Path == path {
			return &p.Files[i]
		}
	}
	return nil
}

// Metadata is the persisted state of a working copy.
type Metadata struct {
	ProjectID      string
	CurrentVersion int
	// Files is the inventory at CurrentVersion (the origin for push detection).
	Files []FileEntry
	// UnfinishedPull is set while a pull is being applied.
	UnfinishedPull bool
	// PendingVersion and PendingFiles describe the target of an unfinished pull.
	PendingVersion int
	PendingFiles   []FileEntry
}

// Manifest is the change description sent ahead of file bodies on push.
type Manifest struct {
	Version int       `json:"version"`
	Changes ChangeSet `json:"changes"`
	// Diffs maps an updated versioned file path to the checksum of the changeset
	// uploaded for it.
	Diffs map[string]DiffRef `json:"diffs,omitempty"`
}

// SyncOperation is a recorded sync run.
type SyncOperation struct {
	ID         int64
	Operation  string
	Parameters string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
	Version    int
	Conflicts  int
}
