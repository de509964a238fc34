// Package geosync synchronizes a local working copy with a remote project.
package geosync

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"geosync/internal/fs"
	"geosync/internal/model"
)

// DefaultWorkers is the default number of concurrent file transfers.
const DefaultWorkers = 4

const (
	baseDirName = "base"
	tmpDirName  = "tmp"
)

var versionedExtensions = []string{".gpkg", ".sqlite"}

// IsVersionedFile reports whether the file at p is tracked through
// changesets rather than whole-file replacement.
func IsVersionedFile(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	for _, v := range versionedExtensions {
		if ext == v {
			return true
		}
	}
	return false
}

// Service is the orchestration layer that runs sync sessions over one
// working copy.
type Service struct {
	root     string
	remote   Remote
	store    MetadataStore
	staging  StagingArea
	codec    ChangesetCodec
	locker   Locker
	observer Observer
	logger   Logger
	clock    Clock
	idgen    IDGenerator
	ignore   *fs.IgnoreMatcher
	workers  int
	// fsys serves the reads and scratch directories of the service itself.
	// The codec and the reference database open paths on the real disk,
	// so it is always the OS filesystem outside of tests.
	fsys afero.Fs

	// conflictMu serializes conflicted copy naming across workers.
	conflictMu sync.Mutex
}

// Option customizes a Service.
type Option func(*Service)

// WithObserver sets the progress observer.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithLocker sets the working-copy lock.
func WithLocker(l Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithWorkers bounds the number of concurrent file transfers.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithIgnore sets the matcher excluding files from the inventory.
func WithIgnore(m *fs.IgnoreMatcher) Option {
	return func(s *Service) { s.ignore = m }
}

// WithClock sets the clock.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithIDGenerator sets the generator used to name scratch files.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Service) { s.idgen = g }
}

// NewService creates a Service for the working copy at root.
func NewService(root string, remote Remote, store MetadataStore, staging StagingArea, codec ChangesetCodec, logger Logger, opts ...Option) *Service {
	s := &Service{
		root:     root,
		remote:   remote,
		store:    store,
		staging:  staging,
		codec:    codec,
		locker:   noLocker{},
		observer: NopObserver{},
		logger:   logger,
		clock:    RealClock{},
		idgen:    UUIDGenerator{},
		ignore:   fs.NewIgnoreMatcher(nil),
		workers:  DefaultWorkers,
		fsys:     afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the working copy directory.
func (s *Service) Root() string { return s.root }

// Init turns root into a working copy of projectID. With create the remote
// project is created first; otherwise it must exist and be readable.
func (s *Service) Init(ctx context.Context, projectID string, create bool) error {
	if meta, err := s.store.Load(ctx); err == nil {
		return fmt.Errorf("already a working copy of %s", meta.ProjectID)
	} else if !errors.Is(err, ErrNotInitialized) {
		return fmt.Errorf("loading metadata: %w", err)
	}

	if create {
		if _, err := s.remote.CreateProject(ctx, projectID); err != nil {
			return fmt.Errorf("creating project: %w", err)
		}
	} else if _, err := s.remote.ProjectInfo(ctx, projectID); err != nil {
		return fmt.Errorf("fetching project: %w", err)
	}

	if err := s.store.Save(ctx, &model.Metadata{ProjectID: projectID}); err != nil {
		return fmt.Errorf("saving metadata: %w", err)
	}
	s.logger.Info("working copy initialized", "project", projectID, "dir", s.root)
	return nil
}

// abs resolves a project path inside the working copy.
func (s *Service) abs(rel string) (string, error) {
	return fs.Resolve(s.root, rel)
}

// basePath is where the last synced state of a versioned file is kept.
func (s *Service) basePath(rel string) string {
	return filepath.Join(s.root, fs.MetaDir, baseDirName, filepath.FromSlash(rel))
}

// localChecksum hashes the file at abs. A missing file is not an error.
func (s *Service) localChecksum(abs string) (string, bool, error) {
	if _, err := s.fsys.Stat(abs); err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	sum, _, err := fs.Checksum(s.fsys, abs)
	if err != nil {
		return "", false, err
	}
	return sum, true, nil
}

// hasBase reports whether the base copy of rel exists with the given checksum.
func (s *Service) hasBase(rel, checksum string) bool {
	sum, ok, err := s.localChecksum(s.basePath(rel))
	return err == nil && ok && sum == checksum
}

// setBase records src as the base copy of a versioned file.
func (s *Service) setBase(ctx context.Context, rel, src string) error {
	if !IsVersionedFile(rel) {
		return nil
	}
	if err := fs.CopyFile(ctx, src, s.basePath(rel)); err != nil {
		return fmt.Errorf("updating base copy of %s: %w", rel, err)
	}
	return nil
}

func (s *Service) removeBase(rel string) error {
	if !IsVersionedFile(rel) {
		return nil
	}
	return fs.RemoveFile(filepath.Join(s.root, fs.MetaDir, baseDirName), s.basePath(rel))
}

func (s *Service) moveBase(from, to string) error {
	if !IsVersionedFile(from) || !fs.Exists(s.basePath(from)) {
		return nil
	}
	if !IsVersionedFile(to) {
		return s.removeBase(from)
	}
	return fs.MoveFile(s.basePath(from), s.basePath(to))
}

// newWorkDir creates a scratch directory inside the metadata directory, so
// that renames into the working copy stay on one filesystem.
func (s *Service) newWorkDir() (string, func(), error) {
	dir := filepath.Join(s.root, fs.MetaDir, tmpDirName, s.idgen.New())
	if err := s.fsys.MkdirAll(dir, 0755); err != nil {
		return "", nil, fmt.Errorf("creating work directory: %w", err)
	}
	return dir, func() { s.fsys.RemoveAll(dir) }, nil
}

// conflictCopy moves the local file at rel aside.
func (s *Service) conflictCopy(rel string, version int) (string, error) {
	s.conflictMu.Lock()
	defer s.conflictMu.Unlock()
	copyRel, err := fs.CreateConflictCopy(s.root, rel, version)
	if err != nil {
		return "", err
	}
	s.logger.Warn("conflicted copy created", "path", rel, "copy", copyRel)
	return copyRel, nil
}

// placeFile atomically replaces dest with the content of src.
func (s *Service) placeFile(src, dest string) error {
	f, err := s.fsys.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := fs.ReplaceFile(dest, f); err != nil {
		return err
	}
	return nil
}

type noLocker struct{}

func (noLocker) Lock(context.Context, string) (func() error, error) {
	return func() error { return nil }, nil
}
