package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"geosync/internal/fs"
	"geosync/internal/geosync"
	"geosync/internal/model"
)

// metadataName names the project state within a project's vault scope.
const metadataName = "project"

var fullAccess = model.Permissions{Read: true, Write: true}

// Upload is one body of a push.
type Upload struct {
	// Diff marks a changeset rather than whole-file content.
	Diff bool
	Path string
	Body io.Reader
}

// Store keeps projects in a Vault. Content is stored by checksum; the
// project state is stored as metadata whose version is one more than the
// project version, so that 0 means the project does not exist.
type Store struct {
	vault   Vault
	locker  geosync.Locker
	logger  geosync.Logger
	maxSize int64
	tmpDir  string
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithMaxProjectSize limits the total size of a project's files. 0 means
// unlimited.
func WithMaxProjectSize(n int64) StoreOption {
	return func(s *Store) { s.maxSize = n }
}

// WithTempDir sets where push bodies are spooled while being verified.
func WithTempDir(dir string) StoreOption {
	return func(s *Store) { s.tmpDir = dir }
}

// NewStore creates a Store. The locker serializes pushes per project.
func NewStore(vault Vault, locker geosync.Locker, logger geosync.Logger, opts ...StoreOption) *Store {
	s := &Store{vault: vault, locker: locker, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func lockKey(projectID string) string {
	return "project:" + projectID
}

func (s *Store) load(projectID string) (*projectState, error) {
	if err := ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	rev, err := s.vault.GetMetadataVersion(projectID, metadataName)
	if err != nil {
		return nil, fmt.Errorf("reading project revision: %w", err)
	}
	if rev == 0 {
		return nil, fmt.Errorf("%w: %s", geosync.ErrProjectNotFound, projectID)
	}

	var buf bytes.Buffer
	if err := s.vault.GetMetadata(projectID, metadataName, &buf); err != nil {
		return nil, fmt.Errorf("reading project state: %w", err)
	}
	var p projectState
	if err := json.Unmarshal(buf.Bytes(), &p); err != nil {
		return nil, fmt.Errorf("decoding project state: %w", err)
	}
	return &p, nil
}

func (s *Store) save(p *projectState) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding project state: %w", err)
	}
	if err := s.vault.PutMetadata(p.ID, metadataName, bytes.NewReader(data), int64(len(data)), int64(p.Version)+1); err != nil {
		return fmt.Errorf("writing project state: %w", err)
	}
	return nil
}

// Create creates an empty project at version 0.
func (s *Store) Create(ctx context.Context, projectID string) (*model.ProjectInfo, error) {
	if err := ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	release, err := s.locker.Lock(ctx, lockKey(projectID))
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := s.load(projectID); err == nil {
		return nil, fmt.Errorf("%w: %s", geosync.ErrProjectExists, projectID)
	} else if !errors.Is(err, geosync.ErrProjectNotFound) {
		return nil, err
	}
	p := &projectState{ID: projectID, Files: []fileState{}}
	if err := s.save(p); err != nil {
		return nil, err
	}
	s.logger.Info("project created", "project", projectID)
	return p.info(fullAccess), nil
}

// Info returns the current state of a project with full permissions.
func (s *Store) Info(ctx context.Context, projectID string) (*model.ProjectInfo, error) {
	p, err := s.load(projectID)
	if err != nil {
		return nil, err
	}
	return p.info(fullAccess), nil
}

// Open returns the current content of a file.
func (s *Store) Open(ctx context.Context, projectID, filePath string) (*model.RemoteFile, io.ReadCloser, error) {
	p, err := s.load(projectID)
	if err != nil {
		return nil, nil, err
	}
	f, ok := p.file(filePath)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", geosync.ErrFileNotFound, filePath)
	}
	rf := &model.RemoteFile{FileEntry: f.FileEntry, Version: f.Version}
	return rf, s.OpenContent(f.Checksum), nil
}

// DiffChain lists the changesets that bring a file from version since to its
// current content. It fails with ErrNoDiffChain when some version in between
// was uploaded without a changeset.
func (s *Store) DiffChain(ctx context.Context, projectID, filePath string, since int) ([]model.DiffRef, error) {
	p, err := s.load(projectID)
	if err != nil {
		return nil, err
	}
	f, ok := p.file(filePath)
	if !ok {
		return nil, fmt.Errorf("%w: %s", geosync.ErrFileNotFound, filePath)
	}
	return f.diffChain(since)
}

// OpenContent streams stored content. Errors surface from Read.
func (s *Store) OpenContent(checksum string) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(s.vault.GetContent(checksum, pw))
	}()
	return pr
}

// Push commits a change set. Bodies are read from next until it returns
// io.EOF; each is verified against the manifest and stored before the
// project state is written, so a failed push leaves the project unchanged.
func (s *Store) Push(ctx context.Context, projectID string, m *model.Manifest, next func() (*Upload, error)) (*model.ProjectInfo, error) {
	if err := ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	release, err := s.locker.Lock(ctx, lockKey(projectID))
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := s.load(projectID)
	if err != nil {
		return nil, err
	}
	updated, uploads, err := p.apply(m)
	if err != nil {
		return nil, err
	}
	if s.maxSize > 0 && updated.size() > s.maxSize {
		return nil, fmt.Errorf("%w: project would grow to %d bytes, limit is %d", geosync.ErrQuotaExceeded, updated.size(), s.maxSize)
	}

	pending := make(map[upload]bool, len(uploads))
	byKey := make(map[[2]string]upload, len(uploads))
	for _, u := range uploads {
		pending[u] = true
		byKey[uploadKey(u.diff, u.path)] = u
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		body, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading push body: %w", err)
		}
		u, ok := byKey[uploadKey(body.Diff, body.Path)]
		if !ok || !pending[u] {
			return nil, fmt.Errorf("%w: unexpected body for %s", ErrBadRequest, body.Path)
		}
		if err := s.receive(body.Body, u); err != nil {
			return nil, err
		}
		delete(pending, u)
	}
	for u := range pending {
		return nil, fmt.Errorf("%w: missing body for %s", ErrBadRequest, u.path)
	}

	if err := s.save(updated); err != nil {
		return nil, err
	}
	s.logger.Info("push committed", "project", projectID, "version", updated.Version, "changes", m.Changes.Len())
	return updated.info(fullAccess), nil
}

func uploadKey(diff bool, p string) [2]string {
	if diff {
		return [2]string{"diff", p}
	}
	return [2]string{"file", p}
}

// receive spools a body to disk while hashing it and stores it once it
// matches the expected checksum and size.
func (s *Store) receive(r io.Reader, u upload) error {
	f, err := os.CreateTemp(s.tmpDir, "push-*")
	if err != nil {
		return fmt.Errorf("creating spool file: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	h := fs.NewHashingReader(r)
	if _, err := io.Copy(f, h); err != nil {
		return fmt.Errorf("receiving %s: %w", u.path, err)
	}
	if h.Sum() != u.checksum || h.Size() != u.size {
		return fmt.Errorf("%w: %s", geosync.ErrIntegrity, u.path)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := s.vault.PutContent(u.checksum, f, u.size); err != nil {
		return fmt.Errorf("storing %s: %w", u.path, err)
	}
	return nil
}
