package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"geosync/internal/geosync"
)

// stagingArea implements geosync.StagingArea using a pluggable stagingStore
// for the storage mechanics. All shared algorithm logic lives here.
type stagingArea struct {
	store   stagingStore
	maxSize int64
	mu      sync.Mutex
	refs    map[string]int
}

var _ geosync.StagingArea = (*stagingArea)(nil)

func newStagingArea(store stagingStore, maxSize int64) *stagingArea {
	return &stagingArea{store: store, maxSize: maxSize, refs: make(map[string]int)}
}

// Stage snapshots the file at path.
func (s *stagingArea) Stage(path string) (string, int64, error) {
	// 1. Get initial stat
	info1, err := os.Stat(path)
	if err != nil {
		return "", 0, fmt.Errorf("stat file: %w", err)
	}
	if !info1.Mode().IsRegular() {
		return "", 0, fmt.Errorf("not a regular file: %s", path)
	}
	stat1, err := extractStatData(info1)
	if err != nil {
		return "", 0, fmt.Errorf("extracting stat data: %w", err)
	}

	// 2. Store content (hash + store), then close reader
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("opening file: %w", err)
	}
	checksum, size, err := s.store.StoreContent(f)
	f.Close()
	if err != nil {
		return "", 0, fmt.Errorf("storing content: %w", err)
	}

	// 3. Re-stat to validate file hasn't changed
	info2, err := os.Stat(path)
	if err != nil {
		s.discard(checksum)
		return "", 0, fmt.Errorf("re-stat file: %w", err)
	}
	stat2, err := extractStatData(info2)
	if err != nil {
		s.discard(checksum)
		return "", 0, fmt.Errorf("extracting re-stat data: %w", err)
	}
	if err := validateStatUnchanged(info1, info2, stat1, stat2); err != nil {
		s.discard(checksum)
		return "", 0, fmt.Errorf("file changed during staging: %w", err)
	}

	// 4. Check size limit and take a reference
	if err := s.commit(checksum); err != nil {
		return "", 0, err
	}
	return checksum, size, nil
}

// Put stores downloaded content and verifies it against the expected
// checksum and size.
func (s *stagingArea) Put(r io.Reader, checksum string, size int64) error {
	got, n, err := s.store.StoreContent(r)
	if err != nil {
		return fmt.Errorf("storing content: %w", err)
	}
	if got != checksum || n != size {
		s.discard(got)
		return fmt.Errorf("%w: expected %s (%d bytes), received %s (%d bytes)",
			geosync.ErrIntegrity, checksum, size, got, n)
	}
	return s.commit(got)
}

func (s *stagingArea) commit(checksum string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refs[checksum]++
	if s.maxSize <= 0 {
		return nil
	}
	contentSize, err := s.store.ContentSize()
	if err != nil {
		s.release(checksum)
		return fmt.Errorf("getting current size: %w", err)
	}
	if contentSize > s.maxSize {
		s.release(checksum)
		return fmt.Errorf("staging area full: would exceed max size of %d bytes", s.maxSize)
	}
	return nil
}

// discard removes content that was stored but never referenced.
func (s *stagingArea) discard(checksum string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs[checksum] == 0 {
		s.store.RemoveContent(checksum)
	}
}

// release drops one reference. Caller holds s.mu.
func (s *stagingArea) release(checksum string) {
	s.refs[checksum]--
	if s.refs[checksum] <= 0 {
		delete(s.refs, checksum)
		s.store.RemoveContent(checksum)
	}
}

// Open returns a reader for staged content.
func (s *stagingArea) Open(checksum string) (io.ReadCloser, error) {
	s.mu.Lock()
	_, ok := s.refs[checksum]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("content not staged: %s", checksum)
	}
	return s.store.OpenContent(checksum)
}

// Remove drops one reference to staged content. The content is deleted once
// no references remain.
func (s *stagingArea) Remove(checksum string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refs[checksum]; !ok {
		return fmt.Errorf("content not staged: %s", checksum)
	}
	s.release(checksum)
	return nil
}

// Clear removes all staged content.
func (s *stagingArea) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = make(map[string]int)
	return s.store.RemoveAll()
}

// Size returns the total size of staged content in bytes.
func (s *stagingArea) Size() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ContentSize()
}

var errNotFound = errors.New("content not found")
