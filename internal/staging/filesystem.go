package staging

import (
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"path"
	"strings"

	"github.com/spf13/afero"

	"geosync/internal/fs"
	"geosync/internal/geosync"
)

const tempPrefix = ".incoming-"

// blobStore keeps staged content as files named by checksum:
//
//	<dir>/<checksum>
//	<dir>/.incoming-<random>   (still being written)
type blobStore struct {
	fsys afero.Fs
	dir  string
}

// NewFileSystemStagingArea stages on disk under stagingDir. Leftovers of an
// earlier run are removed. A maxSize of zero disables the limit.
func NewFileSystemStagingArea(stagingDir string, maxSize int64) (geosync.StagingArea, error) {
	sa, err := newBlobStagingArea(afero.NewOsFs(), stagingDir, maxSize)
	if err != nil {
		return nil, err
	}
	return sa, nil
}

// NewMemoryStagingArea stages in memory; used by tests and one-off clones.
func NewMemoryStagingArea(maxSize int64) geosync.StagingArea {
	sa, err := newBlobStagingArea(afero.NewMemMapFs(), "/staging", maxSize)
	if err != nil {
		// a fresh MemMapFs cannot refuse MkdirAll
		panic(err)
	}
	return sa
}

func newBlobStagingArea(fsys afero.Fs, dir string, maxSize int64) (*stagingArea, error) {
	store := &blobStore{fsys: fsys, dir: dir}
	if err := store.RemoveAll(); err != nil {
		return nil, err
	}
	return newStagingArea(store, maxSize), nil
}

func (b *blobStore) blob(checksum string) string {
	return path.Join(b.dir, checksum)
}

func (b *blobStore) StoreContent(r io.Reader) (string, int64, error) {
	tmp, err := afero.TempFile(b.fsys, b.dir, tempPrefix+"*")
	if err != nil {
		return "", 0, fmt.Errorf("creating temp file: %w", err)
	}
	hr := fs.NewHashingReader(r)
	_, err = io.Copy(tmp, hr)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		b.fsys.Remove(tmp.Name())
		return "", 0, err
	}

	checksum := hr.Sum()
	if ok, _ := afero.Exists(b.fsys, b.blob(checksum)); ok {
		b.fsys.Remove(tmp.Name())
		return checksum, hr.Size(), nil
	}
	if err := b.fsys.Rename(tmp.Name(), b.blob(checksum)); err != nil {
		b.fsys.Remove(tmp.Name())
		return "", 0, fmt.Errorf("moving content into place: %w", err)
	}
	return checksum, hr.Size(), nil
}

func (b *blobStore) RemoveContent(checksum string) {
	b.fsys.Remove(b.blob(checksum))
}

func (b *blobStore) OpenContent(checksum string) (io.ReadCloser, error) {
	f, err := b.fsys.Open(b.blob(checksum))
	if errors.Is(err, iofs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", errNotFound, checksum)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (b *blobStore) ContentSize() (int64, error) {
	entries, err := afero.ReadDir(b.fsys, b.dir)
	if err != nil {
		return 0, fmt.Errorf("reading staging directory: %w", err)
	}
	var total int64
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), tempPrefix) || !e.Mode().IsRegular() {
			continue
		}
		total += e.Size()
	}
	return total, nil
}

func (b *blobStore) RemoveAll() error {
	if err := b.fsys.RemoveAll(b.dir); err != nil {
		return fmt.Errorf("clearing staging directory: %w", err)
	}
	if err := b.fsys.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	return nil
}
