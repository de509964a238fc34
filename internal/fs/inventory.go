package fs

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	iofs "io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"geosync/internal/model"
)

// checksumChunkSize is the read size used when hashing file content.
const checksumChunkSize = 4096

// BuildInventory walks root and returns one FileEntry per regular file.
// Paths are relative to root and use forward slashes. The working-copy
// metadata directory and ignored files are skipped. Any I/O error aborts the
// whole scan; a partial inventory is never returned.
func BuildInventory(fsys afero.Fs, root string, ignore *IgnoreMatcher) ([]model.FileEntry, error) {
	var entries []model.FileEntry

	err := afero.Walk(fsys, root, func(p string, info iofs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", p, err)
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			if rel == MetaDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if ignore != nil && ignore.Match(rel) {
			return nil
		}

		checksum, size, err := Checksum(fsys, p)
		if err != nil {
			return err
		}
		entries = append(entries, model.FileEntry{Path: rel, Checksum: checksum, Size: size})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("building inventory of %s: %w", root, err)
	}

	return entries, nil
}

// Checksum returns the hex SHA-1 digest and size of the file at path.
func Checksum(fsys afero.Fs, path string) (string, int64, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	hr := NewHashingReader(f)
	buf := make([]byte, checksumChunkSize)
	for {
		_, err := hr.Read(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", 0, fmt.Errorf("reading %s: %w", path, err)
		}
	}
	return hr.Sum(), hr.Size(), nil
}

// HashingReader computes the SHA-1 digest of everything read through it.
type HashingReader struct {
	r    io.Reader
	h    hash.Hash
	size int64
}

// NewHashingReader wraps r.
func NewHashingReader(r io.Reader) *HashingReader {
	return &HashingReader{r: r, h: sha1.New()}
}

func (r *HashingReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.h.Write(p[:n])
		r.size += int64(n)
	}
	return n, err
}

// Sum returns the hex digest of the bytes read so far.
func (r *HashingReader) Sum() string {
	return hex.EncodeToString(r.h.Sum(nil))
}

// Size returns the number of bytes read so far.
func (r *HashingReader) Size() int64 {
	return r.size
}

// ChecksumBytes returns the hex SHA-1 digest of data.
func ChecksumBytes(data []byte) string {
	h := sha1.Sum(data)
	return hex.EncodeToString(h[:])
}

// IsWithinMetaDir reports whether a relative path points into the metadata directory.
func IsWithinMetaDir(rel string) bool {
	rel = filepath.ToSlash(rel)
	return rel == MetaDir || strings.HasPrefix(rel, MetaDir+"/")
}
