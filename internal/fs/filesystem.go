package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// MetaDir is the working-copy metadata directory. It is never synced.
const MetaDir = ".geosync"

const copyChunkSize = 256 * 1024

// dirAttempts bounds how often a destination directory is recreated when a
// concurrent RemoveFile prunes it before the write lands.
const dirAttempts = 5

// testHookAfterMkdir runs between creating a destination directory and
// writing into it.
var testHookAfterMkdir = func(dir string) {}

// ErrOutsideRoot is returned when a project path would resolve outside the
// working copy.
var ErrOutsideRoot = errors.New("path escapes project root")

// Resolve joins a forward-slash project path onto root.
func Resolve(root, rel string) (string, error) {
	if rel == "" || path.IsAbs(rel) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, rel)
	}
	clean := path.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, rel)
	}
	return filepath.Join(root, filepath.FromSlash(clean)), nil
}

// ReplaceFile writes r to dest atomically: the content goes to a temp file in
// the destination directory which is then renamed over dest. Parent
// directories are created as needed. Returns the number of bytes written.
func ReplaceFile(dest string, r io.Reader) (int64, error) {
	var tmpFile *os.File
	err := inDir(filepath.Dir(dest), func(dir string) error {
		var err error
		tmpFile, err = os.CreateTemp(dir, ".tmp-*")
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return 0, fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return written, nil
}

// inDir creates dir and runs op in it. When op fails because dir vanished in
// between, dir is created again.
func inDir(dir string, op func(dir string) error) error {
	var err error
	for range dirAttempts {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
		testHookAfterMkdir(dir)
		if err = op(dir); !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return err
}

// CopyFile copies src to dst atomically, checking ctx between chunks.
func CopyFile(ctx context.Context, src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open src: %w", err)
	}
	defer srcFile.Close()

	_, err = ReplaceFile(dst, &contextReader{ctx: ctx, r: srcFile})
	return err
}

// contextReader fails reads once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	if len(p) > copyChunkSize {
		p = p[:copyChunkSize]
	}
	return c.r.Read(p)
}

// MoveFile renames src to dst, creating the destination directory.
func MoveFile(src, dst string) error {
	if _, err := os.Lstat(src); err != nil {
		return fmt.Errorf("rename %s: %w", src, err)
	}
	err := inDir(filepath.Dir(dst), func(string) error {
		return os.Rename(src, dst)
	})
	if err != nil {
		return fmt.Errorf("rename %s: %w", src, err)
	}
	return nil
}

// RemoveFile deletes the file at p and then removes parent directories that
// became empty, stopping at root. ReplaceFile and MoveFile recreate a
// directory pruned from under them, so RemoveFile may run alongside them.
func RemoveFile(root, p string) error {
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", p, err)
	}
	root = filepath.Clean(root)
	for dir := filepath.Dir(p); dir != root && strings.HasPrefix(dir, root); dir = filepath.Dir(dir) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			break
		}
		os.Remove(dir)
	}
	return nil
}

// Exists reports whether a file exists at p.
func Exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// ConflictCopyPath returns a free project path for a conflicted copy of rel,
// in the form "<stem> (conflicted copy, v<version>)<ext>". When that name is
// taken a counter is appended: "<stem> (conflicted copy, v<version>) (2)<ext>".
func ConflictCopyPath(root, rel string, version int) (string, error) {
	dir, base := path.Split(rel)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	candidate := fmt.Sprintf("%s%s (conflicted copy, v%d)%s", dir, stem, version, ext)
	for i := 2; ; i++ {
		abs, err := Resolve(root, candidate)
		if err != nil {
			return "", err
		}
		if !Exists(abs) {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s%s (conflicted copy, v%d) (%d)%s", dir, stem, version, i, ext)
	}
}

// CreateConflictCopy moves the local file at rel aside to a conflicted copy and
// returns the project path of the copy.
func CreateConflictCopy(root, rel string, version int) (string, error) {
	src, err := Resolve(root, rel)
	if err != nil {
		return "", err
	}
	copyRel, err := ConflictCopyPath(root, rel, version)
	if err != nil {
		return "", err
	}
	dst, err := Resolve(root, copyRel)
	if err != nil {
		return "", err
	}
	if err := MoveFile(src, dst); err != nil {
		return "", fmt.Errorf("creating conflicted copy of %s: %w", rel, err)
	}
	return copyRel, nil
}
