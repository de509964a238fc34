package vault

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"geosync/internal/server"
)

const (
	contentRoot  = "content"
	metadataRoot = "metadata"
	versionExt   = ".version"
)

// FileSystemVault keeps blobs and project metadata under a directory tree.
// Blobs are sharded by the first two characters of their checksum:
//
//	content/<ab>/<checksum>
//	metadata/<scope>/<name>
//	metadata/<scope>/<name>.version
type FileSystemVault struct {
	name string
	root string
	fsys afero.Fs
}

// NewFileSystemVault opens (and creates if needed) a vault at root on the
// local disk.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating vault root: %w", err)
	}
	return NewFileSystemVaultFs(name, root, afero.NewBasePathFs(osFs, root))
}

// NewFileSystemVaultFs builds a vault over an arbitrary afero filesystem whose
// root is the vault root. root is only used in messages.
func NewFileSystemVaultFs(name, root string, fsys afero.Fs) (*FileSystemVault, error) {
	for _, dir := range []string{contentRoot, metadataRoot} {
		if err := fsys.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating %s directory: %w", dir, err)
		}
	}
	return &FileSystemVault{name: name, root: root, fsys: fsys}, nil
}

func contentPath(checksum string) string {
	shard := checksum
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return path.Join(contentRoot, shard, checksum)
}

func metadataPath(scope, name string) (string, error) {
	if err := validateName(scope); err != nil {
		return "", err
	}
	if err := validateName(name); err != nil {
		return "", err
	}
	return path.Join(metadataRoot, scope, name), nil
}

// PutContent stores a blob. Storing a checksum that already exists only
// drains r and checks its length.
func (v *FileSystemVault) PutContent(checksum string, r io.Reader, size int64) error {
	if err := validateName(checksum); err != nil {
		return err
	}
	p := contentPath(checksum)
	if ok, _ := afero.Exists(v.fsys, p); ok {
		n, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if n != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, n)
		}
		return nil
	}
	return v.store(p, r, size)
}

// GetContent copies a blob into w.
func (v *FileSystemVault) GetContent(checksum string, w io.Writer) error {
	if err := validateName(checksum); err != nil {
		return err
	}
	return v.load(contentPath(checksum), w, func() error {
		return fmt.Errorf("content not found: %s", checksum)
	})
}

// PutMetadata replaces a metadata item, then records its version.
func (v *FileSystemVault) PutMetadata(scope string, name string, r io.Reader, size int64, version int64) error {
	p, err := metadataPath(scope, name)
	if err != nil {
		return err
	}
	if err := v.store(p, r, size); err != nil {
		return err
	}
	marker := strconv.FormatInt(version, 10)
	return v.store(p+versionExt, strings.NewReader(marker), int64(len(marker)))
}

// GetMetadataVersion returns 0 for an item that was never written.
func (v *FileSystemVault) GetMetadataVersion(scope string, name string) (int64, error) {
	p, err := metadataPath(scope, name)
	if err != nil {
		return 0, err
	}
	raw, err := afero.ReadFile(v.fsys, p+versionExt)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading version file: %w", err)
	}
	version, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// GetMetadata copies a metadata item into w.
func (v *FileSystemVault) GetMetadata(scope string, name string, w io.Writer) error {
	p, err := metadataPath(scope, name)
	if err != nil {
		return err
	}
	return v.load(p, w, func() error {
		return fmt.Errorf("metadata %q not found in scope: %s", name, scope)
	})
}

// ValidateSetup checks that both top-level directories are present.
func (v *FileSystemVault) ValidateSetup() error {
	for _, dir := range []string{contentRoot, metadataRoot} {
		ok, err := afero.DirExists(v.fsys, dir)
		if err != nil {
			return fmt.Errorf("vault %s at %s not accessible: %w", dir, v.root, err)
		}
		if !ok {
			return fmt.Errorf("vault %s directory missing under %s", dir, v.root)
		}
	}
	return nil
}

// validateName rejects names that would escape their directory.
func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid vault object name: %q", name)
	}
	return nil
}

// store writes r to a temp file next to p and renames it into place once
// exactly size bytes were copied.
func (v *FileSystemVault) store(p string, r io.Reader, size int64) (err error) {
	dir := path.Dir(p)
	if err := v.fsys.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := afero.TempFile(v.fsys, dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			v.fsys.Remove(tmp.Name())
		}
	}()

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if n != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, n)
	}
	if err := v.fsys.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (v *FileSystemVault) load(p string, w io.Writer, notFound func() error) error {
	f, err := v.fsys.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return notFound()
	}
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return nil
}

var _ server.Vault = (*FileSystemVault)(nil)
