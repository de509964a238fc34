package server

import (
	"fmt"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/samber/lo"

	"geosync/internal/geosync"
	"geosync/internal/model"
)

var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateProjectID rejects ids that cannot name a vault scope.
func ValidateProjectID(id string) error {
	if !projectIDPattern.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: invalid project id %q", ErrBadRequest, id)
	}
	return nil
}

// validatePath rejects project paths that are not clean, relative and
// slash separated.
func validatePath(p string) error {
	if p == "" || path.IsAbs(p) || strings.Contains(p, `\`) || path.Clean(p) != p ||
		p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return fmt.Errorf("%w: invalid path %q", ErrBadRequest, p)
	}
	return nil
}

// fileState is a file of a stored project.
type fileState struct {
	model.FileEntry
	Version int `json:"version"`
	// Full is the version of the last whole-file upload. A changeset chain
	// reaches the current content from any version at or after Full.
	Full  int             `json:"full"`
	Diffs []model.DiffRef `json:"diffs,omitempty"`
}

// projectState is the stored state of a project.
type projectState struct {
	ID      string      `json:"id"`
	Version int         `json:"version"`
	Files   []fileState `json:"files"`
}

func (p *projectState) info(perm model.Permissions) *model.ProjectInfo {
	info := &model.ProjectInfo{ID: p.ID, Version: p.Version, Permissions: perm, Files: []model.RemoteFile{}}
	for _, f := range p.Files {
		info.Files = append(info.Files, model.RemoteFile{
			FileEntry: f.FileEntry,
			Version:   f.Version,
			Diffs:     slices.Clone(f.Diffs),
		})
	}
	return info
}

func (p *projectState) file(filePath string) (*fileState, bool) {
	for i := range p.Files {
		if p.Files[i].Path == filePath {
			return &p.Files[i], true
		}
	}
	return nil, false
}

func (p *projectState) size() int64 {
	return lo.SumBy(p.Files, func(f fileState) int64 { return f.Size })
}

// diffChain returns the changesets leading from version since to the current
// content of a file, ascending.
func (f *fileState) diffChain(since int) ([]model.DiffRef, error) {
	if since < f.Full {
		return nil, fmt.Errorf("%w: %s since v%d", geosync.ErrNoDiffChain, f.Path, since)
	}
	return lo.Filter(f.Diffs, func(d model.DiffRef, _ int) bool { return d.Version > since }), nil
}

// upload is a body a push must carry, keyed by kind and path.
type upload struct {
	diff     bool
	path     string
	checksum string
	size     int64
}

// apply validates a manifest against the project and returns the next
// state together with the bodies the push must carry.
func (p *projectState) apply(m *model.Manifest) (*projectState, []upload, error) {
	if m.Version != p.Version {
		return nil, nil, fmt.Errorf("%w: push based on v%d, project is at v%d", geosync.ErrVersionConflict, m.Version, p.Version)
	}
	cs := m.Changes
	if cs.IsEmpty() {
		return nil, nil, fmt.Errorf("%w: empty change set", ErrBadRequest)
	}

	next := p.Version + 1
	files := lo.SliceToMap(p.Files, func(f fileState) (string, fileState) { return f.Path, f })
	seen := make(map[string]bool)
	claim := func(paths ...string) error {
		for _, q := range paths {
			if err := validatePath(q); err != nil {
				return err
			}
			if seen[q] {
				return fmt.Errorf("%w: %s changed twice", ErrBadRequest, q)
			}
			seen[q] = true
		}
		return nil
	}

	for _, e := range cs.Removed {
		if err := claim(e.Path); err != nil {
			return nil, nil, err
		}
		if _, ok := files[e.Path]; !ok {
			return nil, nil, fmt.Errorf("%w: removing %s which does not exist", geosync.ErrVersionConflict, e.Path)
		}
		delete(files, e.Path)
	}

	moved := make(map[string]fileState)
	for _, r := range cs.Renamed {
		if err := claim(r.Path, r.NewPath); err != nil {
			return nil, nil, err
		}
		f, ok := files[r.Path]
		if !ok || f.Checksum != r.Checksum {
			return nil, nil, fmt.Errorf("%w: renaming %s which does not match", geosync.ErrVersionConflict, r.Path)
		}
		delete(files, r.Path)
		f.Path = r.NewPath
		f.Version = next
		moved[r.NewPath] = f
	}
	for q, f := range moved {
		if _, taken := files[q]; taken {
			return nil, nil, fmt.Errorf("%w: rename target %s exists", geosync.ErrVersionConflict, q)
		}
		files[q] = f
	}

	var uploads []upload
	for _, e := range cs.Updated {
		if err := claim(e.Path); err != nil {
			return nil, nil, err
		}
		f, ok := files[e.Path]
		if !ok {
			return nil, nil, fmt.Errorf("%w: updating %s which does not exist", geosync.ErrVersionConflict, e.Path)
		}
		uploads = append(uploads, upload{path: e.Path, checksum: e.Checksum, size: e.Size})
		f.FileEntry = e
		f.Version = next
		if d, ok := m.Diffs[e.Path]; ok {
			d.Version = next
			f.Diffs = append(slices.Clone(f.Diffs), d)
			uploads = append(uploads, upload{diff: true, path: e.Path, checksum: d.Checksum, size: d.Size})
		} else {
			f.Full = next
			f.Diffs = nil
		}
		files[e.Path] = f
	}

	for _, e := range cs.Added {
		if err := claim(e.Path); err != nil {
			return nil, nil, err
		}
		if _, ok := files[e.Path]; ok {
			return nil, nil, fmt.Errorf("%w: adding %s which exists", geosync.ErrVersionConflict, e.Path)
		}
		uploads = append(uploads, upload{path: e.Path, checksum: e.Checksum, size: e.Size})
		files[e.Path] = fileState{FileEntry: e, Version: next, Full: next}
	}

	for q := range m.Diffs {
		if !slices.ContainsFunc(cs.Updated, func(e model.FileEntry) bool { return e.Path == q }) {
			return nil, nil, fmt.Errorf("%w: changeset for %s which is not updated", ErrBadRequest, q)
		}
	}

	out := &projectState{ID: p.ID, Version: next, Files: lo.Values(files)}
	slices.SortFunc(out.Files, func(a, b fileState) int { return strings.Compare(a.Path, b.Path) })
	return out, uploads, nil
}
