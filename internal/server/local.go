package server

import (
	"context"
	"fmt"
	"io"

	"geosync/internal/geosync"
	"geosync/internal/model"
)

// LocalRemote serves a Store in-process. It backs file:// remotes, where
// the project store lives on storage the client can reach directly.
type LocalRemote struct {
	store *Store
}

var _ geosync.Remote = (*LocalRemote)(nil)

// NewLocalRemote creates a LocalRemote over store.
func NewLocalRemote(store *Store) *LocalRemote {
	return &LocalRemote{store: store}
}

func (l *LocalRemote) ProjectInfo(ctx context.Context, projectID string) (*model.ProjectInfo, error) {
	return l.store.Info(ctx, projectID)
}

func (l *LocalRemote) CreateProject(ctx context.Context, projectID string) (*model.ProjectInfo, error) {
	return l.store.Create(ctx, projectID)
}

func (l *LocalRemote) Download(ctx context.Context, projectID, path string, w io.Writer) error {
	_, body, err := l.store.Open(ctx, projectID, path)
	if err != nil {
		return err
	}
	defer body.Close()
	if _, err := io.Copy(w, body); err != nil {
		return fmt.Errorf("downloading %s: %w", path, err)
	}
	return nil
}

func (l *LocalRemote) DownloadDiffs(ctx context.Context, projectID, path string, since int, fn func(version int, r io.Reader) error) error {
	refs, err := l.store.DiffChain(ctx, projectID, path, since)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		body := l.store.OpenContent(ref.Checksum)
		err := fn(ref.Version, body)
		body.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// Push hands the bodies of req to the store in the order they would be sent
// over the wire: files, then changesets.
func (l *LocalRemote) Push(ctx context.Context, projectID string, req *geosync.PushRequest) (*model.ProjectInfo, error) {
	bodies := make([]func() (*Upload, io.Closer, error), 0, len(req.Files)+len(req.Diffs))
	add := func(diff bool, files []geosync.PushFile) {
		for _, f := range files {
			bodies = append(bodies, func() (*Upload, io.Closer, error) {
				rc, err := f.Open()
				if err != nil {
					return nil, nil, fmt.Errorf("opening %s: %w", f.Path, err)
				}
				return &Upload{Diff: diff, Path: f.Path, Body: rc}, rc, nil
			})
		}
	}
	add(false, req.Files)
	add(true, req.Diffs)

	var open io.Closer
	defer func() {
		if open != nil {
			open.Close()
		}
	}()
	i := 0
	next := func() (*Upload, error) {
		if open != nil {
			open.Close()
			open = nil
		}
		if i >= len(bodies) {
			return nil, io.EOF
		}
		u, c, err := bodies[i]()
		i++
		if err != nil {
			return nil, err
		}
		open = c
		return u, nil
	}
	return l.store.Push(ctx, projectID, req.Manifest, next)
}
