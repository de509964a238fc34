package geosync

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/samber/lo"

	"geosync/internal/changes"
	"geosync/internal/fs"
	"geosync/internal/model"
)

// stagedFile is a local file snapshotted for upload.
type stagedFile struct {
	entry model.FileEntry
	// content is a scratch copy of the snapshot for versioned files; it is
	// diffed against the base and becomes the new base once pushed.
	content string
}

// Push uploads the local changes of a checked session. The push change set
// is recomputed against the current origin, so a push following a pull sees
// the just-pulled state. Nothing is sent when there are no local changes.
func (s *Service) Push(ctx context.Context, sess *SyncSession) error {
	local, err := fs.BuildInventory(s.fsys, s.root, s.ignore)
	if err != nil {
		return err
	}
	sess.local = local
	sess.PushChanges = changes.Detect(sess.meta.Files, local)
	if sess.PushChanges.IsEmpty() {
		return nil
	}
	if !sess.CanWrite() {
		return fmt.Errorf("%w: no write access to project %s", ErrPermissionDenied, sess.ProjectID)
	}
	if err := sess.Transition(Pushing); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	work, cleanup, err := s.newWorkDir()
	if err != nil {
		return err
	}
	defer cleanup()

	cs := sess.PushChanges
	var staged []stagedFile
	defer func() {
		for _, f := range staged {
			s.staging.Remove(f.entry.Checksum)
		}
	}()

	stage := func(entries []model.FileEntry) error {
		for i, e := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			s.observer.OnFileStart(e.Path)
			abs, err := s.abs(e.Path)
			if err != nil {
				return err
			}
			sum, size, err := s.staging.Stage(abs)
			if err != nil {
				return fmt.Errorf("staging %s: %w", e.Path, err)
			}
			entries[i].Checksum, entries[i].Size = sum, size
			f := stagedFile{entry: entries[i]}
			if IsVersionedFile(e.Path) {
				f.content = filepath.Join(work, s.idgen.New()+".snapshot")
				if err := s.materialize(sum, f.content); err != nil {
					return err
				}
			}
			staged = append(staged, f)
		}
		return nil
	}
	if err := stage(cs.Added); err != nil {
		return err
	}
	if err := stage(cs.Updated); err != nil {
		return err
	}

	prog := newProgress(s.observer)
	for _, f := range staged {
		prog.addTotal(f.entry.Size)
	}

	origin := lo.KeyBy(sess.meta.Files, func(e model.FileEntry) string { return e.Path })
	manifest := &model.Manifest{Version: sess.meta.CurrentVersion, Changes: cs}
	req := &PushRequest{Manifest: manifest}
	for _, f := range staged {
		req.Files = append(req.Files, PushFile{
			Path:     f.entry.Path,
			Checksum: f.entry.Checksum,
			Size:     f.entry.Size,
			Open: func() (io.ReadCloser, error) {
				rc, err := s.staging.Open(f.entry.Checksum)
				if err != nil {
					return nil, err
				}
				return &progressReadCloser{ReadCloser: rc, fp: prog.file(f.entry.Size)}, nil
			},
		})

		o, updated := origin[f.entry.Path]
		if f.content == "" || !updated || !s.hasBase(f.entry.Path, o.Checksum) {
			continue
		}
		diff, err := s.localChangeset(ctx, f.entry.Path, f.content, work)
		if err != nil {
			s.logger.Warn("sending full file without changeset", "path", f.entry.Path, "error", err)
			continue
		}
		if manifest.Diffs == nil {
			manifest.Diffs = make(map[string]model.DiffRef)
		}
		manifest.Diffs[f.entry.Path] = model.DiffRef{Checksum: diff.Checksum, Size: diff.Size}
		req.Diffs = append(req.Diffs, PushFile{
			Path:     f.entry.Path,
			Checksum: diff.Checksum,
			Size:     diff.Size,
			Open:     func() (io.ReadCloser, error) { return s.fsys.Open(diff.Path) },
		})
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	s.logger.Info("push started", "changes", cs.Len(), "version", manifest.Version)
	info, err := s.remote.Push(context.WithoutCancel(ctx), sess.ProjectID, req)
	if err != nil {
		return fmt.Errorf("pushing changes: %w", err)
	}

	if err := s.afterPush(ctx, cs, staged); err != nil {
		return err
	}

	meta := sess.meta
	meta.Files = info.Entries()
	meta.CurrentVersion = info.Version
	if err := s.store.Save(context.WithoutCancel(ctx), meta); err != nil {
		return fmt.Errorf("saving metadata: %w", err)
	}
	sess.remote = info
	sess.LocalVersion = info.Version
	sess.RemoteVersion = info.Version
	sess.pushed = cs.Len()
	s.logger.Info("push complete", "version", info.Version)
	return nil
}

// afterPush brings base copies in line with the pushed state.
func (s *Service) afterPush(ctx context.Context, cs model.ChangeSet, staged []stagedFile) error {
	ctx = context.WithoutCancel(ctx)
	for _, f := range staged {
		if f.content == "" {
			continue
		}
		if err := s.setBase(ctx, f.entry.Path, f.content); err != nil {
			return err
		}
	}
	for _, e := range cs.Removed {
		if err := s.removeBase(e.Path); err != nil {
			return err
		}
	}
	for _, r := range cs.Renamed {
		if err := s.moveBase(r.Path, r.NewPath); err != nil {
			return err
		}
	}
	return nil
}

// materialize copies staged content to dest.
func (s *Service) materialize(checksum, dest string) error {
	rc, err := s.staging.Open(checksum)
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = fs.ReplaceFile(dest, rc)
	return err
}

type changesetFile struct {
	Path     string
	Checksum string
	Size     int64
}

// localChangeset computes the changeset from the base copy of rel to current.
func (s *Service) localChangeset(ctx context.Context, rel, current, work string) (*changesetFile, error) {
	p := filepath.Join(work, s.idgen.New()+".diff")
	if err := s.codec.ComputeChangeset(ctx, s.basePath(rel), current, p); err != nil {
		return nil, err
	}
	sum, size, err := fs.Checksum(s.fsys, p)
	if err != nil {
		return nil, err
	}
	return &changesetFile{Path: p, Checksum: sum, Size: size}, nil
}

type progressReadCloser struct {
	io.ReadCloser
	fp *fileProgress
}

func (r *progressReadCloser) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	if n > 0 {
		r.fp.Write(p[:n])
	}
	if err == io.EOF {
		r.fp.complete()
	}
	return n, err
}
