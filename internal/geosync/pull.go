package geosync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"geosync/internal/fs"
	"geosync/internal/model"
)

type pullKind int

const (
	pullFetch pullKind = iota
	pullDelete
	pullMove
)

// pullTask is the work for one remote change.
type pullTask struct {
	kind pullKind
	path string
	// from is the previous path of a moved file.
	from string
	// origin is the entry at the last synced version, nil for new files.
	origin *model.FileEntry
	// remote is the entry at the remote version, nil for deletions.
	remote *model.RemoteFile
}

// errPatchMismatch marks a changeset chain whose result differs from the
// remote file; the full file is downloaded instead.
var errPatchMismatch = errors.New("patched file does not match remote checksum")

func planPull(sess *SyncSession) []pullTask {
	origin := lo.KeyBy(sess.meta.Files, func(e model.FileEntry) string { return e.Path })
	cs := sess.PullChanges
	var tasks []pullTask

	for _, e := range cs.Added {
		tasks = append(tasks, pullTask{kind: pullFetch, path: e.Path, remote: sess.remote.File(e.Path)})
	}
	for _, e := range cs.Updated {
		o := origin[e.Path]
		tasks = append(tasks, pullTask{kind: pullFetch, path: e.Path, origin: &o, remote: sess.remote.File(e.Path)})
	}
	for _, e := range cs.Removed {
		tasks = append(tasks, pullTask{kind: pullDelete, path: e.Path, origin: &e})
	}
	for _, r := range cs.Renamed {
		tasks = append(tasks, pullTask{kind: pullMove, path: r.NewPath, from: r.Path, origin: &r.FileEntry, remote: sess.remote.File(r.NewPath)})
	}
	return tasks
}

// Pull applies the remote changes of a checked session to the working copy.
// Files are processed by a bounded pool of workers. Once ctx is cancelled no
// new file is started, files in flight complete and the context error is
// returned. Files whose local edits cannot be reconciled are moved aside
// as conflicted copies and listed in sess.Conflicts.
func (s *Service) Pull(ctx context.Context, sess *SyncSession) error {
	if err := sess.Transition(Pulling); err != nil {
		return err
	}
	tasks := planPull(sess)
	s.logger.Info("pull started", "files", len(tasks), "from", sess.LocalVersion, "to", sess.RemoteVersion)

	meta := sess.meta
	meta.UnfinishedPull = true
	meta.PendingVersion = sess.remote.Version
	meta.PendingFiles = sess.remote.Entries()
	if err := s.store.Save(ctx, meta); err != nil {
		return fmt.Errorf("saving metadata: %w", err)
	}
	sess.UnfinishedPull = true

	work, cleanup, err := s.newWorkDir()
	if err != nil {
		return err
	}
	defer cleanup()

	prog := newProgress(s.observer)
	for _, t := range tasks {
		if t.remote != nil {
			prog.addTotal(t.remote.Size)
		}
	}

	var (
		mu        sync.Mutex
		conflicts []string
	)
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(s.workers)

	cancelled := false
	for _, t := range tasks {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			s.observer.OnFileStart(t.path)
			copies, err := s.pullOne(gctx, sess, t, work, prog)
			if err != nil {
				return fmt.Errorf("pulling %s: %w", t.path, err)
			}
			if len(copies) > 0 {
				mu.Lock()
				conflicts = append(conflicts, copies...)
				mu.Unlock()
				for _, c := range copies {
					s.observer.OnConflict(c)
				}
			}
			return nil
		})
	}
	err = g.Wait()

	slices.Sort(conflicts)
	sess.Conflicts = append(sess.Conflicts, conflicts...)

	if err == nil && cancelled {
		err = ctx.Err()
	}
	if err != nil {
		if terr := sess.Transition(UnfinishedPull); terr != nil {
			return errors.Join(err, terr)
		}
		return err
	}

	meta.Files = sess.remote.Entries()
	meta.CurrentVersion = sess.remote.Version
	meta.UnfinishedPull = false
	meta.PendingVersion = 0
	meta.PendingFiles = nil
	if err := s.store.Save(context.WithoutCancel(ctx), meta); err != nil {
		return fmt.Errorf("saving metadata: %w", err)
	}
	sess.UnfinishedPull = false
	sess.LocalVersion = meta.CurrentVersion
	sess.pulled = len(tasks)

	s.logger.Info("pull complete", "version", meta.CurrentVersion, "conflicts", len(conflicts))
	if len(sess.Conflicts) > 0 {
		return sess.Transition(PullConflictResolution)
	}
	return nil
}

// pullOne applies one task and returns the conflicted copies it created.
func (s *Service) pullOne(ctx context.Context, sess *SyncSession, t pullTask, work string, prog *progress) ([]string, error) {
	switch t.kind {
	case pullDelete:
		return nil, s.pullDelete(t)
	case pullMove:
		moved, err := s.pullMove(t)
		if err != nil {
			return nil, err
		}
		if moved {
			if t.remote != nil {
				prog.add(t.remote.Size)
			}
			return nil, nil
		}
		// The local file diverged or the target is taken: fetch the new
		// path as an addition and treat the old path as removed.
		added := pullTask{kind: pullFetch, path: t.path, remote: t.remote}
		copies, err := s.pullFetch(ctx, sess, added, work, prog)
		if err != nil {
			return nil, err
		}
		return copies, s.pullDelete(pullTask{kind: pullDelete, path: t.from, origin: t.origin})
	default:
		return s.pullFetch(ctx, sess, t, work, prog)
	}
}

func (s *Service) pullDelete(t pullTask) error {
	dest, err := s.abs(t.path)
	if err != nil {
		return err
	}
	sum, exists, err := s.localChecksum(dest)
	if err != nil {
		return err
	}
	if exists && sum != t.origin.Checksum {
		s.logger.Info("keeping locally modified file removed remotely", "path", t.path)
		return s.removeBase(t.path)
	}
	if exists {
		if err := fs.RemoveFile(s.root, dest); err != nil {
			return err
		}
	}
	return s.removeBase(t.path)
}

// pullMove renames the local file when it is unchanged and the target is
// free. It reports whether the move happened.
func (s *Service) pullMove(t pullTask) (bool, error) {
	src, err := s.abs(t.from)
	if err != nil {
		return false, err
	}
	dst, err := s.abs(t.path)
	if err != nil {
		return false, err
	}
	sum, exists, err := s.localChecksum(src)
	if err != nil {
		return false, err
	}
	if !exists || sum != t.origin.Checksum || fs.Exists(dst) {
		return false, nil
	}
	if err := fs.MoveFile(src, dst); err != nil {
		return false, err
	}
	if err := s.moveBase(t.from, t.path); err != nil {
		return false, err
	}
	fs.RemoveFile(s.root, src)
	return true, nil
}

// pullFetch brings the remote content of an added or updated file into the
// working copy, reconciling local edits.
func (s *Service) pullFetch(ctx context.Context, sess *SyncSession, t pullTask, work string, prog *progress) ([]string, error) {
	if t.remote == nil {
		return nil, fmt.Errorf("remote entry missing for %s", t.path)
	}
	dest, err := s.abs(t.path)
	if err != nil {
		return nil, err
	}
	fp := prog.file(t.remote.Size)
	defer fp.complete()

	localSum, exists, err := s.localChecksum(dest)
	if err != nil {
		return nil, err
	}
	if exists && localSum == t.remote.Checksum {
		return nil, s.setBase(ctx, t.path, dest)
	}
	modified := exists && (t.origin == nil || localSum != t.origin.Checksum)

	content, err := s.fetch(ctx, sess, t, work, fp)
	if err != nil {
		return nil, err
	}

	if !modified {
		if err := s.placeFile(content, dest); err != nil {
			return nil, err
		}
		return nil, s.setBase(ctx, t.path, content)
	}

	if IsVersionedFile(t.path) && t.origin != nil && s.hasBase(t.path, t.origin.Checksum) {
		rebased, err := s.rebase(ctx, t.path, dest, content, work)
		if err == nil {
			if err := s.placeFile(rebased, dest); err != nil {
				return nil, err
			}
			s.logger.Info("local changes rebased", "path", t.path)
			return nil, s.setBase(ctx, t.path, content)
		}
		s.logger.Warn("rebase failed", "path", t.path, "error", err)
	}

	copyRel, err := s.conflictCopy(t.path, sess.LocalVersion)
	if err != nil {
		return nil, err
	}
	if err := s.placeFile(content, dest); err != nil {
		return nil, err
	}
	return []string{copyRel}, s.setBase(ctx, t.path, content)
}

// fetch produces the remote content of t in a scratch file. Versioned files
// with a matching base are patched through the changeset chain; any other
// file, or a chain that is missing or unusable, is downloaded whole.
func (s *Service) fetch(ctx context.Context, sess *SyncSession, t pullTask, work string, fp *fileProgress) (string, error) {
	if IsVersionedFile(t.path) && t.origin != nil && len(t.remote.Diffs) > 0 && s.hasBase(t.path, t.origin.Checksum) {
		p, err := s.fetchDiffs(ctx, sess, t, work, fp)
		if err == nil {
			return p, nil
		}
		if errors.Is(err, ErrIntegrity) || ctx.Err() != nil {
			return "", err
		}
		s.logger.Warn("changeset chain unusable, downloading full file", "path", t.path, "error", err)
	}
	return s.fetchFull(ctx, sess, t, work, fp)
}

func (s *Service) fetchDiffs(ctx context.Context, sess *SyncSession, t pullTask, work string, fp *fileProgress) (string, error) {
	id := s.idgen.New()
	target := filepath.Join(work, id+".patched")
	if err := fs.CopyFile(ctx, s.basePath(t.path), target); err != nil {
		return "", err
	}

	refs := make(map[int]model.DiffRef)
	for _, d := range t.remote.Diffs {
		if d.Version > sess.LocalVersion {
			refs[d.Version] = d
		}
	}

	last := sess.LocalVersion
	applied := 0
	err := s.remote.DownloadDiffs(ctx, sess.ProjectID, t.path, sess.LocalVersion, func(version int, r io.Reader) error {
		if version <= last {
			return fmt.Errorf("changeset v%d out of order", version)
		}
		last = version
		ref, ok := refs[version]
		if !ok {
			return fmt.Errorf("unexpected changeset v%d", version)
		}

		diffPath := filepath.Join(work, fmt.Sprintf("%s-v%d.diff", id, version))
		h := fs.NewHashingReader(io.TeeReader(r, fp))
		if _, err := fs.ReplaceFile(diffPath, h); err != nil {
			return err
		}
		if h.Sum() != ref.Checksum || h.Size() != ref.Size {
			return fmt.Errorf("%w: changeset v%d of %s", ErrIntegrity, version, t.path)
		}
		if err := s.codec.ApplyChangeset(ctx, target, diffPath); err != nil {
			return fmt.Errorf("applying changeset v%d: %w", version, err)
		}
		applied++
		return nil
	})
	if err != nil {
		return "", err
	}
	if applied != len(refs) {
		return "", fmt.Errorf("%w: got %d of %d changesets", ErrNoDiffChain, applied, len(refs))
	}

	sum, _, err := fs.Checksum(s.fsys, target)
	if err != nil {
		return "", err
	}
	if sum != t.remote.Checksum {
		return "", errPatchMismatch
	}
	return target, nil
}

// fetchFull downloads the whole file through the staging area, which
// verifies it against the remote checksum.
func (s *Service) fetchFull(ctx context.Context, sess *SyncSession, t pullTask, work string, fp *fileProgress) (string, error) {
	pr, pw := io.Pipe()
	dlErr := make(chan error, 1)
	go func() {
		err := s.remote.Download(ctx, sess.ProjectID, t.path, io.MultiWriter(pw, fp))
		pw.CloseWithError(err)
		dlErr <- err
	}()

	putErr := s.staging.Put(pr, t.remote.Checksum, t.remote.Size)
	pr.CloseWithError(errors.New("staging stopped reading"))
	err := <-dlErr
	if putErr != nil {
		return "", putErr
	}
	if err != nil {
		return "", err
	}
	defer s.staging.Remove(t.remote.Checksum)

	rc, err := s.staging.Open(t.remote.Checksum)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	target := filepath.Join(work, s.idgen.New()+".full")
	if _, err := fs.ReplaceFile(target, rc); err != nil {
		return "", err
	}
	return target, nil
}

// rebase replays the local edits of a versioned file on top of the new
// remote content.
func (s *Service) rebase(ctx context.Context, rel, local, remote, work string) (string, error) {
	id := s.idgen.New()
	localDiff := filepath.Join(work, id+"-local.diff")
	if err := s.codec.ComputeChangeset(ctx, s.basePath(rel), local, localDiff); err != nil {
		return "", fmt.Errorf("computing local changeset: %w", err)
	}
	rebased := filepath.Join(work, id+".rebased")
	if err := fs.CopyFile(ctx, remote, rebased); err != nil {
		return "", err
	}
	if err := s.codec.ApplyChangeset(ctx, rebased, localDiff); err != nil {
		return "", fmt.Errorf("applying local changeset: %w", err)
	}
	return rebased, nil
}
