package geosync

import (
	"context"
	"fmt"
	"slices"

	"github.com/samber/lo"

	"geosync/internal/fs"
	"geosync/internal/model"
)

// ResolveUnfinishedPull reconciles a working copy whose previous pull never
// completed, then checks status again. Every file the pull was changing is
// inspected: a local file that matches neither its last synced state nor the
// pull target is moved to a conflicted copy and the synced state is
// restored, from the base copy when one exists or otherwise by removing the
// file so the next pull fetches it again.
func (s *Service) ResolveUnfinishedPull(ctx context.Context, sess *SyncSession) error {
	if sess.State != UnfinishedPull {
		return fmt.Errorf("%w: resolving unfinished pull from %s", ErrInvalidTransition, sess.State)
	}
	meta := sess.meta
	origin := lo.KeyBy(meta.Files, func(e model.FileEntry) string { return e.Path })
	pending := lo.KeyBy(meta.PendingFiles, func(e model.FileEntry) string { return e.Path })

	paths := lo.Uniq(append(lo.Keys(origin), lo.Keys(pending)...))
	slices.Sort(paths)

	var conflicts []string
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		o, inOrigin := origin[p]
		n, inPending := pending[p]
		if inOrigin && inPending && o.Checksum == n.Checksum {
			continue
		}

		abs, err := s.abs(p)
		if err != nil {
			return err
		}
		sum, exists, err := s.localChecksum(abs)
		if err != nil {
			return err
		}
		if !exists || (inOrigin && sum == o.Checksum) || (inPending && sum == n.Checksum) {
			continue
		}

		copyRel, err := s.conflictCopy(p, meta.CurrentVersion)
		if err != nil {
			return err
		}
		conflicts = append(conflicts, copyRel)
		s.observer.OnConflict(copyRel)

		if inOrigin && s.hasBase(p, o.Checksum) {
			if err := fs.CopyFile(ctx, s.basePath(p), abs); err != nil {
				return fmt.Errorf("restoring %s: %w", p, err)
			}
		}
	}

	meta.UnfinishedPull = false
	meta.PendingVersion = 0
	meta.PendingFiles = nil
	if err := s.store.Save(ctx, meta); err != nil {
		return fmt.Errorf("saving metadata: %w", err)
	}
	sess.UnfinishedPull = false
	sess.Conflicts = append(sess.Conflicts, conflicts...)
	s.logger.Info("unfinished pull resolved", "conflicts", len(conflicts))

	return s.checkStatus(ctx, sess)
}
