package geosync

import (
	"context"
	"fmt"

	"geosync/internal/changes"
	"geosync/internal/fs"
)

// Status computes the pull and push change sets of the working copy.
// When a previous pull never completed the returned session is in the
// UnfinishedPull state and carries no change sets.
func (s *Service) Status(ctx context.Context) (*SyncSession, error) {
	sess := NewSyncSession(s.root)
	if err := s.checkStatus(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) checkStatus(ctx context.Context, sess *SyncSession) error {
	meta, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading metadata: %w", err)
	}
	if err := sess.Transition(StatusChecked); err != nil {
		return err
	}

	sess.meta = meta
	sess.ProjectID = meta.ProjectID
	sess.LocalVersion = meta.CurrentVersion
	sess.UnfinishedPull = meta.UnfinishedPull
	if meta.UnfinishedPull {
		s.logger.Warn("previous pull did not complete", "pending_version", meta.PendingVersion)
		return sess.Transition(UnfinishedPull)
	}

	info, err := s.remote.ProjectInfo(ctx, meta.ProjectID)
	if err != nil {
		return fmt.Errorf("fetching project info: %w", err)
	}
	local, err := fs.BuildInventory(s.fsys, s.root, s.ignore)
	if err != nil {
		return err
	}

	sess.remote = info
	sess.local = local
	sess.RemoteVersion = info.Version
	sess.PullChanges = changes.Detect(meta.Files, info.Entries())
	sess.PushChanges = changes.Detect(meta.Files, local)

	s.logger.Debug("status checked",
		"local_version", sess.LocalVersion,
		"remote_version", sess.RemoteVersion,
		"pull", sess.PullChanges.Len(),
		"push", sess.PushChanges.Len())
	return nil
}
