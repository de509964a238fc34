package geosync

import (
	"context"
	"errors"
	"fmt"
)

// Mode selects the phases of a run.
type Mode int

const (
	// ModeSync pulls then pushes.
	ModeSync Mode = iota
	// ModePull only pulls.
	ModePull
	// ModePush only pushes; the working copy must be at the remote version.
	ModePush
)

func (m Mode) String() string {
	switch m {
	case ModePull:
		return "pull"
	case ModePush:
		return "push"
	}
	return "sync"
}

// Sync runs a full pull-then-push session.
func (s *Service) Sync(ctx context.Context) Result {
	return s.Run(ctx, ModeSync)
}

// Run executes one session over the working copy: status check, recovery
// of an unfinished pull, pull, then push, as selected by mode. The working
// copy is locked for the duration. A cancelled ctx yields a Cancelled result.
func (s *Service) Run(ctx context.Context, mode Mode) Result {
	start := s.clock.Now()
	sess := NewSyncSession(s.root)
	res := s.run(ctx, sess, mode)
	if sess.State != Complete {
		sess.Transition(Complete)
	}
	s.logger.Info("session finished", "mode", mode.String(), "outcome", res.Outcome.String(), "version", res.Version,
		"duration", s.clock.Now().Sub(start))
	s.observer.OnComplete(res)
	return res
}

func (s *Service) run(ctx context.Context, sess *SyncSession, mode Mode) Result {
	release, err := s.locker.Lock(ctx, s.root)
	if err != nil {
		return s.result(ctx, sess, err)
	}
	defer func() {
		if err := release(); err != nil {
			s.logger.Warn("releasing lock", "error", err)
		}
	}()

	if err := s.checkStatus(ctx, sess); err != nil {
		return s.result(ctx, sess, err)
	}
	if sess.State == UnfinishedPull {
		if err := s.ResolveUnfinishedPull(ctx, sess); err != nil {
			return s.result(ctx, sess, err)
		}
	}
	if !sess.HasChanges() {
		res := s.result(ctx, sess, nil)
		res.NoChanges = true
		return res
	}

	if !sess.PullChanges.IsEmpty() {
		if mode == ModePush {
			return s.result(ctx, sess, fmt.Errorf("%w: working copy is at v%d, remote is at v%d; pull first",
				ErrVersionConflict, sess.LocalVersion, sess.RemoteVersion))
		}
		if err := s.Pull(ctx, sess); err != nil {
			return s.result(ctx, sess, err)
		}
	}
	if mode == ModePull {
		return s.result(ctx, sess, nil)
	}
	if err := ctx.Err(); err != nil {
		return s.result(ctx, sess, err)
	}

	if err := s.Push(ctx, sess); err != nil {
		return s.result(ctx, sess, err)
	}
	return s.result(ctx, sess, nil)
}

func (s *Service) result(ctx context.Context, sess *SyncSession, err error) Result {
	res := Result{
		Conflicts: sess.Conflicts,
		Pulled:    sess.pulled,
		Pushed:    sess.pushed,
		Version:   sess.LocalVersion,
		Err:       err,
	}
	switch {
	case err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()):
		res.Outcome = Cancelled
		res.Err = nil
	case err != nil:
		res.Outcome = Failed
		s.logger.Error("session failed", "state", sess.State.String(), "error", err)
	case len(sess.Conflicts) > 0:
		res.Outcome = SucceededWithConflicts
	default:
		res.Outcome = Succeeded
	}
	return res
}

// Job is a session running on its own goroutine.
type Job struct {
	cancel context.CancelFunc
	done   chan struct{}
	result Result
}

// Start runs a session asynchronously. The observer is notified from the
// job's goroutines.
func (s *Service) Start(ctx context.Context, mode Mode) *Job {
	ctx, cancel := context.WithCancel(ctx)
	j := &Job{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(j.done)
		defer cancel()
		j.result = s.Run(ctx, mode)
	}()
	return j
}

// Cancel asks the job to stop after the files in flight.
func (j *Job) Cancel() { j.cancel() }

// Done is closed when the job has finished.
func (j *Job) Done() <-chan struct{} { return j.done }

// Result waits for the job and returns its result.
func (j *Job) Result() Result {
	<-j.done
	return j.result
}
