package geosync

import (
	"fmt"
	"slices"

	"geosync/internal/model"
)

// State is a phase of a sync session.
type State int

const (
	Idle State = iota
	StatusChecked
	UnfinishedPull
	Pulling
	PullConflictResolution
	Pushing
	Complete
)

var stateNames = map[State]string{
	Idle:                   "idle",
	StatusChecked:          "status-checked",
	UnfinishedPull:         "unfinished-pull",
	Pulling:                "pulling",
	PullConflictResolution: "pull-conflict-resolution",
	Pushing:                "pushing",
	Complete:               "complete",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// transitions lists the states reachable from each state. Every state but
// Complete may finish the session.
var transitions = map[State][]State{
	Idle:                   {StatusChecked, UnfinishedPull, Complete},
	StatusChecked:          {UnfinishedPull, Pulling, Pushing, Complete},
	UnfinishedPull:         {StatusChecked, Complete},
	Pulling:                {PullConflictResolution, Pushing, UnfinishedPull, Complete},
	PullConflictResolution: {Pushing, Complete},
	Pushing:                {Complete},
	Complete:               nil,
}

// CanTransition reports whether a session may move from one state to another.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// SyncSession is the state of one sync run over a working copy.
type SyncSession struct {
	ProjectDir     string
	ProjectID      string
	LocalVersion   int
	RemoteVersion  int
	PullChanges    model.ChangeSet
	PushChanges    model.ChangeSet
	Conflicts      []string
	UnfinishedPull bool
	State          State

	meta   *model.Metadata
	remote *model.ProjectInfo
	local  []model.FileEntry
	pulled int
	pushed int
}

// NewSyncSession returns an idle session for a working copy.
func NewSyncSession(projectDir string) *SyncSession {
	return &SyncSession{ProjectDir: projectDir, State: Idle}
}

// Transition moves the session to state to.
func (s *SyncSession) Transition(to State) error {
	if !CanTransition(s.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, to)
	}
	s.State = to
	return nil
}

// CanWrite reports whether the remote grants write access.
func (s *SyncSession) CanWrite() bool {
	return s.remote != nil && s.remote.Permissions.Write
}

// Remote returns the remote project state fetched by the last status check.
func (s *SyncSession) Remote() *model.ProjectInfo {
	return s.remote
}

// HasChanges reports whether either side has changes to sync.
func (s *SyncSession) HasChanges() bool {
	return !s.PullChanges.IsEmpty() || !s.PushChanges.IsEmpty()
}
