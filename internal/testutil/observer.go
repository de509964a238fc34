package testutil

import (
	"slices"
	"sync"

	"geosync/internal/geosync"
)

// RecordingObserver records the events of a sync run. It is safe for
// concurrent use.
type RecordingObserver struct {
	mu        sync.Mutex
	started   []string
	conflicts []string
	results   []geosync.Result
	lastDone  int64
	lastTotal int64
}

func (o *RecordingObserver) OnProgress(done, total int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if done > o.lastDone {
		o.lastDone = done
	}
	o.lastTotal = total
}

func (o *RecordingObserver) OnFileStart(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, path)
}

func (o *RecordingObserver) OnConflict(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conflicts = append(o.conflicts, path)
}

func (o *RecordingObserver) OnComplete(r geosync.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, r)
}

// Started returns the paths reported as started, sorted.
func (o *RecordingObserver) Started() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := slices.Clone(o.started)
	slices.Sort(out)
	return out
}

// Conflicts returns the conflicted copies reported, sorted.
func (o *RecordingObserver) Conflicts() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := slices.Clone(o.conflicts)
	slices.Sort(out)
	return out
}

// Results returns the completed results in order.
func (o *RecordingObserver) Results() []geosync.Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.results)
}

// Progress returns the highest bytes done and the last reported total.
func (o *RecordingObserver) Progress() (done, total int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastDone, o.lastTotal
}
