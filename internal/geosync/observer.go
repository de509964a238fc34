package geosync

import (
	"sync/atomic"
)

// Observer receives progress of a sync run. Methods may be called from
// several worker goroutines at once.
type Observer interface {
	OnProgress(bytesDone, bytesTotal int64)
	OnFileStart(path string)
	OnConflict(path string)
	OnComplete(result Result)
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) OnProgress(int64, int64) {}
func (NopObserver) OnFileStart(string)      {}
func (NopObserver) OnConflict(string)       {}
func (NopObserver) OnComplete(Result)       {}

// Outcome is the terminal classification of a sync run.
type Outcome int

const (
	Succeeded Outcome = iota
	SucceededWithConflicts
	Failed
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case SucceededWithConflicts:
		return "succeeded with conflicts"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Result is the outcome of a sync run.
type Result struct {
	Outcome   Outcome
	Err       error
	Conflicts []string
	Pulled    int
	Pushed    int
	Version   int
	// NoChanges is set when neither side had anything to sync.
	NoChanges bool
}

// progress counts transferred bytes for an observer.
type progress struct {
	observer Observer
	total    atomic.Int64
	done     atomic.Int64
}

func newProgress(o Observer) *progress {
	return &progress{observer: o}
}

func (p *progress) addTotal(n int64) {
	p.total.Add(n)
}

func (p *progress) add(n int64) {
	done := p.done.Add(n)
	p.observer.OnProgress(done, p.total.Load())
}

// file tracks the bytes transferred for one file of the given size.
func (p *progress) file(size int64) *fileProgress {
	return &fileProgress{p: p, size: size}
}

// fileProgress is an io.Writer counting bytes towards the overall progress.
// It never counts more than size, even when a file is transferred twice.
// complete accounts for whatever part of the file was not transferred, such
// as a file patched from a small changeset.
type fileProgress struct {
	p    *progress
	size int64
	done atomic.Int64
}

func (f *fileProgress) Write(b []byte) (int, error) {
	n := int64(len(b))
	before := f.done.Add(n) - n
	if counted := min(n, f.size-before); counted > 0 {
		f.p.add(counted)
	}
	return len(b), nil
}

func (f *fileProgress) complete() {
	if rest := f.size - f.done.Swap(f.size); rest > 0 {
		f.p.add(rest)
	}
}
