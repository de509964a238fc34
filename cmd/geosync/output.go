package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"golang.org/x/term"

	"geosync/internal/geodiff"
	"geosync/internal/geosync"
	"geosync/internal/model"
)

// terminalObserver draws a percentage line while files transfer and reports
// conflicted copies as they are created. Progress is only drawn on a terminal.
type terminalObserver struct {
	w           io.Writer
	interactive bool

	mu      sync.Mutex
	lastPct int
	drawn   bool
}

func newTerminalObserver(f *os.File) *terminalObserver {
	return &terminalObserver{
		w:           f,
		interactive: term.IsTerminal(int(f.Fd())),
		lastPct:     -1,
	}
}

func (o *terminalObserver) OnProgress(done, total int64) {
	if !o.interactive || total <= 0 {
		return
	}
	pct := int(done * 100 / total)
	o.mu.Lock()
	defer o.mu.Unlock()
	if pct == o.lastPct {
		return
	}
	o.lastPct = pct
	o.drawn = true
	fmt.Fprintf(o.w, "\r%3d%%  %s / %s", pct, formatBytes(done), formatBytes(total))
}

func (o *terminalObserver) OnFileStart(string) {}

func (o *terminalObserver) OnConflict(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.endLine()
	fmt.Fprintf(o.w, "conflicted copy: %s\n", path)
}

func (o *terminalObserver) OnComplete(geosync.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.endLine()
}

func (o *terminalObserver) endLine() {
	if o.drawn {
		fmt.Fprintln(o.w)
		o.drawn = false
		o.lastPct = -1
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// printResult reports a finished run and turns failures into the command error.
func printResult(res geosync.Result) error {
	switch res.Outcome {
	case geosync.Failed:
		return res.Err
	case geosync.Cancelled:
		return errors.New("cancelled")
	}
	if res.NoChanges {
		fmt.Printf("Already up to date (v%d)\n", res.Version)
		return nil
	}
	fmt.Printf("Pulled %d, pushed %d file(s); now at v%d\n", res.Pulled, res.Pushed, res.Version)
	if len(res.Conflicts) > 0 {
		fmt.Printf("%d conflicted cop(ies) created:\n", len(res.Conflicts))
		for _, c := range res.Conflicts {
			fmt.Printf("  %s\n", c)
		}
	}
	return nil
}

// printStatus lists the server and local change sets bucket by bucket, with
// row counts for locally updated versioned files.
func printStatus(w io.Writer, sess *geosync.SyncSession, summaries map[string][]geodiff.TableSummary) {
	fmt.Fprintf(w, "Project %s at v%d\n", sess.ProjectID, sess.LocalVersion)
	if sess.State == geosync.UnfinishedPull {
		fmt.Fprintln(w, "The previous pull did not complete; run geosync pull to recover.")
		return
	}
	if sess.RemoteVersion != sess.LocalVersion {
		fmt.Fprintf(w, "Remote is at v%d\n", sess.RemoteVersion)
	}
	if r := sess.Remote(); r != nil && !r.Permissions.Write {
		fmt.Fprintln(w, "Read-only access: local changes cannot be pushed.")
	}
	if !sess.HasChanges() {
		fmt.Fprintln(w, "\nNo changes.")
		return
	}

	fmt.Fprintln(w, "\nServer changes:")
	printChangeSet(w, sess.PullChanges, nil)
	fmt.Fprintln(w, "\nLocal changes:")
	printChangeSet(w, sess.PushChanges, summaries)
}

func printChangeSet(w io.Writer, cs model.ChangeSet, summaries map[string][]geodiff.TableSummary) {
	if cs.IsEmpty() {
		fmt.Fprintln(w, "  (none)")
		return
	}
	for _, e := range cs.Added {
		fmt.Fprintf(w, "  added    %s\n", e.Path)
	}
	for _, e := range cs.Updated {
		fmt.Fprintf(w, "  updated  %s\n", e.Path)
		tables := summaries[e.Path]
		sort.SliceStable(tables, func(i, j int) bool { return tables[i].Table < tables[j].Table })
		for _, t := range tables {
			fmt.Fprintf(w, "           %s: %d inserted, %d updated, %d deleted\n", t.Table, t.Inserts, t.Updates, t.Deletes)
		}
	}
	for _, e := range cs.Renamed {
		fmt.Fprintf(w, "  renamed  %s -> %s\n", e.Path, e.NewPath)
	}
	for _, e := range cs.Removed {
		fmt.Fprintf(w, "  removed  %s\n", e.Path)
	}
}
