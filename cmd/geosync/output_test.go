package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"geosync/internal/geodiff"
	"geosync/internal/geosync"
	"geosync/internal/model"
)

func TestPrintStatus(t *testing.T) {
	sess := geosync.NewSyncSession("/wc")
	sess.State = geosync.StatusChecked
	sess.ProjectID = "survey"
	sess.LocalVersion = 2
	sess.RemoteVersion = 3
	sess.PullChanges = model.ChangeSet{
		Added: []model.FileEntry{{Path: "photos/p1.jpg"}},
	}
	sess.PushChanges = model.ChangeSet{
		Updated: []model.FileEntry{{Path: "survey.gpkg"}},
		Renamed: []model.RenamedEntry{{FileEntry: model.FileEntry{Path: "a.txt"}, NewPath: "b.txt"}},
	}
	summaries := map[string][]geodiff.TableSummary{
		"survey.gpkg": {{Table: "trees", Inserts: 2, Deletes: 1}},
	}

	var buf bytes.Buffer
	printStatus(&buf, sess, summaries)

	want := "Project survey at v2\n" +
		"Remote is at v3\n" +
		"\nServer changes:\n" +
		"  added    photos/p1.jpg\n" +
		"\nLocal changes:\n" +
		"  updated  survey.gpkg\n" +
		"           trees: 2 inserted, 0 updated, 1 deleted\n" +
		"  renamed  a.txt -> b.txt\n"
	assert.Equal(t, want, buf.String())
}

func TestPrintStatus_UnfinishedPull(t *testing.T) {
	sess := geosync.NewSyncSession("/wc")
	sess.State = geosync.UnfinishedPull
	sess.ProjectID = "survey"

	var buf bytes.Buffer
	printStatus(&buf, sess, nil)

	assert.Contains(t, buf.String(), "did not complete")
	assert.NotContains(t, buf.String(), "changes:")
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatBytes(tt.n), "formatBytes(%d)", tt.n)
	}
}

func TestTerminalObserver_Conflict(t *testing.T) {
	var buf bytes.Buffer
	o := &terminalObserver{w: &buf, interactive: true, lastPct: -1}

	o.OnProgress(50, 100)
	o.OnProgress(50, 100)
	o.OnConflict("a (conflicted copy, v1).txt")
	o.OnComplete(geosync.Result{})

	assert.Equal(t, "\r 50%  50 B / 100 B\nconflicted copy: a (conflicted copy, v1).txt\n", buf.String())
}
