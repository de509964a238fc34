package geosync_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geosync/internal/geodiff"
	"geosync/internal/geosync"
	"geosync/internal/testutil"
)

func TestReport(t *testing.T) {
	a, _, _ := newPair(t)
	a.write(t, "trees.gpkg", string(testutil.KVFile(map[string]string{"t1": "oak", "t2": "elm"})))
	a.mustSync(t)

	a.write(t, "trees.gpkg", string(testutil.KVFile(map[string]string{"t1": "ash", "t3": "fir"})))
	summaries, err := a.svc.Report(context.Background(), "trees.gpkg")
	require.NoError(t, err)
	assert.Equal(t, []geodiff.TableSummary{{Table: testutil.KVTable, Inserts: 1, Updates: 1, Deletes: 1}}, summaries)

	sess, err := a.svc.Status(context.Background())
	require.NoError(t, err)
	per := a.svc.VersionedSummaries(context.Background(), sess)
	assert.Equal(t, summaries, per["trees.gpkg"])
}

func TestReport_Errors(t *testing.T) {
	a, _, _ := newPair(t)
	a.write(t, "notes.txt", "text")
	_, err := a.svc.Report(context.Background(), "notes.txt")
	assert.ErrorIs(t, err, geosync.ErrNotVersioned)

	a.write(t, "new.gpkg", string(testutil.KVFile(map[string]string{"k": "v"})))
	_, err = a.svc.Report(context.Background(), "new.gpkg")
	assert.Error(t, err, "a file never synced has no base to compare with")
}

func TestDiff(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	svc := geosync.NewService(root, testutil.NewTestRemote(testutil.NewTestStore()), testutil.NewTestMetadataStore(t),
		testutil.NewTestStagingArea(), &testutil.SQLiteKVCodec{}, geosync.NewNopLogger())
	require.NoError(t, svc.Init(ctx, projectID, true))

	db := filepath.Join(root, "trees.gpkg")
	testutil.WriteKVDatabase(t, db, map[string]string{"t1": "oak", "t2": "elm"})
	res := svc.Sync(ctx)
	require.NoError(t, res.Err)

	testutil.WriteKVDatabase(t, db, map[string]string{"t1": "ash", "t3": "fir"})
	diffs, err := svc.Diff(ctx, "trees.gpkg")
	require.NoError(t, err)
	require.Len(t, diffs, 1)

	d := diffs[0]
	assert.Equal(t, testutil.KVTable, d.Table)
	assert.Equal(t, geodiff.TableSummary{Table: testutil.KVTable, Inserts: 1, Updates: 1, Deletes: 1}, d.Summary)
	require.Len(t, d.Records, 3)
	assert.Equal(t, geodiff.Record{"key": "t1", "value": "ash", "_old_key": "t1", "_old_value": "oak", "_op": "update"}, d.Records[0])
	assert.Equal(t, geodiff.Record{"key": "t2", "value": "elm", "_old_key": nil, "_old_value": nil, "_op": "delete"}, d.Records[1])
	assert.Equal(t, geodiff.Record{"key": "t3", "value": "fir", "_old_key": nil, "_old_value": nil, "_op": "insert"}, d.Records[2])
}

func TestDiff_Errors(t *testing.T) {
	a, _, _ := newPair(t)
	a.write(t, "notes.txt", "text")
	_, err := a.svc.Diff(context.Background(), "notes.txt")
	assert.ErrorIs(t, err, geosync.ErrNotVersioned)

	a.write(t, "new.gpkg", string(testutil.KVFile(map[string]string{"k": "v"})))
	_, err = a.svc.Diff(context.Background(), "new.gpkg")
	assert.Error(t, err)
}
