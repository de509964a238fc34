package geosync_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geosync/internal/geosync"
	"geosync/internal/testutil"
)

func TestRun_RecoversUnfinishedPull(t *testing.T) {
	store := testutil.NewTestStore()
	a := newClient(t, testutil.NewTestRemote(store), true)
	flaky := &flakyRemote{Remote: testutil.NewTestRemote(store), path: "b.txt"}
	b := newClient(t, flaky, false)

	a.write(t, "a.txt", "alpha")
	a.write(t, "b.txt", "bravo")
	a.mustSync(t)

	flaky.failing.Store(true)
	res := b.sync(t)
	require.Equal(t, geosync.Failed, res.Outcome)
	assert.ErrorIs(t, res.Err, errFlaky)

	sess, err := b.svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, geosync.UnfinishedPull, sess.State)
	assert.True(t, sess.UnfinishedPull)

	// A local file that matches neither side is set aside on recovery.
	b.write(t, "b.txt", "local edit")
	flaky.failing.Store(false)

	res = b.mustSync(t)
	assert.Equal(t, geosync.SucceededWithConflicts, res.Outcome)
	require.Equal(t, []string{"b (conflicted copy, v0).txt"}, res.Conflicts)
	assert.Equal(t, "alpha", b.read(t, "a.txt"))
	assert.Equal(t, "bravo", b.read(t, "b.txt"))
	assert.Equal(t, "local edit", b.read(t, "b (conflicted copy, v0).txt"))
	assert.Equal(t, 2, res.Version)

	sess, err = b.svc.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, sess.UnfinishedPull)
	assert.False(t, sess.HasChanges())
}

func TestResolveUnfinishedPull_RequiresState(t *testing.T) {
	a, _, _ := newPair(t)
	sess, err := a.svc.Status(context.Background())
	require.NoError(t, err)

	err = a.svc.ResolveUnfinishedPull(context.Background(), sess)
	assert.ErrorIs(t, err, geosync.ErrInvalidTransition)
}
