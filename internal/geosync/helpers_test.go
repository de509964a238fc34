package geosync_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"geosync/internal/geosync"
	"geosync/internal/lock"
	"geosync/internal/model"
	"geosync/internal/server"
	"geosync/internal/testutil"
)

const projectID = "survey"

// client is one working copy syncing with a shared remote.
type client struct {
	root  string
	svc   *geosync.Service
	codec *testutil.FakeCodec
	obs   *testutil.RecordingObserver
}

func newClient(t *testing.T, remote geosync.Remote, create bool) *client {
	t.Helper()
	c := &client{
		root:  t.TempDir(),
		codec: &testutil.FakeCodec{},
		obs:   &testutil.RecordingObserver{},
	}
	c.svc = geosync.NewService(c.root, remote, testutil.NewTestMetadataStore(t), testutil.NewTestStagingArea(), c.codec,
		geosync.NewNopLogger(),
		geosync.WithObserver(c.obs),
		geosync.WithLocker(lock.NewMemoryLocker()),
		geosync.WithWorkers(2),
		geosync.WithClock(testutil.FixedClock()),
		geosync.WithIDGenerator(testutil.NewStubIDGenerator()),
	)
	require.NoError(t, c.svc.Init(context.Background(), projectID, create))
	return c
}

// newPair returns two working copies of one new project.
func newPair(t *testing.T) (*client, *client, *server.Store) {
	t.Helper()
	store := testutil.NewTestStore()
	remote := testutil.NewTestRemote(store)
	a := newClient(t, remote, true)
	b := newClient(t, remote, false)
	return a, b, store
}

func (c *client) write(t *testing.T, rel, content string) {
	t.Helper()
	p := filepath.Join(c.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}

func (c *client) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(c.root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func (c *client) exists(rel string) bool {
	_, err := os.Stat(filepath.Join(c.root, filepath.FromSlash(rel)))
	return err == nil
}

func (c *client) remove(t *testing.T, rel string) {
	t.Helper()
	require.NoError(t, os.Remove(filepath.Join(c.root, filepath.FromSlash(rel))))
}

func (c *client) rename(t *testing.T, from, to string) {
	t.Helper()
	dst := filepath.Join(c.root, filepath.FromSlash(to))
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0755))
	require.NoError(t, os.Rename(filepath.Join(c.root, filepath.FromSlash(from)), dst))
}

func (c *client) sync(t *testing.T) geosync.Result {
	t.Helper()
	return c.svc.Sync(context.Background())
}

func (c *client) mustSync(t *testing.T) geosync.Result {
	t.Helper()
	res := c.sync(t)
	require.NoError(t, res.Err)
	require.Contains(t, []geosync.Outcome{geosync.Succeeded, geosync.SucceededWithConflicts}, res.Outcome)
	return res
}

// readOnlyRemote denies write access.
type readOnlyRemote struct {
	geosync.Remote
}

func (r readOnlyRemote) ProjectInfo(ctx context.Context, id string) (*model.ProjectInfo, error) {
	info, err := r.Remote.ProjectInfo(ctx, id)
	if err != nil {
		return nil, err
	}
	info.Permissions = model.Permissions{Read: true}
	return info, nil
}

// flakyRemote fails downloads of one path while failing is set.
type flakyRemote struct {
	geosync.Remote
	path    string
	failing atomic.Bool
}

var errFlaky = errors.New("connection reset")

func (r *flakyRemote) Download(ctx context.Context, id, path string, w io.Writer) error {
	if r.failing.Load() && path == r.path {
		return errFlaky
	}
	return r.Remote.Download(ctx, id, path, w)
}

// corruptRemote flips every byte of the downloads of one path while active is
// set. Sizes are preserved so only the checksum differs.
type corruptRemote struct {
	geosync.Remote
	path   string
	active atomic.Bool
}

func (r *corruptRemote) Download(ctx context.Context, id, path string, w io.Writer) error {
	if !r.active.Load() || path != r.path {
		return r.Remote.Download(ctx, id, path, w)
	}
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(r.Remote.Download(ctx, id, path, pw))
	}()
	_, err := io.Copy(w, flippedReader{pr})
	pr.Close()
	return err
}

func (r *corruptRemote) DownloadDiffs(ctx context.Context, id, path string, since int, fn func(int, io.Reader) error) error {
	if !r.active.Load() || path != r.path {
		return r.Remote.DownloadDiffs(ctx, id, path, since, fn)
	}
	return r.Remote.DownloadDiffs(ctx, id, path, since, func(version int, rd io.Reader) error {
		return fn(version, flippedReader{rd})
	})
}

type flippedReader struct {
	r io.Reader
}

func (f flippedReader) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	for i := range p[:n] {
		p[i] ^= 0xff
	}
	return n, err
}
