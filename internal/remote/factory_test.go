package remote_test

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geosync/internal/config"
	"geosync/internal/geosync"
	"geosync/internal/model"
	"geosync/internal/remote"
	"geosync/internal/testutil"
)

func TestNewRemoteFromConfig_FileRemote(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	u := url.URL{Scheme: "file", Path: root}

	r, err := remote.NewRemoteFromConfig(config.RemoteConfig{URL: u.String()}, 0, testutil.FixedClock(), geosync.NewNopLogger())
	require.NoError(t, err)

	_, err = r.CreateProject(ctx, "shared")
	require.NoError(t, err)

	content := "on the share"
	f := geosync.PushFile{
		Path:     "notes.txt",
		Checksum: testutil.SHA1Hex([]byte(content)),
		Size:     int64(len(content)),
		Open:     func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(content)), nil },
	}
	info, err := r.Push(ctx, "shared", &geosync.PushRequest{
		Manifest: &model.Manifest{Changes: model.ChangeSet{Added: []model.FileEntry{{Path: f.Path, Checksum: f.Checksum, Size: f.Size}}}},
		Files:    []geosync.PushFile{f},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, info.Version)

	// A second remote over the same directory sees the project.
	r2, err := remote.NewRemoteFromConfig(config.RemoteConfig{URL: u.String()}, 0, testutil.FixedClock(), geosync.NewNopLogger())
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, r2.Download(ctx, "shared", "notes.txt", &buf))
	assert.Equal(t, content, buf.String())
}

func TestNewRemoteFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.RemoteConfig
		wantErr bool
	}{
		{"empty url", config.RemoteConfig{}, true},
		{"unsupported scheme", config.RemoteConfig{URL: "ftp://host"}, true},
		{"http", config.RemoteConfig{URL: "http://localhost:8080", Token: "t", Timeout: time.Minute}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := remote.NewRemoteFromConfig(tt.cfg, 0, testutil.FixedClock(), geosync.NewNopLogger())
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, r)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, r)
		})
	}
}
