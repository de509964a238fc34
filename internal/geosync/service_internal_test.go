package geosync

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geosync/internal/fs"
)

func newMemService(t *testing.T) (*Service, afero.Fs) {
	t.Helper()
	mem := afero.NewMemMapFs()
	s := NewService("/survey", nil, nil, nil, nil, NewNopLogger())
	s.fsys = mem
	return s, mem
}

func TestService_LocalChecksumReadsFs(t *testing.T) {
	s, mem := newMemService(t)
	require.NoError(t, afero.WriteFile(mem, "/survey/plots.csv", []byte("id,area\n1,20\n"), 0644))

	sum, ok, err := s.localChecksum("/survey/plots.csv")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, fs.ChecksumBytes([]byte("id,area\n1,20\n")), sum)

	_, ok, err = s.localChecksum("/survey/missing.csv")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_WorkDirOnFs(t *testing.T) {
	s, mem := newMemService(t)

	dir, cleanup, err := s.newWorkDir()
	require.NoError(t, err)
	ok, err := afero.DirExists(mem, dir)
	require.NoError(t, err)
	assert.True(t, ok)

	cleanup()
	ok, err = afero.DirExists(mem, dir)
	require.NoError(t, err)
	assert.False(t, ok)
}
