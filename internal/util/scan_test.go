package util

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesWithExtIsFlatAndFiltered(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/b/A.zip", []byte("a"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/b/B.ZIP", []byte("b"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/b/backup-list.txt", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/b/archive/C.zip", []byte("c"), 0o644))
	require.NoError(t, fsys.MkdirAll("/b/dir.zip", 0o755))

	got, err := FilesWithExt(fsys, "/b", ".zip")
	require.NoError(t, err)

	var names []string
	for _, e := range got {
		names = append(names, e.Name)
		assert.True(t, e.IsFile)
	}
	assert.ElementsMatch(t, []string{"A.zip", "B.ZIP"}, names)
}

func TestScanDirMissingIsEmpty(t *testing.T) {
	entries, err := ScanDir(afero.NewMemMapFs(), "/nope")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
