package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/todoist-backup/internal/todoist"
)

func backupNamed(t *testing.T, version, base string) todoist.Backup {
	t.Helper()
	b, err := todoist.NewBackup(version, "https://example.com/"+base)
	require.NoError(t, err)
	return b
}

func seed(t *testing.T, fsys afero.Fs, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, afero.WriteFile(fsys, filepath.Join(dir, n), []byte(n), 0o644))
	}
}

func exists(t *testing.T, fsys afero.Fs, path string) bool {
	t.Helper()
	ok, err := afero.Exists(fsys, path)
	require.NoError(t, err)
	return ok
}

func TestArchiveMovesSetDifference(t *testing.T) {
	fsys := afero.NewMemMapFs()
	a := backupNamed(t, "2023-01-01 00:00:00", "A.zip")
	b := backupNamed(t, "2023-01-02 00:00:00", "B.zip")
	c := backupNamed(t, "2023-01-03 00:00:00", "C.zip")
	seed(t, fsys, "/live", a.Filename(), b.Filename(), c.Filename(), "backup-list.txt")

	arch := &Archiver{FS: fsys, LiveDir: "/live", ArchiveDir: "/live/archive", Log: zerolog.Nop()}
	res, err := arch.Archive(context.Background(), todoist.Catalog{a, c})
	require.NoError(t, err)

	assert.Equal(t, []string{b.Filename()}, res.Moved)
	assert.Equal(t, 2, res.Kept)
	assert.True(t, exists(t, fsys, "/live/"+a.Filename()))
	assert.True(t, exists(t, fsys, "/live/"+c.Filename()))
	assert.False(t, exists(t, fsys, "/live/"+b.Filename()))
	assert.True(t, exists(t, fsys, "/live/archive/"+b.Filename()))
	assert.True(t, exists(t, fsys, "/live/backup-list.txt"))
}

func TestArchiveEmptyCatalogRetiresEverything(t *testing.T) {
	fsys := afero.NewMemMapFs()
	seed(t, fsys, "/live", "x.zip", "y.zip", "notes.txt")

	arch := &Archiver{FS: fsys, LiveDir: "/live", ArchiveDir: "/cold", Log: zerolog.Nop()}
	res, err := arch.Archive(context.Background(), nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"x.zip", "y.zip"}, res.Moved)
	assert.True(t, exists(t, fsys, "/live/notes.txt"))
}

func TestArchiveNothingToDoLeavesArchiveDirAbsent(t *testing.T) {
	fsys := afero.NewMemMapFs()
	a := backupNamed(t, "2023-01-01 00:00:00", "A.zip")
	seed(t, fsys, "/live", a.Filename())

	arch := &Archiver{FS: fsys, LiveDir: "/live", ArchiveDir: "/cold", Log: zerolog.Nop()}
	res, err := arch.Archive(context.Background(), todoist.Catalog{a})
	require.NoError(t, err)
	assert.Empty(t, res.Moved)
	assert.False(t, exists(t, fsys, "/cold"))
}

type failingRenameFs struct {
	afero.Fs
	fail string
}

func (f failingRenameFs) Rename(oldname, newname string) error {
	if filepath.Base(oldname) == f.fail {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: errors.New("device busy")}
	}
	return f.Fs.Rename(oldname, newname)
}

func TestArchiveIsolatesMoveFailures(t *testing.T) {
	mem := afero.NewMemMapFs()
	seed(t, mem, "/live", "a.zip", "b.zip", "c.zip")
	fsys := failingRenameFs{Fs: mem, fail: "b.zip"}

	arch := &Archiver{FS: fsys, LiveDir: "/live", ArchiveDir: "/cold", Log: zerolog.Nop()}
	res, err := arch.Archive(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.ElementsMatch(t, []string{"a.zip", "c.zip"}, res.Moved)
	assert.True(t, exists(t, mem, "/live/b.zip"))
}

func TestArchiveDoesNotOverwriteArchivedFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	seed(t, fsys, "/live", "a.zip")
	require.NoError(t, afero.WriteFile(fsys, "/cold/a.zip", []byte("older"), 0o644))

	arch := &Archiver{FS: fsys, LiveDir: "/live", ArchiveDir: "/cold", Log: zerolog.Nop()}
	res, err := arch.Archive(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	data, err := afero.ReadFile(fsys, "/cold/a.zip")
	require.NoError(t, err)
	assert.Equal(t, "older", string(data))
}

type failingStatFs struct {
	afero.Fs
	fail string
}

func (f failingStatFs) Stat(name string) (os.FileInfo, error) {
	if filepath.Dir(name) == "/cold" && filepath.Base(name) == f.fail {
		return nil, &os.PathError{Op: "stat", Path: name, Err: errors.New("permission denied")}
	}
	return f.Fs.Stat(name)
}

func TestArchiveCountsUncheckableTargetAsFailure(t *testing.T) {
	mem := afero.NewMemMapFs()
	seed(t, mem, "/live", "a.zip", "b.zip")
	require.NoError(t, afero.WriteFile(mem, "/cold/b.zip", []byte("older"), 0o644))
	fsys := failingStatFs{Fs: mem, fail: "b.zip"}

	arch := &Archiver{FS: fsys, LiveDir: "/live", ArchiveDir: "/cold", Log: zerolog.Nop()}
	res, err := arch.Archive(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"a.zip"}, res.Moved)
	assert.True(t, exists(t, mem, "/live/b.zip"))
	data, err := afero.ReadFile(mem, "/cold/b.zip")
	require.NoError(t, err)
	assert.Equal(t, "older", string(data))
}
