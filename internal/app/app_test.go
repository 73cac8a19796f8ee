package app

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/todoist-backup/internal/compress"
	"github.com/rowjay/todoist-backup/internal/config"
	"github.com/rowjay/todoist-backup/internal/cryptoutil"
	"github.com/rowjay/todoist-backup/internal/download"
	"github.com/rowjay/todoist-backup/internal/lock"
	"github.com/rowjay/todoist-backup/internal/notify"
	"github.com/rowjay/todoist-backup/internal/storage"
	"github.com/rowjay/todoist-backup/internal/todoist"
	"github.com/rowjay/todoist-backup/internal/util"
)

type fakeSource struct {
	catalog todoist.Catalog
	err     error
	calls   int
}

func (f *fakeSource) FetchCatalog(context.Context) (todoist.Catalog, error) {
	f.calls++
	return f.catalog, f.err
}

type recorder struct{ events []notify.Event }

func (r *recorder) Notify(_ context.Context, e notify.Event) error {
	r.events = append(r.events, e)
	return nil
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type harness struct {
	app    *App
	fs     afero.Fs
	source *fakeSource
	notes  *recorder
	remote *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Base(r.URL.Path)
		http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(zipBytes(t, map[string]string{name + ".csv": "content of " + name})))
	}))
	t.Cleanup(remote.Close)

	cfg := &config.Config{
		Global:     config.GlobalConfig{LockFile: filepath.Join(t.TempDir(), "tdb.lock")},
		Todoist:    config.TodoistConfig{Token: "secret", DownloadTimeout: 2 * time.Second, ChunkSize: 512},
		Paths:      config.PathsConfig{BackupDir: "/live"},
		Recompress: config.RecompressConfig{Format: compress.TypeZstd, ScratchDir: "/scratch"},
		Mirror:     config.MirrorConfig{Enabled: true, Backend: "local", Local: config.LocalStore{Path: "/mirror"}, Prefix: "todoist", RetryCount: 1},
	}
	config.ApplyPostLoadDefaults(cfg)

	fsys := afero.NewMemMapFs()
	source := &fakeSource{}
	notes := &recorder{}
	mirror, err := storage.New(cfg.Mirror, fsys)
	require.NoError(t, err)
	return &harness{
		app:    New(cfg, fsys, source, mirror, zerolog.Nop(), notes),
		fs:     fsys,
		source: source,
		notes:  notes,
		remote: remote,
	}
}

func (h *harness) backup(t *testing.T, version, name string) todoist.Backup {
	t.Helper()
	b, err := todoist.NewBackup(version, h.remote.URL+"/files/"+name)
	require.NoError(t, err)
	return b
}

func (h *harness) exists(t *testing.T, path string) bool {
	t.Helper()
	ok, err := afero.Exists(h.fs, path)
	require.NoError(t, err)
	return ok
}

func TestRunFullPipeline(t *testing.T) {
	h := newHarness(t)
	a := h.backup(t, "2023-01-01 10:30:00", "a.zip")
	c := h.backup(t, "2023-01-03 10:30:00", "c.zip")
	h.source.catalog = todoist.Catalog{a, c}
	retired := "2022-12-31_10-30-00_b.zip"
	require.NoError(t, afero.WriteFile(h.fs, "/live/"+retired, zipBytes(t, map[string]string{"Inbox.csv": "old tasks"}), 0o644))

	report, err := h.app.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Failures())
	assert.Equal(t, 2, report.Fetch.Download.Downloaded)
	assert.Equal(t, []string{retired}, report.Archive.Moved)
	assert.Equal(t, 1, report.Recompress.Recompressed)
	assert.Equal(t, []string{"2022-12-31_10-30-00_b.tar.zst"}, report.Mirror.Uploaded)

	assert.True(t, h.exists(t, "/live/"+a.Filename()))
	assert.True(t, h.exists(t, "/live/"+c.Filename()))
	assert.False(t, h.exists(t, "/live/"+retired))
	assert.False(t, h.exists(t, "/live/archive/"+retired))
	assert.True(t, h.exists(t, "/live/archive/2022-12-31_10-30-00_b.tar.zst"))
	assert.True(t, h.exists(t, "/mirror/todoist/2022-12-31_10-30-00_b.tar.zst"))
	assert.True(t, h.exists(t, "/mirror/todoist/2022-12-31_10-30-00_b.tar.zst"+storage.ManifestSuffix))

	listed, err := download.ReadManifest(h.fs, h.app.ManifestPath())
	require.NoError(t, err)
	assert.Equal(t, []string{a.Filename(), c.Filename()}, listed)

	require.Len(t, h.notes.events, 1)
	assert.Equal(t, "success", h.notes.events[0].Status)
	assert.Equal(t, 2, h.notes.events[0].Downloaded)
	assert.Equal(t, 1, h.notes.events[0].Mirrored)

	second, err := h.app.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Fetch.Download.Downloaded)
	assert.Equal(t, 2, second.Fetch.Download.Skipped)
	assert.Empty(t, second.Archive.Moved)
	assert.Empty(t, second.Mirror.Uploaded)
	assert.Equal(t, 1, second.Mirror.Skipped)
}

func TestFetchFatalCatalogErrorWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.source.err = &todoist.StatusError{StatusCode: http.StatusInternalServerError, Body: "boom"}

	report, err := h.app.Run(context.Background())
	require.Error(t, err)
	var serr *todoist.StatusError
	require.True(t, errors.As(err, &serr))
	assert.Nil(t, report.Fetch)

	assert.False(t, h.exists(t, "/live"))
	assert.False(t, h.exists(t, h.app.ManifestPath()))
	require.Len(t, h.notes.events, 1)
	assert.Equal(t, "failed", h.notes.events[0].Status)
}

func TestRunFatalCatalogErrorLeavesFreshInstallUntouched(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{
		Todoist:    config.TodoistConfig{Token: "secret"},
		Paths:      config.PathsConfig{BackupDir: filepath.Join(root, "backups")},
		Recompress: config.RecompressConfig{Format: compress.TypeZstd},
	}
	config.ApplyPostLoadDefaults(cfg)
	source := &fakeSource{err: &todoist.StatusError{StatusCode: http.StatusInternalServerError}}
	a := New(cfg, afero.NewOsFs(), source, nil, zerolog.Nop(), nil)

	_, err := a.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, source.calls)

	_, statErr := os.Stat(cfg.Paths.BackupDir)
	assert.True(t, os.IsNotExist(statErr), "backup dir must not be created")
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetchEmptyCatalogWritesSentinel(t *testing.T) {
	h := newHarness(t)

	report, err := h.app.Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Catalog)
	assert.Equal(t, download.Result{}, report.Download)

	data, err := afero.ReadFile(h.fs, h.app.ManifestPath())
	require.NoError(t, err)
	assert.Equal(t, download.ManifestEmpty+"\n", string(data))
}

func TestRunMissingCodecDoesNoWork(t *testing.T) {
	orig := util.LookPath
	util.LookPath = func(string) (string, error) { return "", exec.ErrNotFound }
	defer func() { util.LookPath = orig }()

	h := newHarness(t)
	h.app.Cfg.Recompress.Format = compress.TypeXZ
	h.source.catalog = todoist.Catalog{h.backup(t, "2023-01-01 10:30:00", "a.zip")}

	_, err := h.app.Run(context.Background())
	require.ErrorIs(t, err, compress.ErrCodecUnavailable)
	assert.Equal(t, 0, h.source.calls)
	assert.False(t, h.exists(t, "/live"))
}

func TestRunRefusesOverlappingInvocation(t *testing.T) {
	h := newHarness(t)
	held, err := lock.Acquire(h.app.Cfg.Global.LockFile)
	require.NoError(t, err)
	defer held.Release()

	_, err = h.app.Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, h.source.calls)
}

func TestMirrorEncryptsObjects(t *testing.T) {
	h := newHarness(t)
	key := make([]byte, cryptoutil.KeySize)
	key[0] = 7
	h.app.Cfg.Mirror.Encryption = true
	h.app.Cfg.Mirror.EncryptionKey = "hex:" + hex.EncodeToString(key)

	payload := bytes.Repeat([]byte("packed"), 1000)
	require.NoError(t, afero.WriteFile(h.fs, "/live/archive/x.tar.xz", payload, 0o644))
	require.NoError(t, afero.WriteFile(h.fs, "/live/archive/y.zip", []byte("pending"), 0o644))

	res, err := h.app.MirrorArchives(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"x.tar.xz"}, res.Uploaded)

	sealed, err := h.fs.Open("/mirror/todoist/x.tar.xz.enc")
	require.NoError(t, err)
	defer sealed.Close()
	plain, err := cryptoutil.DecryptReader(sealed, key)
	require.NoError(t, err)
	out, err := io.ReadAll(plain)
	require.NoError(t, err)
	assert.Equal(t, payload, out)

	raw, err := afero.ReadFile(h.fs, "/mirror/todoist/x.tar.xz.enc"+storage.ManifestSuffix)
	require.NoError(t, err)
	var manifest storage.Manifest
	require.NoError(t, json.Unmarshal(raw, &manifest))
	sum := sha256.Sum256(payload)
	assert.Equal(t, hex.EncodeToString(sum[:]), manifest.SHA256)
	assert.True(t, manifest.Encryption)
	assert.Equal(t, compress.TypeXZ, manifest.Format)
	assert.Equal(t, "x.tar.xz", manifest.Source)
}

func TestMirrorDisabled(t *testing.T) {
	h := newHarness(t)
	h.app.Mirror = nil
	_, err := h.app.MirrorArchives(context.Background())
	require.ErrorIs(t, err, ErrMirrorDisabled)
}

func TestStatusReportsLocalState(t *testing.T) {
	h := newHarness(t)
	a := h.backup(t, "2023-01-01 10:30:00", "a.zip")
	h.source.catalog = todoist.Catalog{a}
	_, err := h.app.Fetch(context.Background())
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(h.fs, "/live/stray.zip", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(h.fs, "/live/archive/old.zip", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(h.fs, "/live/archive/older.tar.zst", []byte("x"), 0o644))

	report, err := h.app.Status(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Live, 2)
	assert.Equal(t, []string{a.Filename()}, report.Listed)
	assert.Equal(t, []string{"stray.zip"}, report.Untracked)
	require.Len(t, report.Pending, 1)
	assert.Equal(t, "old.zip", report.Pending[0].Name)
	require.Len(t, report.Packed, 1)
	assert.Equal(t, 0, report.Mirrored)
}

func TestRecompressedContainerMatchesDownload(t *testing.T) {
	h := newHarness(t)
	h.app.Cfg.Mirror.Enabled = false
	a := h.backup(t, "2023-01-01 10:30:00", "a.zip")
	h.source.catalog = todoist.Catalog{a}
	_, err := h.app.Fetch(context.Background())
	require.NoError(t, err)

	h.source.catalog = nil
	_, err = h.app.Run(context.Background())
	require.NoError(t, err)

	target := "/live/archive/" + strings.TrimSuffix(a.Filename(), ".zip") + ".tar.zst"
	f, err := h.fs.Open(target)
	require.NoError(t, err)
	defer f.Close()
	cr, err := compress.NewReader(context.Background(), compress.TypeZstd, f)
	require.NoError(t, err)
	defer cr.Close()
	hdr, err := tar.NewReader(cr).Next()
	require.NoError(t, err)
	assert.Equal(t, "a.zip.csv", hdr.Name)
}

func TestValidatePreflight(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.app.Validate(context.Background()))
	assert.Equal(t, 1, h.source.calls)
	assert.True(t, h.exists(t, "/live/archive"))

	h.source.err = &todoist.StatusError{StatusCode: http.StatusForbidden}
	require.Error(t, h.app.Validate(context.Background()))

	h.app.Cfg.Todoist.Token = ""
	require.ErrorIs(t, h.app.Validate(context.Background()), config.ErrMissingToken)
}
