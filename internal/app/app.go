package app

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/rowjay/todoist-backup/internal/archive"
	"github.com/rowjay/todoist-backup/internal/compress"
	"github.com/rowjay/todoist-backup/internal/config"
	"github.com/rowjay/todoist-backup/internal/download"
	"github.com/rowjay/todoist-backup/internal/lock"
	"github.com/rowjay/todoist-backup/internal/notify"
	"github.com/rowjay/todoist-backup/internal/recompress"
	"github.com/rowjay/todoist-backup/internal/storage"
	"github.com/rowjay/todoist-backup/internal/todoist"
)

// CatalogSource yields the current remote catalog.
type CatalogSource interface {
	FetchCatalog(ctx context.Context) (todoist.Catalog, error)
}

type App struct {
	Cfg      *config.Config
	FS       afero.Fs
	Source   CatalogSource
	Transfer *http.Client
	Probe    *http.Client    // size probe; http.DefaultClient unless replaced
	Mirror   storage.Storage // nil unless mirroring is enabled
	Log      zerolog.Logger
	Notifier notify.Notifier
}

func New(cfg *config.Config, fsys afero.Fs, source CatalogSource, mirror storage.Storage, log zerolog.Logger, notifier notify.Notifier) *App {
	return &App{
		Cfg:      cfg,
		FS:       fsys,
		Source:   source,
		Transfer: download.NewTransferClient(cfg.Todoist.DownloadTimeout),
		Probe:    http.DefaultClient,
		Mirror:   mirror,
		Log:      log,
		Notifier: notifier,
	}
}

type FetchReport struct {
	Catalog  todoist.Catalog
	Download download.Result
}

type RunReport struct {
	Fetch      *FetchReport
	Archive    archive.Result
	Recompress recompress.Result
	Mirror     MirrorResult
}

// Failures counts per-item failures across every phase.
func (r *RunReport) Failures() int {
	n := r.Archive.Failed + r.Recompress.Failed + r.Mirror.Failed
	if r.Fetch != nil {
		n += r.Fetch.Download.Failed
	}
	return n
}

// CheckCapabilities fails when the configured long-term codec cannot run.
func (a *App) CheckCapabilities() error {
	return compress.Available(a.Cfg.Recompress.Format)
}

func (a *App) ManifestPath() string {
	return filepath.Join(a.Cfg.Paths.BackupDir, a.Cfg.Paths.ManifestName)
}

// Fetch retrieves the catalog, refreshes the manifest and downloads missing
// archives. A catalog error is returned untouched and nothing is written.
func (a *App) Fetch(ctx context.Context) (*FetchReport, error) {
	var report *FetchReport
	err := a.locked(func() error {
		var err error
		report, err = a.fetch(ctx)
		return err
	})
	return report, err
}

// Archive fetches a fresh catalog and retires what fell out of it.
func (a *App) Archive(ctx context.Context) (archive.Result, error) {
	var res archive.Result
	err := a.locked(func() error {
		catalog, err := a.FetchCatalog(ctx)
		if err != nil {
			return err
		}
		res, err = a.archive(ctx, catalog)
		return err
	})
	return res, err
}

func (a *App) Recompress(ctx context.Context) (recompress.Result, error) {
	var res recompress.Result
	if err := a.CheckCapabilities(); err != nil {
		return res, err
	}
	err := a.locked(func() error {
		var err error
		res, err = a.recompress(ctx)
		return err
	})
	return res, err
}

func (a *App) MirrorArchives(ctx context.Context) (MirrorResult, error) {
	var res MirrorResult
	err := a.locked(func() error {
		var err error
		res, err = a.mirror(ctx)
		return err
	})
	return res, err
}

// Run executes fetch, archive, recompress and, when enabled, mirror in that
// order under one lock, then reports the outcome to the notifiers.
func (a *App) Run(ctx context.Context) (*RunReport, error) {
	start := time.Now()
	report := &RunReport{}
	var opErr error
	defer func() {
		a.notify(start, report, opErr)
	}()

	if opErr = a.CheckCapabilities(); opErr != nil {
		return report, opErr
	}
	opErr = a.locked(func() error {
		fetched, err := a.fetch(ctx)
		if err != nil {
			return err
		}
		report.Fetch = fetched

		if report.Archive, err = a.archive(ctx, fetched.Catalog); err != nil {
			return err
		}
		if report.Recompress, err = a.recompress(ctx); err != nil {
			return err
		}
		if a.Cfg.Mirror.Enabled {
			if report.Mirror, err = a.mirror(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if opErr == nil {
		a.Log.Info().Int("failures", report.Failures()).Dur("took", time.Since(start)).Msg("all done")
	}
	return report, opErr
}

// FetchCatalog asks the remote service for the current catalog.
func (a *App) FetchCatalog(ctx context.Context) (todoist.Catalog, error) {
	catalog, err := a.Source.FetchCatalog(ctx)
	if err != nil {
		return nil, err
	}
	a.Log.Info().Int("count", len(catalog)).Msg("fetched backup list")
	return catalog, nil
}

func (a *App) fetch(ctx context.Context) (*FetchReport, error) {
	a.Log.Info().Msg("starting backup download")
	catalog, err := a.FetchCatalog(ctx)
	if err != nil {
		return nil, err
	}
	report := &FetchReport{Catalog: catalog}

	if err := a.FS.MkdirAll(a.Cfg.Paths.BackupDir, 0o750); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}
	if err := download.WriteManifest(a.FS, a.ManifestPath(), catalog); err != nil {
		a.Log.Error().Err(err).Msg("failed to write backup list")
	}

	if len(catalog) == 0 {
		a.Log.Info().Msg("no backups found")
		return report, nil
	}

	d := &download.Downloader{
		FS:           a.FS,
		Dir:          a.Cfg.Paths.BackupDir,
		HTTP:         a.Transfer,
		Probe:        a.Probe,
		ChunkSize:    a.Cfg.Todoist.ChunkSize,
		StallTimeout: a.Cfg.Todoist.DownloadTimeout,
		UserAgent:    a.Cfg.Todoist.UserAgent,
		Log:          a.Log,
	}
	report.Download = d.Download(ctx, catalog)
	a.Log.Info().
		Int("downloaded", report.Download.Downloaded).
		Int("skipped", report.Download.Skipped).
		Int("failed", report.Download.Failed).
		Msg("download pass finished")
	return report, nil
}

func (a *App) archive(ctx context.Context, catalog todoist.Catalog) (archive.Result, error) {
	arch := &archive.Archiver{
		FS:         a.FS,
		LiveDir:    a.Cfg.Paths.BackupDir,
		ArchiveDir: a.Cfg.Paths.ArchiveDir,
		Log:        a.Log,
	}
	res, err := arch.Archive(ctx, catalog)
	if err != nil {
		return res, err
	}
	a.Log.Info().Int("moved", len(res.Moved)).Int("kept", res.Kept).Int("failed", res.Failed).Msg("archive pass finished")
	return res, nil
}

func (a *App) recompress(ctx context.Context) (recompress.Result, error) {
	r := &recompress.Recompressor{
		FS:         a.FS,
		Dir:        a.Cfg.Paths.ArchiveDir,
		Format:     a.Cfg.Recompress.Format,
		Level:      a.Cfg.Recompress.Level,
		Log:        a.Log,
		ScratchDir: a.Cfg.Recompress.ScratchDir,
	}
	return r.Recompress(ctx)
}

func (a *App) locked(fn func() error) error {
	guard, err := lock.Acquire(a.Cfg.Global.LockFile)
	if err != nil {
		return err
	}
	defer guard.Release()
	return fn()
}

func (a *App) notify(start time.Time, report *RunReport, opErr error) {
	if a.Notifier == nil {
		return
	}
	event := notify.Event{
		Type:         "run",
		Status:       statusOf(report, opErr),
		StartedAt:    start,
		EndedAt:      time.Now(),
		Duration:     time.Since(start).String(),
		Failed:       report.Failures(),
		Archived:     len(report.Archive.Moved),
		Recompressed: report.Recompress.Recompressed,
		Mirrored:     len(report.Mirror.Uploaded),
		BytesSaved:   report.Recompress.Saved,
	}
	if report.Fetch != nil {
		event.Catalog = len(report.Fetch.Catalog)
		event.Downloaded = report.Fetch.Download.Downloaded
		event.Skipped = report.Fetch.Download.Skipped
	}
	if opErr != nil {
		event.Error = opErr.Error()
	}
	if err := a.Notifier.Notify(context.Background(), event); err != nil {
		a.Log.Warn().Err(err).Msg("notification failed")
	}
}

func statusOf(report *RunReport, err error) string {
	switch {
	case err != nil:
		return "failed"
	case report.Failures() > 0:
		return "partial"
	default:
		return "success"
	}
}
