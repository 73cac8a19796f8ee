package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/rowjay/todoist-backup/internal/compress"
	"github.com/rowjay/todoist-backup/internal/download"
	"github.com/rowjay/todoist-backup/internal/todoist"
	"github.com/rowjay/todoist-backup/internal/util"
)

type StatusReport struct {
	Live      []util.Entry // original archives in the backup directory
	Listed    []string     // names in the last written manifest
	Untracked []string     // live archives missing from the manifest, retired on the next run
	Pending   []util.Entry // originals in the archive directory awaiting recompression
	Packed    []util.Entry // recompressed containers in the archive directory
	Mirrored  int          // objects in the mirror, excluding sidecars; -1 when unknown
}

// Status describes the local state without contacting the Todoist API.
func (a *App) Status(ctx context.Context) (*StatusReport, error) {
	report := &StatusReport{Mirrored: -1}
	var err error

	if report.Live, err = util.FilesWithExt(a.FS, a.Cfg.Paths.BackupDir, todoist.ArchiveExt); err != nil {
		return nil, fmt.Errorf("scan %s: %w", a.Cfg.Paths.BackupDir, err)
	}
	if report.Listed, err = download.ReadManifest(a.FS, a.ManifestPath()); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	listed := make(map[string]struct{}, len(report.Listed))
	for _, name := range report.Listed {
		listed[name] = struct{}{}
	}
	for _, e := range report.Live {
		if _, ok := listed[e.Name]; !ok {
			report.Untracked = append(report.Untracked, e.Name)
		}
	}

	archived, err := util.ScanDir(a.FS, a.Cfg.Paths.ArchiveDir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", a.Cfg.Paths.ArchiveDir, err)
	}
	for _, e := range archived {
		if !e.IsFile {
			continue
		}
		if _, ok := compress.KindFromName(e.Name); ok {
			report.Packed = append(report.Packed, e)
			continue
		}
		if matchesExt(e.Name, todoist.ArchiveExt) {
			report.Pending = append(report.Pending, e)
		}
	}

	if a.Mirror != nil {
		objects, err := a.Mirror.List(ctx, util.BuildPrefix(a.Cfg.Mirror.Prefix))
		if err != nil {
			a.Log.Warn().Err(err).Msg("cannot list mirror")
		} else {
			report.Mirrored = 0
			for _, o := range objects {
				if !o.IsManifest {
					report.Mirrored++
				}
			}
		}
	}
	return report, nil
}

// Validate checks configuration, codec availability, directory access and
// the Todoist credentials. It downloads nothing.
func (a *App) Validate(ctx context.Context) error {
	if err := a.Cfg.Validate(true); err != nil {
		return err
	}
	if err := a.CheckCapabilities(); err != nil {
		return err
	}
	for _, dir := range []string{a.Cfg.Paths.BackupDir, a.Cfg.Paths.ArchiveDir} {
		if err := checkWritable(a.FS, dir); err != nil {
			return err
		}
	}
	catalog, err := a.FetchCatalog(ctx)
	if err != nil {
		return err
	}
	a.Log.Info().Int("count", len(catalog)).Msg("todoist credentials accepted")
	if a.Mirror != nil {
		if _, err := a.Mirror.List(ctx, util.BuildPrefix(a.Cfg.Mirror.Prefix)); err != nil {
			return fmt.Errorf("mirror: %w", err)
		}
	}
	return nil
}

func checkWritable(fsys afero.Fs, dir string) error {
	if err := fsys.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("%s is not usable: %w", dir, err)
	}
	f, err := afero.TempFile(fsys, dir, ".tdb-probe-")
	if err != nil {
		return fmt.Errorf("%s is not writable: %w", dir, err)
	}
	name := f.Name()
	_ = f.Close()
	return fsys.Remove(name)
}

func matchesExt(name, ext string) bool {
	return strings.HasSuffix(strings.ToLower(name), strings.ToLower(ext))
}
