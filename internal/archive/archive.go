// Package archive retires archives that dropped out of the remote catalog.
package archive

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/rowjay/todoist-backup/internal/todoist"
	"github.com/rowjay/todoist-backup/internal/util"
)

type Archiver struct {
	FS         afero.Fs
	LiveDir    string
	ArchiveDir string
	// Ext selects which files are subject to archival; defaults to todoist.ArchiveExt.
	Ext string
	Log zerolog.Logger
}

type Result struct {
	Moved   []string
	Kept    int
	Failed  int
	Skipped int
}

// Archive moves every archive in LiveDir whose name is not a current catalog
// file name into ArchiveDir. Each move stands alone: a failed move is logged
// and counted and the scan carries on. Only a failure to list LiveDir is
// returned as an error.
func (a *Archiver) Archive(ctx context.Context, catalog todoist.Catalog) (Result, error) {
	var res Result
	ext := a.Ext
	if ext == "" {
		ext = todoist.ArchiveExt
	}
	entries, err := util.FilesWithExt(a.FS, a.LiveDir, ext)
	if err != nil {
		return res, fmt.Errorf("scan %s: %w", a.LiveDir, err)
	}

	current := catalog.Current()
	dirReady := false
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, ok := current[entry.Name]; ok {
			res.Kept++
			continue
		}
		log := a.Log.With().Str("file", entry.Name).Logger()

		if !dirReady {
			if err := a.FS.MkdirAll(a.ArchiveDir, 0o750); err != nil {
				log.Error().Err(err).Str("dir", a.ArchiveDir).Msg("cannot create archive directory")
				res.Failed++
				continue
			}
			dirReady = true
		}

		target := filepath.Join(a.ArchiveDir, entry.Name)
		exists, err := afero.Exists(a.FS, target)
		if err != nil {
			log.Error().Err(err).Str("target", target).Msg("cannot check archive target")
			res.Failed++
			continue
		}
		if exists {
			log.Warn().Str("target", target).Msg("archive already holds a file with this name, leaving it in place")
			res.Skipped++
			continue
		}
		if err := a.FS.Rename(entry.Path, target); err != nil {
			log.Error().Err(err).Msg("failed to archive backup")
			res.Failed++
			continue
		}
		log.Info().Str("target", target).Msg("archived backup")
		res.Moved = append(res.Moved, entry.Name)
	}
	return res, nil
}
