// Package recompress re-encodes retired zip archives into a denser
// long-term tar container.
package recompress

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/rowjay/todoist-backup/internal/compress"
	"github.com/rowjay/todoist-backup/internal/todoist"
	"github.com/rowjay/todoist-backup/internal/util"
)

const partSuffix = ".part"

type Recompressor struct {
	FS     afero.Fs
	Dir    string
	Format string
	Level  int
	// ScratchDir is where per-archive scratch directories are created; empty
	// means the filesystem's temp directory.
	ScratchDir string
	// SourceExt defaults to todoist.ArchiveExt.
	SourceExt string
	Log       zerolog.Logger
}

type Item struct {
	Source       string
	Target       string
	OriginalSize int64
	NewSize      int64
	Files        int
	Err          error
}

// Saved is negative when the new container came out larger.
func (i Item) Saved() int64 { return i.OriginalSize - i.NewSize }

type Result struct {
	Items        []Item
	Recompressed int
	Failed       int
	Saved        int64
}

// TargetPath swaps srcExt for the container extension of format, or appends
// it when path does not end in srcExt.
func TargetPath(path, srcExt, format string) string {
	if strings.HasSuffix(strings.ToLower(path), strings.ToLower(srcExt)) {
		return path[:len(path)-len(srcExt)] + compress.Extension(format)
	}
	return path + compress.Extension(format)
}

// Recompress processes every source archive directly inside Dir, one at a
// time. A missing codec is returned before anything is touched; a failure on
// one archive is logged, leaves that original in place, and does not stop the
// pass.
func (r *Recompressor) Recompress(ctx context.Context) (Result, error) {
	var res Result
	if err := compress.Available(r.Format); err != nil {
		return res, err
	}
	srcExt := r.sourceExt()
	sources, err := util.FilesWithExt(r.FS, r.Dir, srcExt)
	if err != nil {
		return res, fmt.Errorf("scan %s: %w", r.Dir, err)
	}
	if len(sources) == 0 {
		r.Log.Info().Str("dir", r.Dir).Msg("no archived backups to recompress")
		return res, nil
	}
	r.Log.Info().Int("count", len(sources)).Str("format", r.Format).Msg("recompressing archived backups")

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		item := r.recompressOne(ctx, src.Path)
		res.Items = append(res.Items, item)
		log := r.Log.With().Str("file", filepath.Base(item.Source)).Logger()
		if item.Err != nil {
			res.Failed++
			log.Error().Err(item.Err).Msg("recompression failed, original kept")
			continue
		}
		res.Recompressed++
		res.Saved += item.Saved()
		log.Info().
			Str("target", filepath.Base(item.Target)).
			Int64("original_size", item.OriginalSize).
			Int64("new_size", item.NewSize).
			Int64("saved", item.Saved()).
			Str("human_saved", signedBytes(item.Saved())).
			Msg("recompressed archive")
	}
	return res, nil
}

func (r *Recompressor) recompressOne(ctx context.Context, src string) (item Item) {
	item = Item{Source: src, Target: TargetPath(src, r.sourceExt(), r.Format)}

	scratch, err := afero.TempDir(r.FS, r.ScratchDir, "tdb-recompress-")
	if err != nil {
		item.Err = fmt.Errorf("create scratch dir: %w", err)
		return item
	}
	defer func() {
		if err := r.FS.RemoveAll(scratch); err != nil {
			r.Log.Warn().Err(err).Str("dir", scratch).Msg("failed to remove scratch directory")
		}
	}()

	extracted, err := extractZip(r.FS, src, scratch)
	if err != nil {
		item.Err = fmt.Errorf("extract: %w", err)
		return item
	}
	item.Files = len(extracted)

	part := item.Target + partSuffix
	if err := packTar(ctx, r.FS, scratch, part, r.Format, r.Level); err != nil {
		_ = r.FS.Remove(part)
		item.Err = fmt.Errorf("pack: %w", err)
		return item
	}
	if err := verifyTar(ctx, r.FS, part, r.Format, extracted); err != nil {
		_ = r.FS.Remove(part)
		item.Err = fmt.Errorf("verify: %w", err)
		return item
	}

	origInfo, err := r.FS.Stat(src)
	if err != nil {
		_ = r.FS.Remove(part)
		item.Err = err
		return item
	}
	if err := r.FS.Rename(part, item.Target); err != nil {
		_ = r.FS.Remove(part)
		item.Err = fmt.Errorf("finalize %s: %w", item.Target, err)
		return item
	}
	newInfo, err := r.FS.Stat(item.Target)
	if err != nil {
		item.Err = err
		return item
	}
	item.OriginalSize = origInfo.Size()
	item.NewSize = newInfo.Size()

	if err := r.FS.Remove(src); err != nil {
		item.Err = fmt.Errorf("remove original: %w", err)
	}
	return item
}

func (r *Recompressor) sourceExt() string {
	if r.SourceExt == "" {
		return todoist.ArchiveExt
	}
	return r.SourceExt
}

func signedBytes(n int64) string {
	if n < 0 {
		return "-" + humanize.Bytes(uint64(-n))
	}
	return humanize.Bytes(uint64(n))
}
