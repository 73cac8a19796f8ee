package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rowjay/todoist-backup/internal/compress"
	"github.com/rowjay/todoist-backup/internal/cryptoutil"
	"github.com/rowjay/todoist-backup/internal/storage"
	"github.com/rowjay/todoist-backup/internal/util"
	"github.com/rowjay/todoist-backup/internal/version"
)

var ErrMirrorDisabled = errors.New("mirror is not configured")

type MirrorResult struct {
	Uploaded []string
	Skipped  int
	Failed   int
}

// mirror uploads every long-term container in the archive directory that the
// mirror does not hold yet. Zip originals are never mirrored.
func (a *App) mirror(ctx context.Context) (MirrorResult, error) {
	var res MirrorResult
	if a.Mirror == nil {
		return res, ErrMirrorDisabled
	}
	var key []byte
	if a.Cfg.Mirror.Encryption {
		var err error
		if key, err = cryptoutil.ParseKey(a.Cfg.Mirror.EncryptionKey); err != nil {
			return res, fmt.Errorf("mirror encryption key: %w", err)
		}
	}

	entries, err := util.ScanDir(a.FS, a.Cfg.Paths.ArchiveDir)
	if err != nil {
		return res, fmt.Errorf("scan %s: %w", a.Cfg.Paths.ArchiveDir, err)
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		format, ok := compress.KindFromName(entry.Name)
		if !entry.IsFile || !ok {
			continue
		}
		objectKey := util.BuildObjectKey(a.Cfg.Mirror.Prefix, entry.Name)
		if key != nil {
			objectKey += ".enc"
		}
		log := a.Log.With().Str("file", entry.Name).Str("key", objectKey).Logger()

		exists, err := a.Mirror.Exists(ctx, objectKey)
		if err != nil {
			log.Error().Err(err).Msg("cannot check mirror")
			res.Failed++
			continue
		}
		if exists {
			log.Debug().Msg("already mirrored")
			res.Skipped++
			continue
		}

		err = util.Retry(ctx, a.Cfg.Mirror.RetryCount, a.Cfg.Mirror.RetryBackoff, func() error {
			return a.upload(ctx, entry, objectKey, format, key)
		}, func(attempt int, err error) {
			log.Warn().Err(err).Int("attempt", attempt).Msg("mirror upload failed, retrying")
		})
		if err != nil {
			log.Error().Err(err).Msg("mirror upload failed")
			res.Failed++
			continue
		}
		log.Info().Int64("size", entry.Size).Msg("mirrored archive")
		res.Uploaded = append(res.Uploaded, entry.Name)
	}
	a.Log.Info().Int("uploaded", len(res.Uploaded)).Int("skipped", res.Skipped).Int("failed", res.Failed).Msg("mirror pass finished")
	return res, nil
}

// upload streams one container to the mirror, through DARE encryption when
// key is set, and then writes its sidecar manifest.
func (a *App) upload(ctx context.Context, entry util.Entry, objectKey, format string, key []byte) error {
	file, err := a.FS.Open(entry.Path)
	if err != nil {
		return err
	}
	defer file.Close()

	hash := sha256.New()
	src := io.TeeReader(file, hash)
	meta := map[string]string{"tdb-source": entry.Name, "tdb-format": format}

	if key == nil {
		if err := a.Mirror.Put(ctx, objectKey, src, entry.Size, meta); err != nil {
			return err
		}
	} else {
		size, err := cryptoutil.EncryptedSize(entry.Size)
		if err != nil {
			return err
		}
		meta["tdb-encrypted"] = strconv.FormatBool(true)
		pipeReader, pipeWriter := io.Pipe()
		eg, egCtx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			defer pipeReader.Close()
			return a.Mirror.Put(egCtx, objectKey, pipeReader, size, meta)
		})
		eg.Go(func() error {
			enc, err := cryptoutil.EncryptWriter(pipeWriter, key)
			if err != nil {
				_ = pipeWriter.CloseWithError(err)
				return err
			}
			if _, err := io.Copy(enc, src); err != nil {
				_ = pipeWriter.CloseWithError(err)
				return err
			}
			if err := enc.Close(); err != nil {
				_ = pipeWriter.CloseWithError(err)
				return err
			}
			return pipeWriter.Close()
		})
		if err := eg.Wait(); err != nil {
			return err
		}
	}

	stat, err := a.Mirror.Stat(ctx, objectKey)
	if err != nil {
		return err
	}
	manifest := storage.Manifest{
		Key:         objectKey,
		Source:      entry.Name,
		Format:      format,
		Encryption:  key != nil,
		SizeBytes:   stat.Size,
		SourceBytes: entry.Size,
		SHA256:      hex.EncodeToString(hash.Sum(nil)),
		UploadedAt:  time.Now().UTC(),
		ToolVersion: version.Version,
	}
	payload, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return a.Mirror.Put(ctx, storage.ManifestKey(objectKey), strings.NewReader(string(payload)), int64(len(payload)), map[string]string{"tdb-manifest": "true"})
}
