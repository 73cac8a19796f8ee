// Package download fetches catalog archives into the live backup directory.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/rowjay/todoist-backup/internal/todoist"
)

const partSuffix = ".part"

// Downloader fetches every catalog entry not already present in Dir.
type Downloader struct {
	FS           afero.Fs
	Dir          string
	HTTP         *http.Client
	Probe        *http.Client // size HEAD request; nil means http.DefaultClient
	ChunkSize    int
	StallTimeout time.Duration
	UserAgent    string
	Log          zerolog.Logger
}

type Result struct {
	Downloaded int
	Skipped    int
	Failed     int
	Bytes      int64
}

// NewTransferClient builds the client used for archive transfers. Dialing,
// TLS and the wait for response headers are each bounded by stall.
func NewTransferClient(stall time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: stall, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = stall
	transport.ResponseHeaderTimeout = stall
	return &http.Client{Transport: transport}
}

// Download walks the catalog in order. A file already at the canonical path
// counts as fetched and is never re-downloaded or checked. Failures are
// logged and counted; they never stop the batch.
func (d *Downloader) Download(ctx context.Context, catalog todoist.Catalog) Result {
	var res Result
	if err := d.FS.MkdirAll(d.Dir, 0o750); err != nil {
		d.Log.Error().Err(err).Str("dir", d.Dir).Msg("cannot create backup directory")
		res.Failed = len(catalog)
		return res
	}

	for _, backup := range catalog {
		if err := ctx.Err(); err != nil {
			d.Log.Warn().Err(err).Msg("download pass interrupted")
			break
		}
		log := d.Log.With().Str("version", backup.Version).Str("file", backup.Filename()).Logger()
		target := filepath.Join(d.Dir, backup.Filename())

		exists, err := afero.Exists(d.FS, target)
		if err != nil {
			log.Error().Err(err).Msg("cannot stat target")
			res.Failed++
			continue
		}
		if exists {
			log.Debug().Msg("skipping, already downloaded")
			res.Skipped++
			continue
		}

		log.Info().Msg("downloading backup")
		if size, ok := d.probeSize(ctx, backup.URL); ok {
			log.Info().Int64("size", size).Str("human_size", humanize.Bytes(uint64(size))).Msg("backup size")
		} else {
			log.Debug().Msg("backup size unknown")
		}

		n, err := d.fetch(ctx, backup.URL, target)
		if err != nil {
			var serr *statusError
			if errors.As(err, &serr) {
				log.Error().Int("status", serr.code).Msg("download failed")
			} else {
				log.Error().Err(err).Msg("download failed")
			}
			res.Failed++
			continue
		}
		res.Downloaded++
		res.Bytes += n
		log.Info().Int64("bytes", n).Msg("download finished")
	}
	return res
}

// probeSize asks for the content length. Any failure just means "unknown".
func (d *Downloader) probeSize(ctx context.Context, rawURL string) (int64, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, false
	}
	d.setHeaders(req)
	client := d.Probe
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, false
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return 0, false
	}
	size, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	if err != nil || size < 0 {
		return 0, false
	}
	return size, true
}

type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("unexpected status %d", e.code) }

// fetch streams rawURL into target via a sibling .part file that is renamed
// into place only once the whole body has been written.
func (d *Downloader) fetch(ctx context.Context, rawURL, target string) (int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	watchdog := time.AfterFunc(d.stallTimeout(), cancel)
	defer watchdog.Stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	d.setHeaders(req)
	client := d.HTTP
	if client == nil {
		client = NewTransferClient(d.stallTimeout())
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &statusError{code: resp.StatusCode}
	}

	part := target + partSuffix
	file, err := d.FS.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", part, err)
	}
	n, copyErr := d.copyChunks(file, resp.Body, watchdog)
	if copyErr == nil {
		copyErr = file.Sync()
	}
	if closeErr := file.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = d.FS.Remove(part)
		return n, copyErr
	}
	if err := d.FS.Rename(part, target); err != nil {
		_ = d.FS.Remove(part)
		return n, fmt.Errorf("finalize %s: %w", target, err)
	}
	return n, nil
}

// copyChunks moves the body in ChunkSize pieces, re-arming the stall
// watchdog after every successful read.
func (d *Downloader) copyChunks(dst io.Writer, src io.Reader, watchdog *time.Timer) (int64, error) {
	size := d.ChunkSize
	if size <= 0 {
		size = 32 * 1024
	}
	buf := make([]byte, size)
	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			watchdog.Reset(d.stallTimeout())
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func (d *Downloader) stallTimeout() time.Duration {
	if d.StallTimeout <= 0 {
		return 10 * time.Second
	}
	return d.StallTimeout
}

func (d *Downloader) setHeaders(req *http.Request) {
	if d.UserAgent != "" {
		req.Header.Set("User-Agent", d.UserAgent)
	}
}
