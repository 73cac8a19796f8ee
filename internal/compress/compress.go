package compress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/rowjay/todoist-backup/internal/util"
)

const (
	TypeXZ   = "xz"
	TypeZstd = "zstd"
	TypeGzip = "gzip"
)

// ErrCodecUnavailable means the codec exists but cannot run on this host.
var ErrCodecUnavailable = errors.New("compression codec unavailable")

var extensions = map[string]string{
	TypeXZ:   ".tar.xz",
	TypeZstd: ".tar.zst",
	TypeGzip: ".tar.gz",
}

// Known reports whether kind names a supported long-term codec.
func Known(kind string) bool {
	_, ok := extensions[kind]
	return ok
}

// Extension returns the container extension (including the tar part) for kind.
func Extension(kind string) string {
	return extensions[kind]
}

// KindFromName reports which codec produced a container, by file name.
func KindFromName(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, kind := range []string{TypeXZ, TypeZstd, TypeGzip} {
		if strings.HasSuffix(lower, extensions[kind]) {
			return kind, true
		}
	}
	return "", false
}

// Available checks once, before any work starts, that kind can actually be used.
func Available(kind string) error {
	switch kind {
	case TypeXZ:
		if err := util.RequireBinary(xzBinary); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCodecUnavailable, kind, err)
		}
		return nil
	case TypeZstd, TypeGzip:
		return nil
	default:
		return fmt.Errorf("unsupported compression: %s", kind)
	}
}

// NewWriter returns a compressing writer for kind. level 0 keeps the codec default.
func NewWriter(ctx context.Context, kind string, level int, w io.Writer) (io.WriteCloser, error) {
	switch kind {
	case TypeXZ:
		return newXZWriter(ctx, level, w)
	case TypeZstd:
		opts := []zstd.EOption{}
		if level > 0 {
			opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		}
		return zstd.NewWriter(w, opts...)
	case TypeGzip:
		if level <= 0 {
			level = gzip.DefaultCompression
		}
		return gzip.NewWriterLevel(w, level)
	default:
		return nil, fmt.Errorf("unsupported compression: %s", kind)
	}
}

func NewReader(ctx context.Context, kind string, r io.Reader) (io.ReadCloser, error) {
	switch kind {
	case TypeXZ:
		return newXZReader(ctx, r)
	case TypeZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zstdReadCloser{Decoder: dec}, nil
	case TypeGzip:
		return gzip.NewReader(r)
	default:
		return nil, fmt.Errorf("unsupported compression: %s", kind)
	}
}

type zstdReadCloser struct{ *zstd.Decoder }

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}
