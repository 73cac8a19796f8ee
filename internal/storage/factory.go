package storage

import (
	"fmt"

	"github.com/spf13/afero"

	"github.com/rowjay/todoist-backup/internal/config"
)

// New returns the mirror backend described by cfg. fsys backs the local
// backend only.
func New(cfg config.MirrorConfig, fsys afero.Fs) (Storage, error) {
	switch cfg.Backend {
	case "local", "":
		if cfg.Local.Path == "" {
			return nil, fmt.Errorf("mirror.local.path is required")
		}
		return NewLocal(fsys, cfg.Local.Path), nil
	case "s3":
		if cfg.S3.Endpoint == "" || cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("s3 endpoint and bucket are required")
		}
		return NewS3(cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported mirror backend: %s", cfg.Backend)
	}
}
