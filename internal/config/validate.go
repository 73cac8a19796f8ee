package config

import (
	"errors"
	"fmt"

	"github.com/rowjay/todoist-backup/internal/compress"
)

var ErrMissingToken = errors.New("todoist.token is required (set it in the config file or TDB_TODOIST_TOKEN)")

// Validate checks the settings every phase depends on. requireToken is false
// for phases that never talk to the Todoist API.
func (c *Config) Validate(requireToken bool) error {
	if requireToken && c.Todoist.Token == "" {
		return ErrMissingToken
	}
	if c.Paths.BackupDir == "" {
		return fmt.Errorf("paths.backup_dir is required")
	}
	if c.Paths.ArchiveDir == "" {
		return fmt.Errorf("paths.archive_dir is required")
	}
	if !compress.Known(c.Recompress.Format) {
		return fmt.Errorf("unsupported recompress format: %s", c.Recompress.Format)
	}
	if c.Mirror.Enabled {
		switch c.Mirror.Backend {
		case "local", "":
			if c.Mirror.Local.Path == "" {
				return fmt.Errorf("mirror.local.path is required for the local mirror backend")
			}
		case "s3":
			if c.Mirror.S3.Endpoint == "" || c.Mirror.S3.Bucket == "" {
				return fmt.Errorf("mirror.s3.endpoint and mirror.s3.bucket are required")
			}
		default:
			return fmt.Errorf("unsupported mirror backend: %s", c.Mirror.Backend)
		}
		if c.Mirror.Encryption && c.Mirror.EncryptionKey == "" {
			return fmt.Errorf("mirror encryption is enabled but mirror.encryption_key is empty")
		}
	}
	return nil
}
