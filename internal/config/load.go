package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rowjay/todoist-backup/internal/cryptoutil"
)

const (
	envPrefix = "TDB"

	DefaultAPIURL       = "https://todoist.com/API/v8/backups/get"
	DefaultManifestName = "backup-list.txt"
	DefaultArchiveDir   = "archive"
	DefaultChunkSize    = 32 * 1024
)

// Load reads configuration from a file (optionally encrypted), env vars, and defaults.
func Load(path string) (*Config, error) {
	vp := viper.New()
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	setDefaults(vp)

	resolved, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}

	if resolved != "" {
		data, readErr := os.ReadFile(resolved)
		if readErr != nil {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
		if isEncryptedPath(resolved) {
			vp.SetConfigType(configTypeFromPath(resolved))
			key := os.Getenv("TDB_CONFIG_KEY")
			if key == "" {
				key = vp.GetString("global.config_passphrase")
			}
			if key == "" {
				return nil, errors.New("config file is encrypted but TDB_CONFIG_KEY is not set")
			}
			plain, decErr := decryptConfig(data, key)
			if decErr != nil {
				return nil, fmt.Errorf("decrypt config: %w", decErr)
			}
			if err := vp.ReadConfig(bytes.NewReader(plain)); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		} else {
			vp.SetConfigFile(resolved)
			if err := vp.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	expandEnv(&cfg)
	ApplyPostLoadDefaults(&cfg)
	return &cfg, nil
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if envPath := os.Getenv("TDB_CONFIG"); envPath != "" {
		return envPath, nil
	}

	candidates := []string{
		"tdb.yaml",
		"tdb.yml",
		"tdb.toml",
		"tdb.json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	configDir, err := os.UserConfigDir()
	if err == nil {
		base := filepath.Join(configDir, "tdb")
		for _, c := range candidates {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
		for _, c := range []string{"tdb.yaml.enc", "tdb.yml.enc", "tdb.toml.enc"} {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}

	return "", nil
}

func isEncryptedPath(path string) bool {
	return strings.HasSuffix(path, ".enc") || strings.HasSuffix(path, ".encrypted")
}

func configTypeFromPath(path string) string {
	switch {
	case strings.HasSuffix(path, ".toml") || strings.HasSuffix(path, ".toml.enc") || strings.HasSuffix(path, ".toml.encrypted"):
		return "toml"
	case strings.HasSuffix(path, ".json") || strings.HasSuffix(path, ".json.enc") || strings.HasSuffix(path, ".json.encrypted"):
		return "json"
	default:
		return "yaml"
	}
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("global.log_level", "info")
	vp.SetDefault("global.log_format", "console")
	vp.SetDefault("global.debug", false)
	vp.SetDefault("global.syslog", false)
	vp.SetDefault("global.syslog_tag", "todoist-backup-download")
	vp.SetDefault("global.operation_timeout", "2h")
	// Token is bound explicitly so AutomaticEnv picks it up without a file.
	vp.SetDefault("todoist.token", "")
	vp.SetDefault("todoist.api_url", DefaultAPIURL)
	vp.SetDefault("todoist.download_timeout", "10s")
	vp.SetDefault("todoist.chunk_size", DefaultChunkSize)
	vp.SetDefault("paths.backup_dir", "./backups")
	vp.SetDefault("paths.archive_dir", "")
	vp.SetDefault("paths.manifest_name", DefaultManifestName)
	vp.SetDefault("recompress.format", "xz")
	vp.SetDefault("recompress.level", 0)
	vp.SetDefault("mirror.enabled", false)
	vp.SetDefault("mirror.backend", "local")
	vp.SetDefault("mirror.retry_count", 3)
	vp.SetDefault("mirror.retry_backoff", "10s")
	vp.SetDefault("schedule.cron", "")
}

// ApplyPostLoadDefaults fills values that depend on other fields.
func ApplyPostLoadDefaults(cfg *Config) {
	if cfg.Global.Debug {
		cfg.Global.LogLevel = "debug"
	}
	if cfg.Global.OperationTimeout == 0 {
		cfg.Global.OperationTimeout = 2 * time.Hour
	}
	if cfg.Todoist.APIURL == "" {
		cfg.Todoist.APIURL = DefaultAPIURL
	}
	if cfg.Todoist.DownloadTimeout == 0 {
		cfg.Todoist.DownloadTimeout = 10 * time.Second
	}
	if cfg.Todoist.ChunkSize <= 0 {
		cfg.Todoist.ChunkSize = DefaultChunkSize
	}
	if cfg.Paths.ManifestName == "" {
		cfg.Paths.ManifestName = DefaultManifestName
	}
	if cfg.Paths.ArchiveDir == "" && cfg.Paths.BackupDir != "" {
		cfg.Paths.ArchiveDir = filepath.Join(cfg.Paths.BackupDir, DefaultArchiveDir)
	}
	if cfg.Global.LockFile == "" && cfg.Paths.BackupDir != "" {
		cfg.Global.LockFile = DefaultLockFile(cfg.Paths.BackupDir)
	}
	if cfg.Mirror.RetryBackoff == 0 {
		cfg.Mirror.RetryBackoff = 10 * time.Second
	}
	cfg.Recompress.Format = strings.ToLower(cfg.Recompress.Format)
	cfg.Mirror.Backend = strings.ToLower(cfg.Mirror.Backend)
}

func expandEnv(cfg *Config) {
	cfg.Todoist.Token = os.ExpandEnv(cfg.Todoist.Token)
	cfg.Paths.BackupDir = os.ExpandEnv(cfg.Paths.BackupDir)
	cfg.Paths.ArchiveDir = os.ExpandEnv(cfg.Paths.ArchiveDir)
	cfg.Mirror.EncryptionKey = os.ExpandEnv(cfg.Mirror.EncryptionKey)
	cfg.Mirror.S3.AccessKey = os.ExpandEnv(cfg.Mirror.S3.AccessKey)
	cfg.Mirror.S3.SecretKey = os.ExpandEnv(cfg.Mirror.S3.SecretKey)
	cfg.Mirror.S3.SessionToken = os.ExpandEnv(cfg.Mirror.S3.SessionToken)
	cfg.Notifications = expandNotificationEnv(cfg.Notifications)
}

func expandNotificationEnv(cfg NotificationsConfig) NotificationsConfig {
	for i := range cfg.Webhooks {
		cfg.Webhooks[i].URL = os.ExpandEnv(cfg.Webhooks[i].URL)
	}
	for i := range cfg.Mattermost {
		cfg.Mattermost[i].URL = os.ExpandEnv(cfg.Mattermost[i].URL)
	}
	for i := range cfg.Matrix {
		cfg.Matrix[i].ServerURL = os.ExpandEnv(cfg.Matrix[i].ServerURL)
		cfg.Matrix[i].AccessToken = os.ExpandEnv(cfg.Matrix[i].AccessToken)
		cfg.Matrix[i].RoomID = os.ExpandEnv(cfg.Matrix[i].RoomID)
	}
	return cfg
}

func decryptConfig(ciphertext []byte, key string) ([]byte, error) {
	parsed, err := cryptoutil.ParseKey(key)
	if err != nil {
		return nil, err
	}
	return cryptoutil.DecryptConfig(ciphertext, parsed)
}

// DefaultLockFile derives a per-backup-dir lock path in the OS temp dir, so
// taking the lock never creates anything under the backup dir itself.
func DefaultLockFile(backupDir string) string {
	if abs, err := filepath.Abs(backupDir); err == nil {
		backupDir = abs
	}
	sum := sha256.Sum256([]byte(filepath.Clean(backupDir)))
	return filepath.Join(os.TempDir(), "tdb-"+hex.EncodeToString(sum[:8])+".lock")
}
