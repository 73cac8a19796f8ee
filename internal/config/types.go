package config

import "time"

// Config is the root configuration schema.
type Config struct {
	Global        GlobalConfig        `mapstructure:"global"`
	Todoist       TodoistConfig       `mapstructure:"todoist"`
	Paths         PathsConfig         `mapstructure:"paths"`
	Recompress    RecompressConfig    `mapstructure:"recompress"`
	Mirror        MirrorConfig        `mapstructure:"mirror"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Schedule      ScheduleConfig      `mapstructure:"schedule"`
}

type GlobalConfig struct {
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"` // json or console
	Debug            bool          `mapstructure:"debug"`
	Syslog           bool          `mapstructure:"syslog"`
	SyslogAddress    string        `mapstructure:"syslog_address"` // empty means the local daemon
	SyslogTag        string        `mapstructure:"syslog_tag"`
	LockFile         string        `mapstructure:"lock_file"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	ConfigPassphrase string        `mapstructure:"config_passphrase"` // optional; may come from env
}

type TodoistConfig struct {
	Token           string        `mapstructure:"token"`
	APIURL          string        `mapstructure:"api_url"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	ChunkSize       int           `mapstructure:"chunk_size"`
	UserAgent       string        `mapstructure:"user_agent"`
}

type PathsConfig struct {
	BackupDir    string `mapstructure:"backup_dir"`
	ArchiveDir   string `mapstructure:"archive_dir"` // defaults to <backup_dir>/archive
	ManifestName string `mapstructure:"manifest_name"`
}

type RecompressConfig struct {
	Format string `mapstructure:"format"` // xz, zstd, gzip
	Level  int    `mapstructure:"level"`  // 0 uses the codec default
	// ScratchDir holds the temporary extraction directories; empty means the OS temp dir.
	ScratchDir string `mapstructure:"scratch_dir"`
}

type MirrorConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Backend       string        `mapstructure:"backend"` // local, s3
	Prefix        string        `mapstructure:"prefix"`
	Encryption    bool          `mapstructure:"encryption"`
	EncryptionKey string        `mapstructure:"encryption_key"`
	RetryCount    int           `mapstructure:"retry_count"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	Local         LocalStore    `mapstructure:"local"`
	S3            S3Store       `mapstructure:"s3"`
}

type LocalStore struct {
	Path string `mapstructure:"path"`
}

type S3Store struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKey       string `mapstructure:"access_key"`
	SecretKey       string `mapstructure:"secret_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	SessionToken    string `mapstructure:"session_token"`
	TLSInsecureSkip bool   `mapstructure:"tls_insecure_skip"`
}

type NotificationsConfig struct {
	Webhooks   []WebhookConfig  `mapstructure:"webhooks"`
	Mattermost []MattermostHook `mapstructure:"mattermost"`
	Matrix     []MatrixConfig   `mapstructure:"matrix"`
}

type WebhookConfig struct {
	Name    string            `mapstructure:"name"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

type MattermostHook struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

type MatrixConfig struct {
	Name        string `mapstructure:"name"`
	ServerURL   string `mapstructure:"server_url"`
	AccessToken string `mapstructure:"access_token"`
	RoomID      string `mapstructure:"room_id"`
}

type ScheduleConfig struct {
	Cron       string `mapstructure:"cron"` // standard 5-field expression
	RunOnStart bool   `mapstructure:"run_on_start"`
}
