package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/rowjay/todoist-backup/internal/app"
	"github.com/rowjay/todoist-backup/internal/config"
	"github.com/rowjay/todoist-backup/internal/logging"
	"github.com/rowjay/todoist-backup/internal/notify"
	"github.com/rowjay/todoist-backup/internal/storage"
	"github.com/rowjay/todoist-backup/internal/todoist"
	"github.com/rowjay/todoist-backup/internal/version"
)

type rootFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	Debug      bool
	Syslog     bool
	Token      string
	BackupDir  string
	ArchiveDir string
	Format     string
}

func main() {
	root := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "tdb",
		Short:         "Download, archive and recompress Todoist backups",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(root)
		},
	}

	rootCmd.PersistentFlags().StringVar(&root.ConfigPath, "config", "", "Path to config file (yaml/toml/json or .enc)")
	rootCmd.PersistentFlags().StringVar(&root.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&root.LogFormat, "log-format", "", "Log format (json, console)")
	rootCmd.PersistentFlags().BoolVar(&root.Debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&root.Syslog, "syslog", false, "Send logs to syslog")
	rootCmd.PersistentFlags().StringVar(&root.Token, "token", "", "Todoist API token")
	rootCmd.PersistentFlags().StringVar(&root.BackupDir, "backup-dir", "", "Directory holding the live backups")
	rootCmd.PersistentFlags().StringVar(&root.ArchiveDir, "archive-dir", "", "Directory for retired backups (default <backup-dir>/archive)")
	rootCmd.PersistentFlags().StringVar(&root.Format, "format", "", "Long-term format (xz, zstd, gzip)")

	rootCmd.AddCommand(newRunCmd(root))
	rootCmd.AddCommand(newFetchCmd(root))
	rootCmd.AddCommand(newArchiveCmd(root))
	rootCmd.AddCommand(newRecompressCmd(root))
	rootCmd.AddCommand(newMirrorCmd(root))
	rootCmd.AddCommand(newStatusCmd(root))
	rootCmd.AddCommand(newValidateCmd(root))
	rootCmd.AddCommand(newScheduleCmd(root))
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRunCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Fetch, archive, recompress and mirror in one pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(root)
		},
	}
}

func runPipeline(root *rootFlags) error {
	svc, logger, err := setup(root, true)
	if err != nil {
		return err
	}
	ctx, cancel := operationContext(svc.Cfg)
	defer cancel()

	report, err := svc.Run(ctx)
	if err != nil {
		return err
	}
	if n := report.Failures(); n > 0 {
		logger.Warn().Int("failures", n).Msg("run finished with per-item failures")
	}
	return nil
}

func newFetchCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Refresh the backup list and download missing backups",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, logger, err := setup(root, true)
			if err != nil {
				return err
			}
			ctx, cancel := operationContext(svc.Cfg)
			defer cancel()
			report, err := svc.Fetch(ctx)
			if err != nil {
				return err
			}
			logger.Info().
				Int("catalog", len(report.Catalog)).
				Int("downloaded", report.Download.Downloaded).
				Str("bytes", humanize.Bytes(uint64(report.Download.Bytes))).
				Msg("fetch completed")
			return nil
		},
	}
}

func newArchiveCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "archive",
		Short: "Move backups that left the Todoist list into the archive directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := setup(root, true)
			if err != nil {
				return err
			}
			ctx, cancel := operationContext(svc.Cfg)
			defer cancel()
			res, err := svc.Archive(ctx)
			if err != nil {
				return err
			}
			for _, name := range res.Moved {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func newRecompressCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "recompress",
		Short: "Repack archived zip backups into the long-term format",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, logger, err := setup(root, false)
			if err != nil {
				return err
			}
			ctx, cancel := operationContext(svc.Cfg)
			defer cancel()
			res, err := svc.Recompress(ctx)
			if err != nil {
				return err
			}
			logger.Info().Int("recompressed", res.Recompressed).Int("failed", res.Failed).Msg("recompress completed")
			return nil
		},
	}
}

func newMirrorCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mirror",
		Short: "Upload recompressed archives to the configured mirror",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := setup(root, false)
			if err != nil {
				return err
			}
			ctx, cancel := operationContext(svc.Cfg)
			defer cancel()
			res, err := svc.MirrorArchives(ctx)
			if err != nil {
				return err
			}
			for _, name := range res.Uploaded {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func newStatusCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show local backup state",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := setup(root, false)
			if err != nil {
				return err
			}
			ctx, cancel := operationContext(svc.Cfg)
			defer cancel()
			report, err := svc.Status(ctx)
			if err != nil {
				return err
			}
			printStatus(svc.Cfg, report)
			return nil
		},
	}
}

func printStatus(cfg *config.Config, report *app.StatusReport) {
	fmt.Printf("backup dir:\t%s\n", cfg.Paths.BackupDir)
	fmt.Printf("archive dir:\t%s\n", cfg.Paths.ArchiveDir)
	fmt.Printf("live backups:\t%d (%d listed)\n", len(report.Live), len(report.Listed))
	for _, name := range report.Untracked {
		fmt.Printf("  untracked:\t%s\n", name)
	}
	fmt.Printf("pending:\t%d\n", len(report.Pending))
	var packed uint64
	for _, e := range report.Packed {
		packed += uint64(e.Size)
	}
	fmt.Printf("packed:\t\t%d (%s)\n", len(report.Packed), humanize.Bytes(packed))
	if report.Mirrored >= 0 {
		fmt.Printf("mirrored:\t%d\n", report.Mirrored)
	}
}

func newValidateCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration, tools, directories and the Todoist token",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, logger, err := setup(root, true)
			if err != nil {
				return err
			}
			ctx, cancel := operationContext(svc.Cfg)
			defer cancel()
			if err := svc.Validate(ctx); err != nil {
				return err
			}
			logger.Info().Msg("validation succeeded")
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	var input string
	var output string
	var key string
	var force bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config utilities",
	}

	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				key = os.Getenv("TDB_CONFIG_KEY")
			}
			if input == "" || output == "" || key == "" {
				return fmt.Errorf("--input, --output, and --key (or TDB_CONFIG_KEY) are required")
			}
			return config.EncryptConfigFile(input, output, key, force)
		},
	}
	encrypt.Flags().StringVar(&input, "input", "", "Input config file")
	encrypt.Flags().StringVar(&output, "output", "", "Output encrypted config file")
	encrypt.Flags().StringVar(&key, "key", "", "Encryption key (base64 or hex)")
	encrypt.Flags().BoolVar(&force, "force", false, "Overwrite an existing output file")

	cmd.AddCommand(encrypt)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tdb %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

// setup loads and validates the config, configures logging and wires the
// application. requireToken is false for commands that never reach the API.
func setup(root *rootFlags, requireToken bool) (*app.App, zerolog.Logger, error) {
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger, sysErr := logging.Configure(logging.Options{
		Level:         cfg.Global.LogLevel,
		Format:        cfg.Global.LogFormat,
		Syslog:        cfg.Global.Syslog,
		SyslogAddress: cfg.Global.SyslogAddress,
		SyslogTag:     cfg.Global.SyslogTag,
	})
	if sysErr != nil {
		logger.Warn().Err(sysErr).Msg("syslog unavailable, logging to stdout")
	}
	if err := cfg.Validate(requireToken); err != nil {
		return nil, logger, err
	}

	fsys := afero.NewOsFs()
	var mirror storage.Storage
	if cfg.Mirror.Enabled {
		if mirror, err = storage.New(cfg.Mirror, fsys); err != nil {
			return nil, logger, err
		}
	}
	client := todoist.NewClient(cfg.Todoist.APIURL, cfg.Todoist.Token, cfg.Todoist.UserAgent, logger)
	return app.New(cfg, fsys, client, mirror, logger, notify.FromConfig(cfg.Notifications)), logger, nil
}

func operationContext(cfg *config.Config) (context.Context, context.CancelFunc) {
	timeout := cfg.Global.OperationTimeout
	if timeout <= 0 {
		timeout = 2 * time.Hour
	}
	return context.WithTimeout(context.Background(), timeout)
}

func loadConfig(root *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(root.ConfigPath)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, root)
	return cfg, nil
}

func applyOverrides(cfg *config.Config, root *rootFlags) {
	if root.LogLevel != "" {
		cfg.Global.LogLevel = root.LogLevel
	}
	if root.LogFormat != "" {
		cfg.Global.LogFormat = root.LogFormat
	}
	if root.Debug {
		cfg.Global.Debug = true
	}
	if root.Syslog {
		cfg.Global.Syslog = true
	}
	if root.Token != "" {
		cfg.Todoist.Token = root.Token
	}
	if root.BackupDir != "" {
		// Paths derived from the old backup dir follow it to the new one.
		if cfg.Paths.ArchiveDir == filepath.Join(cfg.Paths.BackupDir, config.DefaultArchiveDir) {
			cfg.Paths.ArchiveDir = ""
		}
		if cfg.Global.LockFile == config.DefaultLockFile(cfg.Paths.BackupDir) {
			cfg.Global.LockFile = ""
		}
		cfg.Paths.BackupDir = root.BackupDir
	}
	if root.ArchiveDir != "" {
		cfg.Paths.ArchiveDir = root.ArchiveDir
	}
	if root.Format != "" {
		cfg.Recompress.Format = root.Format
	}
	config.ApplyPostLoadDefaults(cfg)
}
