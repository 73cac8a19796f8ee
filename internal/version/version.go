package version

// Set via -ldflags "-X github.com/rowjay/todoist-backup/internal/version.Version=..." at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
