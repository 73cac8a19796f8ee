package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Options struct {
	Level         string
	Format        string // json or console
	Syslog        bool
	SyslogAddress string
	SyslogTag     string
	Out           io.Writer // defaults to stdout
}

// Configure builds a zerolog logger from config values. When syslog
// forwarding is requested but unavailable the logger falls back to Out and
// the returned warning explains why.
func Configure(opts Options) (zerolog.Logger, error) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	lvl, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		lvl = zerolog.InfoLevel
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	var sysErr error
	if opts.Syslog {
		w, err := syslogWriter(opts.SyslogAddress, opts.SyslogTag)
		if err == nil {
			return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
		}
		sysErr = err
	}

	if strings.EqualFold(opts.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), sysErr
}
