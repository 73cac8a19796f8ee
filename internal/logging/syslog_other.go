//go:build windows || plan9

package logging

import (
	"errors"

	"github.com/rs/zerolog"
)

func syslogWriter(string, string) (zerolog.LevelWriter, error) {
	return nil, errors.New("syslog is not supported on this platform")
}
