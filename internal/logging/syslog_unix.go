//go:build !windows && !plan9

package logging

import (
	"log/syslog"

	"github.com/rs/zerolog"
)

// syslogWriter dials the local daemon when address is empty, otherwise a
// unixgram socket at address (for example /dev/log).
func syslogWriter(address, tag string) (zerolog.LevelWriter, error) {
	network := ""
	if address != "" {
		network = "unixgram"
	}
	w, err := syslog.Dial(network, address, syslog.LOG_INFO|syslog.LOG_DAEMON, tag)
	if err != nil {
		return nil, err
	}
	return zerolog.SyslogLevelWriter(w), nil
}
