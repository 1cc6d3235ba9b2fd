package config

import (
	"io"
	"strings"

	"github.com/effective-security/xlog"
)

// SetupLogging sets the log output and the global log level,
// an empty level defaults to INFO.
func SetupLogging(w io.Writer, level string) {
	xlog.SetFormatter(xlog.NewStringFormatter(w))

	switch strings.ToUpper(level) {
	case "DEBUG":
		xlog.SetGlobalLogLevel(xlog.DEBUG)
	case "WARNING":
		xlog.SetGlobalLogLevel(xlog.WARNING)
	case "ERROR":
		xlog.SetGlobalLogLevel(xlog.ERROR)
	default:
		xlog.SetGlobalLogLevel(xlog.INFO)
	}
}
