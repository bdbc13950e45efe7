// Package logging builds the daemon's slog.Logger on top of charmbracelet/log.
package logging

import (
	"io"
	"log/slog"
	"time"

	"github.com/charmbracelet/log"

	"github.com/austinkregel/local-media/mprisd/internal/config"
)

// SetupLogger creates the process logger from the logger settings.
func SetupLogger(w io.Writer, cfg config.LoggerConfig) *slog.Logger {
	var formatter log.Formatter
	switch cfg.Format {
	case "json":
		formatter = log.JSONFormatter
	case "text":
		formatter = log.TextFormatter
	default:
		formatter = log.LogfmtFormatter
	}

	handler := log.NewWithOptions(w, log.Options{
		ReportCaller:    cfg.Level == "debug",
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Prefix:          "mprisd",
		Formatter:       formatter,
		Level:           ParseLevel(cfg.Level),
	})
	return slog.New(handler)
}

// ParseLevel maps a configured level name to a log level. Unknown names
// fall back to info.
func ParseLevel(level string) log.Level {
	switch level {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// Component returns a child logger tagged with a component name, the
// structured equivalent of a "[TAG]" log prefix.
func Component(logger *slog.Logger, name string) *slog.Logger {
	return logger.With("component", name)
}
