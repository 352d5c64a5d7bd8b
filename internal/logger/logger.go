// Package logger sets up structured logging using Go 1.21's log/slog.
// It installs a JSON handler with service-level context so both slog and the
// component-tagged standard log output land in one stream.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Init creates a JSON logger for the given service and installs it as the
// slog default.
func Init(service, level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)
	slog.SetDefault(logger)

	return logger
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
