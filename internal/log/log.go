// Package log provides structured logging for go-rover.
// It wraps slog with sensible defaults for field deployments.
package log

import (
	"log/slog"
	"os"
	"sync"
)

var (
	logger *slog.Logger
	once   sync.Once
)

// Init initializes the global logger with the specified level.
// Valid levels: "debug", "info", "warn", "error"
func Init(level string) {
	once.Do(func() {
		var lvl slog.Level
		switch level {
		case "debug":
			lvl = slog.LevelDebug
		case "warn":
			lvl = slog.LevelWarn
		case "error":
			lvl = slog.LevelError
		default:
			lvl = slog.LevelInfo
		}

		opts := &slog.HandlerOptions{
			Level: lvl,
		}

		// JSON on the rover itself so the base station can ingest the
		// mission timeline; text for development.
		if os.Getenv("GO_ENV") == "production" {
			logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
		} else {
			logger = slog.New(slog.NewTextHandler(os.Stdout, opts))
		}

		slog.SetDefault(logger)
	})
}

// L returns the global logger instance.
func L() *slog.Logger {
	if logger == nil {
		Init("info")
	}
	return logger
}

// Error logs at error level through the global logger. Startup code logs
// with this before any component logger exists.
func Error(msg string, args ...any) {
	L().Error(msg, args...)
}

// Component returns a logger tagged with a component name. Every loop and
// client logs through one of these so failures can be traced back to the
// owning subsystem.
func Component(name string) *slog.Logger {
	return L().With("component", name)
}
