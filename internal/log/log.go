// Package log provides structured logging for go-haarcam.
// It wraps slog with sensible defaults for a capture pipeline.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	logger *slog.Logger
	once   sync.Once
)

// ParseLevel maps "debug", "info", "warn" and "error" to a slog level.
// Unknown values fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// New builds a logger writing to w. Format "json" selects the JSON handler,
// anything else the text handler.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Init initializes the global logger. Only the first call has an effect.
// JSON output is used when format is "json" or GO_ENV=production.
func Init(level, format string) {
	once.Do(func() {
		if os.Getenv("GO_ENV") == "production" {
			format = "json"
		}
		logger = New(os.Stderr, level, format).With("app", "haarcam")
		slog.SetDefault(logger)
	})
}

// L returns the global logger instance.
func L() *slog.Logger {
	if logger == nil {
		Init("info", "text")
	}
	return logger
}

// Component returns a logger tagged with a component name.
func Component(name string) *slog.Logger {
	return L().With("component", name)
}
