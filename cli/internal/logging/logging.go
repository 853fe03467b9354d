package logging

import (
	"io"
	"log/slog"
	"os"
)

// Init installs the default slog logger. LOG_LEVEL picks the level; verbose
// forces debug regardless of the environment.
func Init(verbose bool) {
	level := ParseLevel(os.Getenv("LOG_LEVEL"))
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(New(os.Stderr, level))
}

// New builds the text logger used across the CLI.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(
		slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: level,
		}),
	)
}

// ParseLevel maps LOG_LEVEL values onto slog levels.
// Production only shows errors.
func ParseLevel(l string) slog.Level {
	switch l {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// Discard is a logger that drops everything, for tests and quiet callers.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
