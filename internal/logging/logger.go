// Package logging provides structured logging for tga-worker.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// NewLogger returns the process logger. It writes to stderr; format is
// "json", "text" or "auto" (text on a terminal, JSON otherwise) and level is
// one of "debug", "info", "warn" or "error". Verbose forces debug level and
// adds source locations.
func NewLogger(format, level string, verbose bool) *slog.Logger {
	lvl := parseLevel(level)
	if verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(newHandler(os.Stderr, resolveFormat(format, os.Stderr), &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}))
}

// NewLoggerWithWriter returns a logger writing to w. Any format other than
// "json" produces text. Useful for testing and for discarding output while
// the dashboard owns the terminal.
func NewLoggerWithWriter(w io.Writer, format, level string) *slog.Logger {
	if !strings.EqualFold(format, "json") {
		format = "text"
	}
	return slog.New(newHandler(w, strings.ToLower(format), &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// resolveFormat maps "auto" to text or json depending on whether f is a terminal.
func resolveFormat(format string, f *os.File) string {
	switch strings.ToLower(format) {
	case "text":
		return "text"
	case "auto":
		if f != nil && IsTerminal(f) {
			return "text"
		}
		return "json"
	default:
		return "json"
	}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// parseLevel converts a string level to slog.Level.
func parseLevel(level string) slog.Level {
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

// SetDefault sets the default logger for the slog package.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
