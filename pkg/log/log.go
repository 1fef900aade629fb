// Package log configures the process-wide slog logger.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(logLevel string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
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

// NewHandler returns a JSON handler for format "json" and a text handler otherwise.
func NewHandler(w io.Writer, logLevel, format string) slog.Handler {
	options := &slog.HandlerOptions{Level: ParseLevel(logLevel)}

	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, options)
	}

	return slog.NewTextHandler(w, options)
}

// Setup installs the default logger writing to stderr. An optional format selects
// the handler; text is used when it is omitted.
func Setup(logLevel string, format ...string) {
	var handlerFormat string
	if len(format) > 0 {
		handlerFormat = format[0]
	}

	slog.SetDefault(slog.New(NewHandler(os.Stderr, logLevel, handlerFormat)))
}

// WithModule returns the default logger tagged with the component name. Call it after Setup.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
