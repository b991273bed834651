package logging

import (
	"io"
	"log/slog"
	"strings"
)

// LevelSilent sits above every standard level.
const LevelSilent = slog.Level(100)

// Format selects the handler used by NewLogger.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// NewLogger returns a logger writing to w at level in the given format.
func NewLogger(w io.Writer, level slog.Level, format Format) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewDiscardLogger creates a logger that drops everything. Useful in tests.
func NewDiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: LevelSilent}))
}

// ParseFormat maps a config value to a Format. Unknown values fall back to text.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatJSON)) {
		return FormatJSON
	}
	return FormatText
}

// LevelFromString converts debug/info/warn/error (any case) to a level.
// Unrecognised strings give info.
func LevelFromString(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "silent", "off", "none":
		return LevelSilent
	default:
		return slog.LevelInfo
	}
}

// LevelFromVerbosity converts CLI flags to a level:
// quiet silences everything, -v is info, -vv and more is debug, and
// otherwise base is kept.
func LevelFromVerbosity(verbosity int, quiet bool, base slog.Level) slog.Level {
	if quiet {
		return LevelSilent
	}
	switch {
	case verbosity <= 0:
		return base
	case verbosity == 1:
		return min(base, slog.LevelInfo)
	default:
		return slog.LevelDebug
	}
}
