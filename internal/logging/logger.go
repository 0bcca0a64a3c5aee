// Package logging builds the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// New returns a logger writing to w.
// level: "debug", "info", "warn", "error" (defaults to "info")
// format: "json" or "console" (defaults to "console")
func New(w io.Writer, level, format string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if !strings.EqualFold(format, "json") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat, NoColor: true}
	}
	return zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// ParseLevel maps a config string to a zerolog level.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithIdentity returns a logger with the participant identity attached.
func WithIdentity(l zerolog.Logger, identity string) zerolog.Logger {
	return l.With().Str("identity", identity).Logger()
}

// WithTransport returns a logger with the transport name attached.
func WithTransport(l zerolog.Logger, transport string) zerolog.Logger {
	return l.With().Str("transport", transport).Logger()
}

// Dur is a shorthand so call sites log durations in a consistent unit.
func Dur(e *zerolog.Event, key string, d time.Duration) *zerolog.Event {
	return e.Str(key, d.String())
}
