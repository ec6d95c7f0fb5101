// Package sysutil holds process bootstrap helpers for the allergen daemon:
// global log level, the root logger, and environment flag parsing.
package sysutil

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// SetLogLevel configures the global zerolog level. Supported values
// (case-insensitive): debug, info, warn|warning, error, fatal, panic.
// Anything else means info.
func SetLogLevel(lvl string) {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "panic":
		zerolog.SetGlobalLevel(zerolog.PanicLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// NewLogger builds the root logger writing to w, tagged with service and
// version. pretty selects the human console format used in development;
// noColor drops ANSI colors from it.
func NewLogger(w io.Writer, service, version string, pretty, noColor bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: noColor}
	}
	return zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Logger()
}

// IsTruthy reports whether an environment value should be considered true.
// Accepted values (case-insensitive): "1", "true", "yes", "y", "on".
func IsTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// FirstNonEmpty returns the first value that is not blank, unmodified, or ""
// when all are blank.
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
