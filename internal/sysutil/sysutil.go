// Package sysutil holds process bootstrap helpers: the global zerolog setup
// and small environment utilities used by cmd/server.
package sysutil

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// SetLogLevel sets the global zerolog level from a name such as "debug" or
// "WARNING" and returns the level applied. Blank or unknown names mean info.
func SetLogLevel(name string) zerolog.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		name = "warn"
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return lvl
}

// NewLogger builds the process logger. pretty switches to a human-readable
// console writer; otherwise lines are JSON with sub-second RFC3339 times.
func NewLogger(w io.Writer, pretty bool, service, version string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}
	return zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Logger()
}

// FirstNonEmpty returns the first value that is not blank, unmodified.
func FirstNonEmpty(vals ...string) string {
	v, _ := lo.Find(vals, func(s string) bool { return strings.TrimSpace(s) != "" })
	return v
}
