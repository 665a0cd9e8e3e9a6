package utils

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// configuredLevel is the level InitLogger was called with, restored by
// SetQuietMode(false) after a quiet period ends.
var configuredLevel = zerolog.InfoLevel

// InitLogger configures the global zerolog logger used across the
// process. Every component logger returned by GetLogger derives from
// this one, so a single call at startup controls verbosity everywhere.
func InitLogger(debug bool) {
	configuredLevel = zerolog.InfoLevel
	if debug {
		configuredLevel = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(configuredLevel)
	writer := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.DateTime,
	}
	log.Logger = zerolog.New(writer).With().Timestamp().Logger()
}

// SetQuietMode raises the global log level to Warn while a live
// terminal display (internal/output.Manager) is redrawing progress
// lines every tick, so routine Info/Debug messages don't scroll past
// it; false restores the level InitLogger was called with. Mirrors the
// same problem the "includeStdout" gate in comparable CLI downloaders'
// loggers solves -- keeping log verbosity from fighting the progress
// bar for the same terminal -- but as a level change rather than a
// per-call destination check, since this module's logger and progress
// display already write to different streams (stderr vs stdout) and
// only need to stay out of each other's way at high verbosity.
func SetQuietMode(quiet bool) {
	if quiet {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
		return
	}
	zerolog.SetGlobalLevel(configuredLevel)
}

// GetLogger returns a child logger tagged with the given component
// name, e.g. "engine" or "config".
func GetLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// SetLogOutput redirects the global logger to w, used by tests that
// want to capture or silence log output.
func SetLogOutput(w io.Writer) {
	writer := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(writer).With().Timestamp().Logger()
}
