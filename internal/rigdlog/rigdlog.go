// Package rigdlog is the shared zerolog setup for every rigd binary: a
// single console-writer logger with a configurable level, mirroring how
// the CLI it was grounded on wires its own logger package.
package rigdlog

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().
		Timestamp().
		Logger()
}

// SetLevel parses level ("debug", "info", "warn", "error") and applies it
// globally. An unrecognized level falls back to info rather than erroring,
// since it is almost always driven by a flag or env var at startup.
func SetLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}

func Debug() *zerolog.Event { return log.Debug() }
func Info() *zerolog.Event  { return log.Info() }
func Warn() *zerolog.Event  { return log.Warn() }
func Error() *zerolog.Event { return log.Error() }
func Fatal() *zerolog.Event { return log.Fatal() }

// For returns a logger with a "component" field set, for a subsystem (the
// device driver for one rig, the rigctld listener, ...) to derive its own
// child logger from.
func For(component string) *zerolog.Logger {
	l := log.Logger.With().Str("component", component).Logger()
	return &l
}
