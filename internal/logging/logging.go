// Package logging provides the Orchestrator's logging infrastructure built on
// charmbracelet/log. It wraps the library to provide a centralized logger
// factory with component prefixes, level configuration, and stderr-only
// output, so that stdout stays free for anything a caller wants to pipe.
package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Level aliases for charmbracelet/log levels, re-exported so callers don't
// need to import charmbracelet/log directly.
const (
	LevelDebug = log.DebugLevel
	LevelInfo  = log.InfoLevel
	LevelWarn  = log.WarnLevel
	LevelError = log.ErrorLevel
)

// Setup configures the global logging defaults. Call once during process
// startup, before any call to New, since charmbracelet/log child loggers
// copy state at creation time.
func Setup(verbose, quiet, jsonFormat bool) {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	if quiet {
		level = log.ErrorLevel
	}

	log.SetLevel(level)
	log.SetOutput(os.Stderr)
	log.SetTimeFormat("2006-01-02T15:04:05Z07:00")
	log.SetReportTimestamp(true)

	if jsonFormat {
		log.SetFormatter(log.JSONFormatter)
	} else {
		log.SetFormatter(log.TextFormatter)
	}
}

// New creates a logger with the given component prefix, e.g. logging.New("poller").
// An empty prefix produces a logger without one.
func New(component string) *log.Logger {
	return log.WithPrefix(component)
}

// SetOutput overrides the output writer for the default logger. Primarily
// useful in tests, where output can be captured with a bytes.Buffer.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}
