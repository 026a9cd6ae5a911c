// Package telemetry provides the observability stack for the bootstrap
// engine: structured logging via zerolog, optional OpenTelemetry tracing of
// phases and package installs, and Prometheus metrics for service mode.
package telemetry

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a zerolog logger with component scoping. It is passed
// explicitly to the status store, fetcher, installer, and orchestrator at
// construction; nothing logs through ambient process state.
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a logger from the given configuration.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	var writer io.Writer
	switch cfg.Output {
	case "", "stderr":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		writer = file
	}

	if cfg.Format == "console" {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}
	}

	zlog := zerolog.New(writer).With().Timestamp().Logger().Level(parseLevel(cfg.Level))
	return &Logger{Logger: zlog}, nil
}

// Nop returns a logger that discards everything (tests).
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// Component returns a child logger tagged with a component name.
func (l *Logger) Component(name string) *Logger {
	return &Logger{Logger: l.With().Str("component", name).Logger()}
}

// WithRunID returns a child logger tagged with the run identifier.
func (l *Logger) WithRunID(runID string) *Logger {
	return &Logger{Logger: l.With().Str("run_id", runID).Logger()}
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
