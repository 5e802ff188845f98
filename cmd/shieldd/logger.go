// logger.go - Structured logging for the shielded-pool daemon
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	gnarklogger "github.com/consensys/gnark/logger"
	"github.com/rs/zerolog"
)

// Logger bundles the application logger with an optional audit trail.
type Logger struct {
	zerolog.Logger
	audit *zerolog.Logger
	files []*os.File
}

// parseLevel maps debug|info|warn|error|fatal, defaulting to info.
func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger writes human-readable lines to console and JSON lines to
// logFile. auditFile, when set, receives Audit events only. gnark's own
// compile and setup logs are routed through the same logger.
func NewLogger(console io.Writer, level, logFile, auditFile string) (*Logger, error) {
	l := &Logger{}
	writers := []io.Writer{zerolog.ConsoleWriter{Out: console, TimeFormat: time.DateTime}}

	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.files = append(l.files, file)
		writers = append(writers, file)
	}

	if auditFile != "" {
		file, err := os.OpenFile(auditFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		l.files = append(l.files, file)
		audit := zerolog.New(file).With().Timestamp().Str("log", "audit").Logger()
		l.audit = &audit
	}

	l.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(level)).
		With().Timestamp().Logger()
	gnarklogger.Set(l.With().Str("component", "gnark").Logger())
	return l, nil
}

// Close closes the logger and its files
func (l *Logger) Close() error {
	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.files = nil
	return first
}

// Audit records a security-relevant event.
func (l *Logger) Audit(event string, details map[string]any) {
	if l.audit == nil {
		return
	}
	l.audit.Log().Str("event", event).Fields(details).Send()
}
