package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// -----------------------------------------------------------------------------

// Logger is the application-wide leveled logger.
// All components log through it using printf-style calls, prefixing messages
// with their own name ("<owner> : message").
type Logger struct {
	zl zerolog.Logger
}

// -----------------------------------------------------------------------------

// NewLogger creates a new Logger instance writing to stderr.
// The level string comes from the loaded configuration; an empty or unknown
// level falls back to "info".
func NewLogger(level string, name string) *Logger {
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Str("app", name).
		Logger()

	return &Logger{zl: zl}
}

// -----------------------------------------------------------------------------

// NewNop creates a logger that discards everything. Used in tests.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// -----------------------------------------------------------------------------

// Debug logs a debug-level message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.zl.Debug().Msgf(format, args...)
}

// -----------------------------------------------------------------------------

// Info logs an info-level message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.zl.Info().Msgf(format, args...)
}

// -----------------------------------------------------------------------------

// Warning logs a warning-level message.
func (l *Logger) Warning(format string, args ...interface{}) {
	l.zl.Warn().Msgf(format, args...)
}

// -----------------------------------------------------------------------------

// Error logs an error-level message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.zl.Error().Msgf(format, args...)
}

// -----------------------------------------------------------------------------

// Critical logs a fatal-severity message without exiting; the caller decides
// whether to terminate the process.
func (l *Logger) Critical(format string, args ...interface{}) {
	l.zl.WithLevel(zerolog.FatalLevel).Msgf(format, args...)
}

// -----------------------------------------------------------------------------

// parseLevel maps a configuration string to a zerolog level.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warning", "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
