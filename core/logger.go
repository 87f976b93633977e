package core

import (
	logging "github.com/ipfs/go-log/v2"
)

// Logger interface for structured logging
// Implementations can provide custom logging behavior (e.g., integration with logrus, zap, etc.)
type Logger interface {
	// Debug logs a debug message with optional fields
	Debug(msg string, fields ...Field)

	// Info logs an info message with optional fields
	Info(msg string, fields ...Field)

	// Warn logs a warning message with optional fields
	Warn(msg string, fields ...Field)

	// Error logs an error message with optional fields
	Error(msg string, fields ...Field)
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value any
}

// F creates a new Field with the given key and value
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// DefaultLogger writes through a go-log subsystem logger, so levels can be
// tuned per subsystem with logging.SetLogLevel or GOLOG_LOG_LEVEL.
type DefaultLogger struct {
	log *logging.ZapEventLogger
}

// NewDefaultLogger creates a logger for the "taskkit/<subsystem>" system.
func NewDefaultLogger(subsystem string) *DefaultLogger {
	name := "taskkit"
	if subsystem != "" {
		name += "/" + subsystem
	}
	return &DefaultLogger{log: logging.Logger(name)}
}

func (l *DefaultLogger) Debug(msg string, fields ...Field) { l.log.Debugw(msg, keyvals(fields)...) }
func (l *DefaultLogger) Info(msg string, fields ...Field)  { l.log.Infow(msg, keyvals(fields)...) }
func (l *DefaultLogger) Warn(msg string, fields ...Field)  { l.log.Warnw(msg, keyvals(fields)...) }
func (l *DefaultLogger) Error(msg string, fields ...Field) { l.log.Errorw(msg, keyvals(fields)...) }

func keyvals(fields []Field) []any {
	if len(fields) == 0 {
		return nil
	}
	kv := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		kv = append(kv, f.Key, f.Value)
	}
	return kv
}

// SetLogLevel sets the level of every taskkit logger ("debug", "info",
// "warn", "error").
func SetLogLevel(level string) error {
	return logging.SetLogLevelRegex("^taskkit", level)
}

// NoOpLogger is a logger that discards all log messages
// Useful for tests or when logging is not desired
type NoOpLogger struct{}

// NewNoOpLogger creates a new NoOpLogger
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Debug(msg string, fields ...Field) {}
func (l *NoOpLogger) Info(msg string, fields ...Field)  {}
func (l *NoOpLogger) Warn(msg string, fields ...Field)  {}
func (l *NoOpLogger) Error(msg string, fields ...Field) {}
