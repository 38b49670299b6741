// Package observability defines shared logging primitives.
package observability

import (
	"fmt"
	"log"
	"strings"
)

// Logger captures structured logging behaviours shared across layers.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field represents a key/value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// F builds a logging field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

var defaultLogger Logger = noopLogger{}

// SetLogger overrides the global logger used by the system.
func SetLogger(logger Logger) {
	if logger == nil {
		defaultLogger = noopLogger{}
		return
	}
	defaultLogger = logger
}

// Log returns the current global logger instance.
func Log() Logger {
	return defaultLogger
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...Field) {}
func (noopLogger) Info(string, ...Field)  {}
func (noopLogger) Error(string, ...Field) {}

// NewStdLogger wraps a standard library logger with key=value field
// formatting. A nil base uses the process-wide default logger.
func NewStdLogger(base *log.Logger) Logger {
	if base == nil {
		base = log.Default()
	}
	return &stdLogger{base: base}
}

type stdLogger struct {
	base *log.Logger
}

func (l *stdLogger) Debug(msg string, fields ...Field) { l.write("DEBUG", msg, fields) }
func (l *stdLogger) Info(msg string, fields ...Field)  { l.write("INFO", msg, fields) }
func (l *stdLogger) Error(msg string, fields ...Field) { l.write("ERROR", msg, fields) }

func (l *stdLogger) write(level, msg string, fields []Field) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(msg)
	for _, f := range fields {
		b.WriteByte(' ')
		b.WriteString(f.Key)
		b.WriteByte('=')
		fmt.Fprintf(&b, "%v", f.Value)
	}
	l.base.Println(b.String())
}
