// Package observability defines shared logging primitives.
package observability

import (
	"fmt"
	"log"
	"strings"
	"sync/atomic"
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

// F is shorthand for constructing a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

type loggerHolder struct {
	logger Logger
}

var defaultLogger atomic.Pointer[loggerHolder]

func init() {
	defaultLogger.Store(&loggerHolder{logger: noopLogger{}})
}

// SetLogger overrides the global logger used by the system.
func SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	defaultLogger.Store(&loggerHolder{logger: logger})
}

// Log returns the current global logger instance.
func Log() Logger {
	return defaultLogger.Load().logger
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...Field) {}
func (noopLogger) Info(string, ...Field)  {}
func (noopLogger) Error(string, ...Field) {}

// StdLogger adapts a standard library *log.Logger to the Logger interface.
// Debug lines are dropped unless verbose is set.
type StdLogger struct {
	out     *log.Logger
	verbose bool
}

// NewStdLogger wraps out. A nil out falls back to log.Default().
func NewStdLogger(out *log.Logger, verbose bool) *StdLogger {
	if out == nil {
		out = log.Default()
	}
	return &StdLogger{out: out, verbose: verbose}
}

// Debug logs at debug level when verbose output is enabled.
func (l *StdLogger) Debug(msg string, fields ...Field) {
	if !l.verbose {
		return
	}
	l.out.Print(format("DEBUG", msg, fields))
}

// Info logs at info level.
func (l *StdLogger) Info(msg string, fields ...Field) {
	l.out.Print(format("INFO", msg, fields))
}

// Error logs at error level.
func (l *StdLogger) Error(msg string, fields ...Field) {
	l.out.Print(format("ERROR", msg, fields))
}

func format(level, msg string, fields []Field) string {
	var b strings.Builder
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(msg)
	for _, f := range fields {
		b.WriteByte(' ')
		b.WriteString(f.Key)
		b.WriteByte('=')
		fmt.Fprint(&b, f.Value)
	}
	return b.String()
}
