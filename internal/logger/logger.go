// Package logger is the module-aware structured logging used across tricam.
// It sits on log/slog: every component takes a Logger scoped to its module
// and logs typed fields, never formatted strings.
//
//	cl, err := logger.NewCentralLogger(&settings.Logging)
//	if err != nil {
//	    return err
//	}
//	defer cl.Close()
//
//	log := cl.Module("coordinator")
//	log.Info("cycle published", logger.Uint64("sequence", seq), logger.Int("stale", stale))
//
// Modules nest with dots, so cl.Module("camera").Module("vendor") logs as
// camera.vendor. The console gets text, files get JSON.
package logger

import (
	"context"
	"time"
	"unique"
)

// LogLevel names a severity, from trace (most verbose) to error.
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Field is one structured key/value pair. Keys are interned since the same
// few keys repeat on every capture cycle.
type Field struct {
	Key   string
	Value any
}

func internKey(key string) string {
	return unique.Make(key).Value()
}

var errorKey = internKey("error")

// Logger is implemented by module loggers and passed to components that log.
type Logger interface {
	Module(name string) Logger

	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Log(level LogLevel, msg string, fields ...Field)

	// With returns a logger that adds fields to every record.
	With(fields ...Field) Logger
	// WithContext adds the trace id set by WithTraceID, if any.
	WithContext(ctx context.Context) Logger

	Flush() error
}

// Field constructors.

func String(key, value string) Field { return Field{Key: internKey(key), Value: value} }
func Int(key string, value int) Field { return Field{Key: internKey(key), Value: value} }
func Int64(key string, value int64) Field { return Field{Key: internKey(key), Value: value} }
func Uint64(key string, value uint64) Field { return Field{Key: internKey(key), Value: value} }
func Float32(key string, value float32) Field { return Field{Key: internKey(key), Value: value} }
func Float64(key string, value float64) Field { return Field{Key: internKey(key), Value: value} }
func Bool(key string, value bool) Field { return Field{Key: internKey(key), Value: value} }
func Time(key string, value time.Time) Field { return Field{Key: internKey(key), Value: value} }
func Any(key string, value any) Field { return Field{Key: internKey(key), Value: value} }
func Duration(key string, value time.Duration) Field { return Field{Key: internKey(key), Value: value} }

// Error returns the "error" field. A nil err gives a nil value.
func Error(err error) Field {
	if err == nil {
		return Field{Key: errorKey, Value: nil}
	}
	return Field{Key: errorKey, Value: err.Error()}
}
