package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	// IANA zone names must resolve on minimal camera host images
	_ "time/tzdata"

	"github.com/tphakala/tricam/internal/errors"
)

const (
	// traceLevel sits below slog.LevelDebug (-4)
	traceLevel = slog.Level(-8)

	maxLevelWidth = 5
)

var (
	globalMu sync.Mutex
	global   *CentralLogger
)

// SetGlobal installs cl as the logger returned by Global. It is called once
// the configuration has been loaded.
func SetGlobal(cl *CentralLogger) {
	globalMu.Lock()
	global = cl
	globalMu.Unlock()
}

// Global returns the installed CentralLogger, or an info level console
// logger when none has been installed yet.
func Global() *CentralLogger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = &CentralLogger{
			cfg:    &LoggingConfig{DefaultLevel: DefaultLogLevel},
			tz:     time.Local,
			base:   newTextHandler(os.Stdout, slog.LevelInfo, time.Local),
			files:  map[string]*BufferedFileWriter{},
			levels: map[string]slog.Level{},
		}
	}
	return global
}

type traceIDContextKey struct{}

// TraceIDKey is the context key read by Logger.WithContext.
var TraceIDKey = traceIDContextKey{}

// WithTraceID returns a context whose loggers tag records with traceID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// NewWriterLogger returns a Logger writing text to w. It serves bootstrap
// output and tests.
func NewWriterLogger(w io.Writer, module string, level LogLevel) Logger {
	threshold := parseLogLevel(string(level))
	return &moduleLogger{
		name:      module,
		out:       slog.New(newTextHandler(w, threshold, time.Local)),
		threshold: threshold,
	}
}

// NewDiscardLogger returns a Logger that drops everything.
func NewDiscardLogger() Logger {
	return NewWriterLogger(io.Discard, "", LogLevelError)
}

// CentralLogger owns the configured outputs and hands out module loggers.
// Records go to the console as text and to the main log file as JSON,
// unless a module has a dedicated file in ModuleOutputs.
type CentralLogger struct {
	mu     sync.RWMutex
	cfg    *LoggingConfig
	tz     *time.Location
	base   slog.Handler
	files  map[string]*BufferedFileWriter // keyed by module, "" for the main file
	levels map[string]slog.Level
}

// NewCentralLogger opens the outputs described by cfg. Sections missing
// from cfg get their defaults.
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging config cannot be nil")
	}
	applyConfigDefaults(cfg)

	tz := time.Local
	if cfg.Timezone != "" && cfg.Timezone != "Local" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %s: %w", cfg.Timezone, err)
		}
		tz = loc
	}

	cl := &CentralLogger{
		cfg:    cfg,
		tz:     tz,
		files:  map[string]*BufferedFileWriter{},
		levels: map[string]slog.Level{},
	}
	for module, level := range cfg.ModuleLevels {
		cl.levels[module] = parseLogLevel(level)
	}

	var handlers fanout
	if cfg.Console.Enabled {
		handlers = append(handlers, newTextHandler(os.Stdout, parseLogLevel(cfg.Console.Level), tz))
	}
	if cfg.FileOutput.Enabled {
		w, err := cl.openFile("", cfg.FileOutput.Path)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLogLevel(cfg.FileOutput.Level)}))
	}
	switch len(handlers) {
	case 0:
		cl.base = newTextHandler(os.Stdout, parseLogLevel(cfg.DefaultLevel), tz)
	case 1:
		cl.base = handlers[0]
	default:
		cl.base = handlers
	}

	for module, out := range cfg.ModuleOutputs {
		if !out.Enabled {
			continue
		}
		if _, err := cl.openFile(module, out.FilePath); err != nil {
			_ = cl.Close()
			return nil, err
		}
	}
	return cl, nil
}

func (cl *CentralLogger) openFile(module, path string) (*BufferedFileWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}
	}
	w, err := NewBufferedFileWriter(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	cl.files[module] = w
	return w, nil
}

// Module returns a logger for the named module. A module with its own
// output writes there, and to the console only with ConsoleAlso.
func (cl *CentralLogger) Module(name string) Logger {
	if cl == nil {
		return nil
	}
	cl.mu.RLock()
	defer cl.mu.RUnlock()

	threshold := parseLogLevel(cl.cfg.DefaultLevel)
	if level, ok := cl.levels[name]; ok {
		threshold = level
	}

	handler := cl.base
	if out, ok := cl.cfg.ModuleOutputs[name]; ok && out.Enabled {
		if out.Level != "" {
			threshold = parseLogLevel(out.Level)
		}
		var handlers fanout
		if w := cl.files[name]; w != nil {
			handlers = append(handlers, slog.NewJSONHandler(w, &slog.HandlerOptions{Level: threshold}))
		}
		if out.ConsoleAlso && cl.cfg.Console != nil && cl.cfg.Console.Enabled {
			handlers = append(handlers, newTextHandler(os.Stdout, threshold, cl.tz))
		}
		handler = handlers
	}

	return &moduleLogger{name: name, out: slog.New(handler), threshold: threshold}
}

// Flush writes buffered file output to the OS.
func (cl *CentralLogger) Flush() error {
	if cl == nil {
		return nil
	}
	cl.mu.RLock()
	defer cl.mu.RUnlock()

	var errs []error
	for _, w := range cl.files {
		if err := w.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", w.FilePath(), err))
		}
	}
	return errors.Join(errs...)
}

// Close flushes, syncs and closes every log file.
func (cl *CentralLogger) Close() error {
	if cl == nil {
		return nil
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()

	var errs []error
	for module, w := range cl.files {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", w.FilePath(), err))
		}
		delete(cl.files, module)
	}
	return errors.Join(errs...)
}

func parseLogLevel(level string) slog.Level {
	switch LogLevel(level) {
	case LogLevelTrace:
		return traceLevel
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// fanout sends every record to all of its handlers.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

//nolint:gocritic // slog.Handler passes records by value
func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
