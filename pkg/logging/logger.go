// Package logging is the structured logger used across turnscribe: zerolog
// underneath, a small interface on top, and optional sinks that persist a
// copy of each entry.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ContextKey identifies values WithContext copies into log fields.
type ContextKey string

const (
	RunIDKey     ContextKey = "run_id"
	SessionKey   ContextKey = "session"
	RequestIDKey ContextKey = "request_id"
)

var contextKeys = []ContextKey{RunIDKey, SessionKey, RequestIDKey}

// Level is a minimum severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

// Config holds logger configuration.
type Config struct {
	Level       Level
	ServiceName string
	// JSONFormat writes one JSON object per line; otherwise output is
	// formatted for a terminal.
	JSONFormat bool
	// Output defaults to os.Stderr.
	Output io.Writer
	// Sinks receive a copy of every entry that passes the level filter.
	Sinks []Sink
}

// DefaultConfig returns a Config suited to interactive CLI use.
func DefaultConfig() *Config {
	return &Config{
		Level:       LevelInfo,
		ServiceName: "turnscribe",
		Output:      os.Stderr,
	}
}

// Logger is the logging interface passed through the pipeline.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a Logger that adds fields to every entry.
	With(fields ...Field) Logger
	// WithContext adds the run, session and request IDs stored in ctx.
	WithContext(ctx context.Context) Logger
}

// Field is one key/value pair on an entry.
type Field struct {
	Key   string
	Value any
}

// F creates a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Err creates the "error" Field.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// keyvals flattens fields for zerolog's Fields, which keeps their order.
func keyvals(fields []Field) []any {
	kv := make([]any, 0, 2*len(fields))
	for _, f := range fields {
		kv = append(kv, f.Key, f.Value)
	}
	return kv
}

type logger struct {
	zl      zerolog.Logger
	service string
	sinks   []Sink
	// bound holds With fields as strings for sink entries.
	bound map[string]string
}

// NewLogger creates a Logger. A nil cfg uses DefaultConfig.
func NewLogger(cfg *Config) Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	var out io.Writer = os.Stderr
	if cfg.Output != nil {
		out = cfg.Output
	}
	if !cfg.JSONFormat {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	zl := zerolog.New(out).Level(cfg.Level.zerolog()).With().
		Timestamp().
		Str("service_name", cfg.ServiceName).
		Logger()
	return &logger{zl: zl, service: cfg.ServiceName, sinks: cfg.Sinks}
}

func (l *logger) Debug(msg string, fields ...Field) { l.emit(l.zl.Debug(), LevelDebug, msg, fields) }
func (l *logger) Info(msg string, fields ...Field)  { l.emit(l.zl.Info(), LevelInfo, msg, fields) }
func (l *logger) Warn(msg string, fields ...Field)  { l.emit(l.zl.Warn(), LevelWarn, msg, fields) }
func (l *logger) Error(msg string, fields ...Field) { l.emit(l.zl.Error(), LevelError, msg, fields) }

// emit writes the entry unless zerolog filtered it (nil event).
func (l *logger) emit(ev *zerolog.Event, level Level, msg string, fields []Field) {
	if ev == nil {
		return
	}
	ev.Fields(keyvals(fields)).Msg(msg)

	if len(l.sinks) == 0 {
		return
	}
	entry := l.entry(level, msg, fields)
	for _, s := range l.sinks {
		s.Write(entry)
	}
}

func (l *logger) entry(level Level, msg string, fields []Field) LogEntry {
	values := make(map[string]string, len(l.bound)+len(fields))
	for k, v := range l.bound {
		values[k] = v
	}
	for _, f := range fields {
		values[f.Key] = fmt.Sprint(f.Value)
	}
	return LogEntry{
		Timestamp: time.Now(),
		Level:     string(level),
		Service:   l.service,
		Message:   msg,
		Fields:    values,
		RunID:     values[string(RunIDKey)],
		// Skips getCaller, entry, emit and the level method.
		Caller: getCaller(4),
	}
}

func (l *logger) With(fields ...Field) Logger {
	bound := make(map[string]string, len(l.bound)+len(fields))
	for k, v := range l.bound {
		bound[k] = v
	}
	for _, f := range fields {
		bound[f.Key] = fmt.Sprint(f.Value)
	}
	return &logger{
		zl:      l.zl.With().Fields(keyvals(fields)).Logger(),
		service: l.service,
		sinks:   l.sinks,
		bound:   bound,
	}
}

func (l *logger) WithContext(ctx context.Context) Logger {
	var fields []Field
	for _, key := range contextKeys {
		if v, _ := ctx.Value(key).(string); v != "" {
			fields = append(fields, F(string(key), v))
		}
	}
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// ContextWithRunID stores the run identifier for WithContext.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// ContextWithSession stores the session name for WithContext.
func ContextWithSession(ctx context.Context, session string) context.Context {
	return context.WithValue(ctx, SessionKey, session)
}

// ContextWithRequestID stores an HTTP request identifier for WithContext.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

type nopLogger struct{}

func (n nopLogger) Debug(string, ...Field)             {}
func (n nopLogger) Info(string, ...Field)              {}
func (n nopLogger) Warn(string, ...Field)              {}
func (n nopLogger) Error(string, ...Field)             {}
func (n nopLogger) With(...Field) Logger               { return n }
func (n nopLogger) WithContext(context.Context) Logger { return n }

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	return nopLogger{}
}
