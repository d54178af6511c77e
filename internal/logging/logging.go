// Package logging provides the controller's leveled logger: a thin wrapper
// over log/slog with an optional syslog sink, matching the call shape used
// throughout the controller (logger.Warn(msg, "key", value, ...)).
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Level mirrors slog's levels under controller-local names so callers don't
// need to import log/slog directly.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config controls logger construction.
type Config struct {
	Level  Level
	JSON   bool
	Output io.Writer
	Syslog SyslogConfig
}

// DefaultConfig returns sane defaults: info level, text format, stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		JSON:   false,
		Output: os.Stderr,
	}
}

// Logger is the controller-wide structured logger.
type Logger struct {
	base *slog.Logger
}

// New builds a Logger from cfg, optionally fanning out to a syslog sink.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	if cfg.Syslog.Enabled {
		if w, err := NewSyslogWriter(cfg.Syslog); err == nil {
			out = io.MultiWriter(out, w)
		}
	}

	opts := &slog.HandlerOptions{Level: cfg.Level.slogLevel()}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return &Logger{base: slog.New(handler)}
}

// With returns a Logger that always includes the given key-value pairs.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{base: l.base.With(args...)}
}

func (l *Logger) Debug(msg string, args ...any) { l.base.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.base.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.base.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.base.Error(msg, args...) }

// DebugContext/InfoContext/etc. let callers propagate context-carried
// attributes (request IDs, submitter) via slog handlers that read from ctx.
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.base.DebugContext(ctx, msg, args...)
}
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.base.InfoContext(ctx, msg, args...)
}
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.base.WarnContext(ctx, msg, args...)
}
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.base.ErrorContext(ctx, msg, args...)
}
