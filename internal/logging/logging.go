// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides structured, component-scoped logging on top of log/slog.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Level is a logging severity.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Config controls logger construction.
type Config struct {
	Level  Level
	JSON   bool
	Output io.Writer
	// Component is attached to every record when set.
	Component string
	Syslog    SyslogConfig
}

// DefaultConfig returns an info-level text logger on stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
		Syslog: DefaultSyslogConfig(),
	}
}

// ParseLevel maps a config string to a Level. Unknown names map to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// SyslogConfig configures remote syslog forwarding.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string // udp or tcp
	Tag      string
	Facility int // syslog facility number (1 = user)
}

// DefaultSyslogConfig returns forwarding disabled with conventional defaults.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "flowgate",
		Facility: 1,
	}
}

// Logger is a component-aware structured logger.
type Logger struct {
	sl *slog.Logger
}

// New builds a Logger from cfg. When syslog forwarding is enabled but the
// remote cannot be reached, records still go to cfg.Output.
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

	opts := &slog.HandlerOptions{Level: cfg.Level}
	var h slog.Handler
	if cfg.JSON {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}

	l := &Logger{sl: slog.New(h)}
	if cfg.Component != "" {
		l = l.WithComponent(cfg.Component)
	}
	return l
}

// Discard returns a logger that drops every record. Useful in tests.
func Discard() *Logger {
	return &Logger{sl: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(New(DefaultConfig()))
}

// Default returns the process-wide logger.
func Default() *Logger {
	return defaultLogger.Load()
}

// SetDefault replaces the process-wide logger.
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger.Store(l)
	}
}

// WithComponent returns the default logger scoped to a component.
func WithComponent(name string) *Logger {
	return Default().WithComponent(name)
}

// WithComponent returns a child logger tagged with component=name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{sl: l.sl.With("component", name)}
}

// With returns a child logger with additional key/value pairs.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{sl: l.sl.With(args...)}
}

// WithError returns a child logger carrying err.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{sl: l.sl.With("error", err.Error())}
}

// Enabled reports whether records at level would be emitted.
func (l *Logger) Enabled(level Level) bool {
	return l.sl.Enabled(context.Background(), level)
}

func (l *Logger) Debug(msg string, args ...any) { l.sl.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.sl.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.sl.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.sl.Error(msg, args...) }

// Slog exposes the underlying slog.Logger for libraries that want one.
func (l *Logger) Slog() *slog.Logger {
	return l.sl
}

// Package-level helpers log through the default logger.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
