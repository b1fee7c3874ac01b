// Package logging wraps log/slog with the context helpers used across gomigrator.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level represents logging verbosity.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// ParseLevel maps a config string to a Level; unknown values fall back to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LevelError
	case "warn", "warning":
		return LevelWarn
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelDebug:
		return "debug"
	default:
		return "info"
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelError:
		return slog.LevelError
	case LevelWarn:
		return slog.LevelWarn
	case LevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Logger is a slog.Logger that remembers its level.
type Logger struct {
	*slog.Logger
	level Level
}

// New creates a text logger writing to w (stderr when nil).
func New(w io.Writer, level Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level.slogLevel()})
	return &Logger{Logger: slog.New(h), level: level}
}

// NewJSON creates a JSON logger writing to w (stderr when nil).
func NewJSON(w io.Writer, level Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level.slogLevel()})
	return &Logger{Logger: slog.New(h), level: level}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil)), level: LevelError}
}

// FromConfig builds a logger from the log_level/log_format config values.
func FromConfig(level, format string) *Logger {
	lv := ParseLevel(level)
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return NewJSON(nil, lv)
	}
	return New(nil, lv)
}

func (l *Logger) Level() Level { return l.level }

func (l *Logger) with(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

// WithComponent returns a logger with component context.
func (l *Logger) WithComponent(component string) *Logger { return l.with("component", component) }

// WithVersion returns a logger with migration version context.
func (l *Logger) WithVersion(version int64) *Logger { return l.with("version", version) }

// WithStore returns a logger with state store context.
func (l *Logger) WithStore(store string) *Logger { return l.with("store", store) }

// WithBatch returns a logger tagged with a batch id.
func (l *Logger) WithBatch(id string) *Logger { return l.with("batch", id) }

var defaultLogger = New(nil, LevelInfo)

// SetDefault replaces the package default logger.
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// Default returns the package default logger.
func Default() *Logger { return defaultLogger }
