// Package logging provides the printf-style component logger used
// throughout the service. It wraps log/slog so every component gets
// leveled, structured output while call sites keep the terse
// "Info(format, args...)" idiom the rest of the codebase already uses.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
)

// Logger is the printf-style logging contract every component depends on.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// componentLogger adapts a *slog.Logger to Logger, tagging every line with
// a component name.
type componentLogger struct {
	base      *slog.Logger
	component string
}

// NewComponentLogger builds a Logger on top of slog.Default, named component.
func NewComponentLogger(component string) Logger {
	return FromObservabilityWithComponent(slog.Default(), component)
}

// FromObservabilityWithComponent wraps an existing *slog.Logger (typically
// built via observability.NewLogger) and tags it with component.
func FromObservabilityWithComponent(base *slog.Logger, component string) Logger {
	if base == nil {
		base = slog.Default()
	}
	return &componentLogger{base: base, component: component}
}

func (l *componentLogger) Debug(format string, args ...any) { l.log(slog.LevelDebug, format, args...) }
func (l *componentLogger) Info(format string, args ...any)  { l.log(slog.LevelInfo, format, args...) }
func (l *componentLogger) Warn(format string, args ...any)  { l.log(slog.LevelWarn, format, args...) }
func (l *componentLogger) Error(format string, args ...any) { l.log(slog.LevelError, format, args...) }

func (l *componentLogger) log(level slog.Level, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	l.base.Log(context.Background(), level, msg, slog.String("component", l.component))
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop is a Logger that discards everything. Useful as a safe zero value.
var Nop Logger = nopLogger{}

// IsNil reports whether logger is nil or a typed nil pointer wrapped in the
// interface — the second case is easy to produce accidentally (e.g. a
// *componentLogger field left unset on a struct literal) and would
// otherwise panic on first use.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	v := reflect.ValueOf(logger)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}

// OrNop returns logger, or Nop if logger is nil (including a typed nil
// pointer — see IsNil).
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop
	}
	return logger
}
