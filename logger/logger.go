// Package logger provides structured logging for the fluxpoint control plane.
//
// It wraps Go's standard log/slog with:
//   - A process-wide default logger configured from the LOG_LEVEL environment variable
//   - Level-based verbosity control
//   - Per-module log levels with hierarchical fallback
//
// All exported functions use the global DefaultLogger which can be reconfigured
// at runtime.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

var (
	// DefaultLogger is the global structured logger instance.
	// It is safe for concurrent use and initialized with slog.LevelInfo by default.
	DefaultLogger *slog.Logger

	// Modules holds the process-wide per-module level configuration consulted
	// by loggers obtained from ForModule.
	Modules = NewModuleConfig(slog.LevelInfo)
)

func init() {
	level := slog.LevelInfo
	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		switch strings.ToLower(envLevel) {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn", "warning":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	DefaultLogger = slog.New(handler)
	Modules.SetDefaultLevel(level)
}

// SetLevel changes the logging level for all subsequent log operations,
// including the default level for module loggers. This is safe for
// concurrent use as it replaces the entire logger instance.
func SetLevel(level slog.Level) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	DefaultLogger = slog.New(handler)
	Modules.SetDefaultLevel(level)
}

// ParseLevel converts a configuration string to a slog.Level.
// Accepted values are "debug", "info", "warn"/"warning", and "error".
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// SetVerbose enables debug-level logging when verbose is true, otherwise sets info-level.
// This is a convenience wrapper around SetLevel for command-line verbose flags.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
	} else {
		SetLevel(slog.LevelInfo)
	}
}

// With returns a logger that includes the given attributes on every record.
func With(args ...any) *slog.Logger {
	return DefaultLogger.With(args...)
}

// ForModule returns a logger for a named module. Records pass through the
// per-module level configured in Modules (falling back hierarchically, then
// to the default level) and carry a "logger" attribute naming the module plus
// any given attributes. Long-lived components (a reactor, the manager) hold
// one of these so their identity appears on every line without repeating it
// at call sites.
func ForModule(module string, args ...any) *slog.Logger {
	handler := NewModuleHandler(DefaultLogger.Handler(), module, Modules)
	return slog.New(handler).With(args...)
}

// Info logs an informational message with structured key-value attributes.
// Args should be provided in key-value pairs: key1, value1, key2, value2, ...
func Info(msg string, args ...any) {
	DefaultLogger.Info(msg, args...)
}

// InfoContext logs an informational message with context and structured attributes.
func InfoContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.InfoContext(ctx, msg, args...)
}

// Debug logs a debug-level message with structured attributes.
// Debug messages are only output when the log level is set to LevelDebug or lower.
func Debug(msg string, args ...any) {
	DefaultLogger.Debug(msg, args...)
}

// DebugContext logs a debug message with context and structured attributes.
func DebugContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.DebugContext(ctx, msg, args...)
}

// Warn logs a warning message with structured attributes.
// Use for recoverable errors or unexpected but non-critical situations.
func Warn(msg string, args ...any) {
	DefaultLogger.Warn(msg, args...)
}

// WarnContext logs a warning message with context and structured attributes.
func WarnContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.WarnContext(ctx, msg, args...)
}

// Error logs an error message with structured attributes.
// Use for errors that affect operation but don't cause complete failure.
func Error(msg string, args ...any) {
	DefaultLogger.Error(msg, args...)
}

// ErrorContext logs an error message with context and structured attributes.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.ErrorContext(ctx, msg, args...)
}
