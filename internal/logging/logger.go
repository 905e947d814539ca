package logging

import (
	"context"
	"log/slog"
)

// Logger provides structured logging for the worker
type Logger struct {
	prefix string
	attrs  []any
}

// NewLogger creates a new logger with a prefix
func NewLogger(prefix string) *Logger {
	return &Logger{
		prefix: prefix,
	}
}

// With returns a child logger that adds the key-value pairs to every record
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	attrs := make([]any, 0, len(l.attrs)+len(keysAndValues))
	attrs = append(attrs, l.attrs...)
	attrs = append(attrs, keysAndValues...)

	return &Logger{
		prefix: l.prefix,
		attrs:  attrs,
	}
}

// Info logs an informational message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.logWithKV(context.Background(), slog.LevelInfo, msg, keysAndValues...)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.logWithKV(context.Background(), slog.LevelWarn, msg, keysAndValues...)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.logWithKV(context.Background(), slog.LevelError, msg, keysAndValues...)
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.logWithKV(context.Background(), slog.LevelDebug, msg, keysAndValues...)
}

// InfoContext is Info with the record tied to the span in ctx
func (l *Logger) InfoContext(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.logWithKV(ctx, slog.LevelInfo, msg, keysAndValues...)
}

// WarnContext is Warn with the record tied to the span in ctx
func (l *Logger) WarnContext(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.logWithKV(ctx, slog.LevelWarn, msg, keysAndValues...)
}

// ErrorContext is Error with the record tied to the span in ctx
func (l *Logger) ErrorContext(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.logWithKV(ctx, slog.LevelError, msg, keysAndValues...)
}

// DebugContext is Debug with the record tied to the span in ctx
func (l *Logger) DebugContext(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.logWithKV(ctx, slog.LevelDebug, msg, keysAndValues...)
}

// The default slog logger is resolved per call so telemetry setup in main
// takes effect for loggers created before it.
func (l *Logger) logWithKV(ctx context.Context, level slog.Level, msg string, keysAndValues ...interface{}) {
	logger := slog.Default()

	if !logger.Enabled(ctx, level) {
		return
	}

	args := make([]any, 0, 2+len(l.attrs)+len(keysAndValues))
	args = append(args, "component", l.prefix)
	args = append(args, l.attrs...)
	args = append(args, keysAndValues...)

	logger.Log(ctx, level, msg, args...)
}
