package events

import (
	"context"
)

type contextKey int

const (
	loggerKey contextKey = iota
	folderKey
)

// FromContext extracts logger from context.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return defaultLogger
}

// WithLogger adds logger to context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithFolder tags the context (and its logger) with a tracked folder name.
func WithFolder(ctx context.Context, name string) context.Context {
	logger := FromContext(ctx).WithField("folder", name)
	ctx = context.WithValue(ctx, folderKey, name)
	return WithLogger(ctx, logger)
}

// GetFolder retrieves the tracked folder name from context.
func GetFolder(ctx context.Context) string {
	if name, ok := ctx.Value(folderKey).(string); ok {
		return name
	}
	return ""
}

var defaultLogger = Discard()

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}
