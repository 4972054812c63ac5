// Package log holds the slog plumbing shared by the CLI and the library
// packages: request scoped loggers, group filtering, fan-out and file output.
package log

import (
	"context"
	"log/slog"
)

type ctxLoggerKey struct{}

// ContextWithLogger attaches logger to ctx.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxLoggerKey{}, logger)
}

// FromContext returns the logger attached to ctx, if there is one.
func FromContext(ctx context.Context) (*slog.Logger, bool) {
	if ctx == nil {
		return nil, false
	}
	logger, ok := ctx.Value(ctxLoggerKey{}).(*slog.Logger)
	return logger, ok && logger != nil
}

// LoggerFromContext returns the logger attached to ctx, or slog.Default.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := FromContext(ctx); ok {
		return logger
	}
	return slog.Default()
}

// Component returns the context logger narrowed to the named group.
func Component(ctx context.Context, name string) *slog.Logger {
	return LoggerFromContext(ctx).WithGroup(name)
}
