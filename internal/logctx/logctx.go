// Package logctx carries a slog.Logger through context and enriches records
// with trace information.
package logctx

import (
	"context"
	"log/slog"
)

type contextKey struct{}

// WithLogger returns a new context carrying the provided slog.Logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// LoggerFromContext retrieves the slog.Logger from the context, or returns
// slog.Default() if none was attached.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
		return l
	}

	return slog.Default()
}
