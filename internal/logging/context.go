package logging

import (
	"context"

	"github.com/rs/zerolog"
)

type contextKey int

const (
	loggerKey contextKey = iota
	batchIDKey
)

var nop = zerolog.Nop()

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, &logger)
}

// FromContext extracts the logger from ctx. Without one, logging is
// disabled.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return &nop
	}
	if logger, ok := ctx.Value(loggerKey).(*zerolog.Logger); ok && logger != nil {
		return logger
	}
	return &nop
}

// WithBatchID tags ctx and its logger with a publish batch id.
func WithBatchID(ctx context.Context, id string) context.Context {
	ctx = context.WithValue(ctx, batchIDKey, id)
	return WithLogger(ctx, FromContext(ctx).With().Str("batch_id", id).Logger())
}

// BatchID returns the publish batch id carried by ctx.
func BatchID(ctx context.Context) string {
	if id, ok := ctx.Value(batchIDKey).(string); ok {
		return id
	}
	return ""
}
