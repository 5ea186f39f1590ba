// Package nxlog provides the structured logging handle shared by every
// Nexus component. It follows reva's appctx pattern: middleware binds a
// request-scoped *zerolog.Logger into the context on entry and every
// downstream call pulls it back out, falling back to a process-wide default
// logger when none was bound.
package nxlog

import (
	"context"
	"os"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

var defaultLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// New builds a logger writing to w at the given level.
func New(w *os.File, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// WithLogger binds l into ctx so FromContext can retrieve it downstream.
func WithLogger(ctx context.Context, l *zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger bound to ctx, or the process default.
func FromContext(ctx context.Context) *zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zerolog.Logger); ok && l != nil {
		return l
	}
	return &defaultLogger
}

// WithCorrelationID returns a derived context + logger carrying corrID as a
// "correlation_id" field, bound for the lifetime of ctx. Middleware calls
// this on entry and the caller is responsible for dropping the derived
// context on exit; no global state is mutated.
func WithCorrelationID(ctx context.Context, corrID string) context.Context {
	l := FromContext(ctx).With().Str("correlation_id", corrID).Logger()
	return WithLogger(ctx, &l)
}
