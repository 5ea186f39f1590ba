// Package correlation binds a scoped request-correlation ID into a context,
// mirroring the ASGI correlation middleware's contract: accept a caller-
// supplied ID if and only if it is a well-formed UUID, otherwise generate
// one; bind it for the lifetime of the derived context; never let it leak
// to any caller outside that scope.
package correlation

import (
	"context"

	"github.com/google/uuid"

	"nexus/pkg/nxlog"
)

type ctxKey struct{}

// Bind validates provided as a correlation ID, falling back to a freshly
// generated UUID when it is empty or malformed (rejecting injection
// attempts such as embedded newlines or oversized values, since those
// never parse as a UUID). It returns a context carrying the ID (and a bound
// logger field) plus the ID itself. The caller must use only the returned
// context for the scope of the request; the original ctx is left
// untouched, so the binding is implicitly cleared once that scope ends —
// including when the caller's own code path returns an error.
func Bind(ctx context.Context, provided string) (context.Context, string) {
	id := provided
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}
	ctx = context.WithValue(ctx, ctxKey{}, id)
	ctx = nxlog.WithCorrelationID(ctx, id)
	return ctx, id
}

// FromContext returns the correlation ID bound to ctx, if any.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok
}
