// Package correlation threads a tracing identifier from the ingress request
// through scenario mutations, event payloads, and outbox delivery attempts.
package correlation

import (
	"context"

	"github.com/google/uuid"
)

type contextKey struct{}

// Mint produces a fresh correlation identifier for a new causal chain.
func Mint() string {
	return uuid.NewString()
}

// With returns a context carrying the correlation id.
func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// From returns the correlation id in ctx, or empty when none was set.
func From(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// Ensure returns ctx carrying a correlation id, minting one when absent.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := From(ctx); id != "" {
		return ctx, id
	}
	id := Mint()
	return With(ctx, id), id
}
