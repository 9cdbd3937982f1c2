// Package requestctx carries the identity of the player behind a request.
package requestctx

import (
	"context"
	"strings"
)

type playerIDContextKey struct{}

// WithPlayerID stores the acting player in ctx.
func WithPlayerID(ctx context.Context, playerID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, playerIDContextKey{}, strings.TrimSpace(playerID))
}

// PlayerIDFromContext returns the acting player, or "" for requests that do
// not act for a player.
func PlayerIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(playerIDContextKey{}).(string)
	return value
}
