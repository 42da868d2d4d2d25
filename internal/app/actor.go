package app

import (
	"context"
	"strings"
)

// DefaultActorID attributes changes made without an explicit caller identity.
const DefaultActorID = "bomcat-user"

// WithActor attaches the authenticated caller id used for history and review stamps.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, strings.TrimSpace(actorID))
}

// ActorFromContext returns the caller id when present.
func ActorFromContext(ctx context.Context) (string, bool) {
	actorID, ok := ctx.Value(actorContextKey{}).(string)
	if !ok || actorID == "" {
		return "", false
	}
	return actorID, true
}

// actorContextKey stores context keys for caller identity.
type actorContextKey struct{}

// actorOrDefault resolves the caller id, falling back to DefaultActorID.
func actorOrDefault(ctx context.Context) string {
	if actorID, ok := ActorFromContext(ctx); ok {
		return actorID
	}
	return DefaultActorID
}
