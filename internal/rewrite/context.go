package rewrite

import (
	"context"
	"strings"
)

// DefaultActor is recorded on history entries when no actor is in context.
const DefaultActor = "system"

type actorContextKey struct{}

type activeItemContextKey struct{}

// WithActor records who triggered the rewrite.
func WithActor(ctx context.Context, actor string) context.Context {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return DefaultActor
	}
	if actor, ok := ctx.Value(actorContextKey{}).(string); ok && actor != "" {
		return actor
	}
	return DefaultActor
}

// WithActiveItem marks the content item being worked on, used when history
// is saved without an explicit item id.
func WithActiveItem(ctx context.Context, contentItemID int64) context.Context {
	if contentItemID <= 0 {
		return ctx
	}
	return context.WithValue(ctx, activeItemContextKey{}, contentItemID)
}

func activeItemFromContext(ctx context.Context) (int64, bool) {
	if ctx == nil {
		return 0, false
	}
	id, ok := ctx.Value(activeItemContextKey{}).(int64)
	return id, ok && id > 0
}
