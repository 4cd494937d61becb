package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/partner-dispatch/pkg/enums"
)

type contextKey string

const (
	ctxActorID contextKey = "actor_id"
	ctxRole    contextKey = "actor_role"
)

func ActorIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxActorID).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(string); ok {
		return v
	}
	return ""
}

// ActorUUIDFromContext returns the authenticated actor id, or false when the
// request carries none or it is malformed.
func ActorUUIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(ActorIDFromContext(ctx))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// WithActor injects the caller identity into the context.
func WithActor(ctx context.Context, actorID string, role enums.ActorRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxActorID, actorID)
	return context.WithValue(ctx, ctxRole, string(role))
}
