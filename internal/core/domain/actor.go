package domain

import "context"

// Actor is the caller identified by the session layer in front of the core.
// It is recorded for audit only; the core never authenticates.
type Actor struct {
	UserID     string
	Department string
}

type actorKey struct{}

func ContextWithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func ActorOf(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

// ActorFromContext returns the caller's user id, or "anonymous".
func ActorFromContext(ctx context.Context) string {
	if a, ok := ActorOf(ctx); ok && a.UserID != "" {
		return a.UserID
	}
	return "anonymous"
}
