package types

import (
	"context"
	"log/slog"
)

// ActorType identifies the kind of entity performing an operation.
type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
)

// SystemActorID is the audit identity recorded for scheduler-originated work.
const SystemActorID = "system"

// Actor is the entity performing a mutating operation. It is either a user
// (identified by ID) or the system itself.
type Actor struct {
	ID   string
	Type ActorType
}

// UserActor returns an Actor for the given user id.
func UserActor(id string) Actor {
	return Actor{ID: id, Type: ActorTypeUser}
}

// SystemActor returns the Actor used by the daily sweep and queue consumers.
func SystemActor() Actor {
	return Actor{ID: SystemActorID, Type: ActorTypeSystem}
}

// IsSystem reports whether the actor is the system.
func (a Actor) IsSystem() bool {
	return a.Type == ActorTypeSystem
}

// AuditID is the identifier written to the audit sink.
func (a Actor) AuditID() string {
	if a.IsSystem() || a.ID == "" {
		return SystemActorID
	}
	return a.ID
}

// Context Keys
type contextKey string

const (
	actorKey     contextKey = "actor"
	scopeKey     contextKey = "access_scope"
	requestIDKey contextKey = "request_id"
	loggerKey    contextKey = "logger"
	principalKey contextKey = "principal"
)

// WithActor stores the Actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor retrieves the Actor from the context.
func GetActor(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

// WithAccessScope stores the caller's AccessScope in the context.
func WithAccessScope(ctx context.Context, scope AccessScope) context.Context {
	return context.WithValue(ctx, scopeKey, scope)
}

// GetAccessScope retrieves the AccessScope from the context. A missing scope
// is reported as ok=false; callers must not treat it as unrestricted.
func GetAccessScope(ctx context.Context) (AccessScope, bool) {
	scope, ok := ctx.Value(scopeKey).(AccessScope)
	return scope, ok
}

// WithPrincipal stores the principal, its Actor and its AccessScope in the
// context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = context.WithValue(ctx, principalKey, p)
	ctx = WithActor(ctx, p.Actor)
	return WithAccessScope(ctx, p.Scope)
}

// GetPrincipal retrieves the Principal from the context.
func GetPrincipal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithLogger stores a request-scoped logger in the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext returns the request-scoped logger, or fallback when none
// has been set.
func LoggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}
