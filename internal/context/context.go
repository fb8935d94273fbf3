package context

import (
	"context"

	"github.com/google/uuid"
	"github.com/voltmoto/site/backend/internal/session"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// SessionKey is the context key for the admin session admitted by the gate
	SessionKey ContextKey = "admin_session"
)

// WithSession returns a copy of ctx carrying s
func WithSession(ctx context.Context, s session.Session) context.Context {
	return context.WithValue(ctx, SessionKey, s)
}

// ExtractSession extracts the admin session from the request context
func ExtractSession(ctx context.Context) (session.Session, bool) {
	s, ok := ctx.Value(SessionKey).(session.Session)
	return s, ok
}

// ExtractPrincipalID extracts the administrator ID from the request context
func ExtractPrincipalID(ctx context.Context) (uuid.UUID, bool) {
	s, ok := ExtractSession(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return s.PrincipalID, true
}
