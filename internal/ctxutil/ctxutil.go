// Package ctxutil provides shared context key accessors.
//
// The auth middleware populates the user id and request id; every subsystem
// that needs tenancy scoping or log correlation reads them back through this
// package instead of importing server.
package ctxutil

import "context"

// AnonymousUser is the user id attached to unauthenticated requests.
// Anonymous requests may read shared data but cannot record decisions.
const AnonymousUser = "anonymous"

type contextKey string

const (
	keyUserID    contextKey = "user_id"
	keyRequestID contextKey = "request_id"
)

// WithUserID returns a new context carrying the given user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, keyUserID, userID)
}

// UserIDFromContext extracts the user id from the context.
// Returns AnonymousUser when no user id is set.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyUserID).(string); ok && v != "" {
		return v
	}
	return AnonymousUser
}

// IsAnonymous reports whether the context carries no authenticated user.
func IsAnonymous(ctx context.Context) bool {
	return UserIDFromContext(ctx) == AnonymousUser
}

// WithRequestID returns a new context carrying the given request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// RequestIDFromContext extracts the request id from the context.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}
