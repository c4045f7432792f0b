package auth

import (
	"context"
)

type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	claimsKey    contextKey = "jwt_claims"
)

// NewContextWithSessionID returns a context carrying the session ID.
func NewContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromContext returns the session ID, or "" if there is none.
func SessionIDFromContext(ctx context.Context) string {
	sessionID, _ := ctx.Value(sessionIDKey).(string)
	return sessionID
}

// AddClaimsToContext stores operator claims and their session ID.
func AddClaimsToContext(ctx context.Context, claims *OperatorClaims) context.Context {
	ctx = context.WithValue(ctx, claimsKey, claims)
	if claims != nil {
		ctx = NewContextWithSessionID(ctx, claims.SessionID)
	}
	return ctx
}

// ClaimsFromContext returns the operator claims set by RequireOperator.
func ClaimsFromContext(ctx context.Context) (*OperatorClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(*OperatorClaims)
	return claims, ok && claims != nil
}

// OperatorFromContext returns the operator name, or "" for anonymous requests.
func OperatorFromContext(ctx context.Context) string {
	if claims, ok := ClaimsFromContext(ctx); ok {
		return claims.Username
	}
	return ""
}
