package middleware

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/arcoportus/portal/session"
)

// Context key type to avoid collisions
type contextKey string

const (
	// ClaimsKey is the context key for session claims
	ClaimsKey contextKey = "claims"
)

// GetRequestIDFromContext retrieves the request ID set by chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	return chimw.GetReqID(ctx)
}

// GetClaimsFromContext retrieves session claims from context
func GetClaimsFromContext(ctx context.Context) *session.Claims {
	if val := ctx.Value(ClaimsKey); val != nil {
		if claims, ok := val.(*session.Claims); ok {
			return claims
		}
	}
	return nil
}

// WithClaims adds session claims to the context
func WithClaims(ctx context.Context, claims *session.Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}
