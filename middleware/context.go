package middleware

import (
	"context"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/upb/bookshelf-api/tokenauth"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	identityKey
)

// RequestIDFrom returns the ID set by WithRequestID, falling back to the
// one chi's RequestID middleware assigned.
func RequestIDFrom(ctx context.Context) string {
	if id, _ := ctx.Value(requestIDKey).(string); id != "" {
		return id
	}
	return chimiddleware.GetReqID(ctx)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// IdentityFrom returns the caller RequireAuth admitted, or nil
func IdentityFrom(ctx context.Context) *tokenauth.CallerIdentity {
	identity, _ := ctx.Value(identityKey).(*tokenauth.CallerIdentity)
	return identity
}

func WithIdentity(ctx context.Context, identity *tokenauth.CallerIdentity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}
