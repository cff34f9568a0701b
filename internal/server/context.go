package server

import (
	"context"

	"training-lab-control-plane/internal/token"
)

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity stores the verified token claims on the request context.
func WithIdentity(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, identityKey, claims)
}

// Identity returns the verified claims, nil when the request was not
// authenticated.
func Identity(ctx context.Context) *token.Claims {
	claims, _ := ctx.Value(identityKey).(*token.Claims)
	return claims
}
