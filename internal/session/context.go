package session

import "context"

type claimsContextKey struct{}

// WithClaims stores validated claims on ctx for downstream handlers.
func WithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// FromContext retrieves the claims stored by WithClaims.
func FromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(Claims)
	return claims, ok
}
