package middleware

import (
	"context"
)

// Context key type to avoid collisions
type contextKey string

const (
	// ClaimsKey is the context key for the authenticated client
	ClaimsKey contextKey = "claims"
)

// Auth methods recorded in Claims
const (
	MethodAPIKey = "api_key"
	MethodJWT    = "jwt"
)

// Claims identifies the authenticated gateway client
type Claims struct {
	Sub    string   `json:"sub"`
	Method string   `json:"method"`
	Scopes []string `json:"scopes,omitempty"`
	Exp    int64    `json:"exp,omitempty"`
}

// HasScope reports whether the client was granted scope. Clients without any
// scopes are unrestricted.
func (c *Claims) HasScope(scope string) bool {
	if len(c.Scopes) == 0 {
		return true
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// GetClaimsFromContext retrieves claims from context
func GetClaimsFromContext(ctx context.Context) *Claims {
	if val := ctx.Value(ClaimsKey); val != nil {
		if claims, ok := val.(*Claims); ok {
			return claims
		}
	}
	return nil
}

// WithClaims adds claims to the context
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}
