package credentials

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ribelo/prism-sub000/services/providers"
)

// ExpiresAt returns when cred stops being valid. An explicit expiry wins;
// otherwise the exp claim of a JWT access token is used.
func ExpiresAt(cred providers.Credential) (time.Time, bool) {
	if cred.Kind == providers.CredentialAPIKey {
		return time.Time{}, false
	}
	if !cred.ExpiresAt.IsZero() {
		return cred.ExpiresAt, true
	}
	return jwtExpiry(cred.Token)
}

func isExpiredAt(cred providers.Credential, now time.Time, skew time.Duration) bool {
	exp, ok := ExpiresAt(cred)
	if !ok {
		return false
	}
	return !now.Add(skew).Before(exp)
}

func expiresWithin(cred providers.Credential, now time.Time, window time.Duration) bool {
	exp, ok := ExpiresAt(cred)
	if !ok {
		return false
	}
	return exp.Sub(now) <= window
}

// jwtExpiry reads exp without verifying the signature; the vendor verifies it
func jwtExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
