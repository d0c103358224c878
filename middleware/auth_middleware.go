package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/ribelo/prism-sub000/utils"
	"go.uber.org/zap"
)

// AuthMiddleware authenticates gateway clients by static API key or signed JWT.
// With neither configured every request passes.
type AuthMiddleware struct {
	validator TokenValidator
	apiKeys   [][]byte
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware. validator may be nil.
func NewAuthMiddleware(validator TokenValidator, apiKeys []string, logger *zap.Logger) *AuthMiddleware {
	keys := make([][]byte, 0, len(apiKeys))
	for _, k := range apiKeys {
		keys = append(keys, []byte(k))
	}
	return &AuthMiddleware{
		validator: validator,
		apiKeys:   keys,
		logger:    logger,
	}
}

// Enabled reports whether any credential source is configured
func (m *AuthMiddleware) Enabled() bool {
	return m.validator != nil || len(m.apiKeys) > 0
}

// RequireAuth rejects requests without a valid API key or token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		requestID := chimw.GetReqID(ctx)

		token := extractToken(r)
		if token == "" {
			m.logger.Warn("missing credentials", zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		if m.matchAPIKey(token) {
			claims := &Claims{Sub: "key:" + fingerprint(token), Method: MethodAPIKey}
			next.ServeHTTP(w, r.WithContext(WithClaims(ctx, claims)))
			return
		}

		if m.validator == nil {
			m.logger.Warn("unknown api key", zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Invalid API key")
			return
		}

		claims, err := m.validator.ValidateToken(ctx, token)
		if err != nil {
			m.logger.Warn("token validation failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("sub", claims.Sub))

		next.ServeHTTP(w, r.WithContext(WithClaims(ctx, claims)))
	})
}

// RequireScope rejects authenticated clients lacking scope. It must run after RequireAuth.
func (m *AuthMiddleware) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			claims := GetClaimsFromContext(r.Context())
			if claims == nil {
				_ = utils.WriteUnauthorized(w, "Authentication required")
				return
			}
			if !claims.HasScope(scope) {
				m.logger.Warn("insufficient scope",
					zap.String("request_id", chimw.GetReqID(r.Context())),
					zap.String("required_scope", scope),
					zap.Strings("scopes", claims.Scopes))
				_ = utils.WriteForbidden(w, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *AuthMiddleware) matchAPIKey(token string) bool {
	candidate := []byte(token)
	for _, key := range m.apiKeys {
		if subtle.ConstantTimeCompare(candidate, key) == 1 {
			return true
		}
	}
	return false
}

// fingerprint identifies an API key in logs without revealing it
func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:4])
}

// extractToken reads the client credential from the headers each supported
// client library sends: Authorization bearer (OpenAI), x-api-key (Anthropic),
// x-goog-api-key or the key query parameter (Gemini).
func extractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	for _, header := range []string{"X-Api-Key", "X-Goog-Api-Key"} {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return v
		}
	}
	return r.URL.Query().Get("key")
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
