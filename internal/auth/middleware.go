package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/alchemyai/alchemy-backend/internal/apperror"
)

// SessionCookie is the cookie carrying the session token.
const SessionCookie = "session"

// contextKey is unexported so no other package can read or shadow our values.
type contextKey string

const (
	claimsKey    contextKey = "claims"
	principalKey contextKey = "principal"
)

// RequireIDToken guards routes that need a verified Firebase identity.
//
// It reads "Authorization: Bearer <id token>", verifies it, and stores the
// claims in the request context for the rest of that request. A rejected
// token gets 401; an unreachable provider gets 503. Nothing is cached
// between requests.
func RequireIDToken(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				writeUnauthorized(w, "valid authentication required")
				return
			}

			claims, err := verifier.Verify(r.Context(), raw)
			if err != nil {
				if errors.Is(err, apperror.ErrProviderUnavailable) {
					writeAuthError(w, http.StatusServiceUnavailable, "provider_unavailable",
						"authentication is temporarily unavailable")
					return
				}
				writeUnauthorized(w, "valid authentication required")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSession guards routes that need one of our session tokens, taken
// from the session cookie or, failing that, the bearer header.
func RequireSession(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := sessionToken(r)
			if raw == "" {
				writeUnauthorized(w, "session required")
				return
			}

			principal, err := tokens.Validate(raw)
			if err != nil {
				writeUnauthorized(w, "session required")
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the claims stored by RequireIDToken.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok && c != nil
}

// PrincipalFromContext returns the principal stored by RequireSession.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok && p != nil
}

// ContextWithClaims is used by tests that call handlers directly.
func ContextWithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func sessionToken(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	token, _ := bearerToken(r)
	return token
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeAuthError(w, http.StatusUnauthorized, "unauthorized", message)
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
