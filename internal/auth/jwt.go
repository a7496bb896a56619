// Package auth handles identity for the backend: verifying Firebase ID tokens,
// exchanging provider credentials, issuing our own session tokens, and the
// HTTP middleware that guards protected routes.
//
// Two kinds of token pass through here:
//
//   - Firebase ID tokens (RS256, signed by Google). Verified by IDTokenVerifier.
//     These prove who the user is.
//   - Session tokens (HS256, signed by us). Issued by TokenService once a
//     session bootstrap completes. These say the app considers the user
//     signed in, including guests who have no identity at all.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alchemyai/alchemy-backend/internal/apperror"
)

const sessionIssuer = "alchemy-backend"

// DefaultSessionTTL is used when NewTokenService gets a zero TTL.
const DefaultSessionTTL = 24 * time.Hour

// Principal is the holder of a session token.
type Principal struct {
	Subject   string    `json:"subject"` // Firebase uid, or a guest id
	Guest     bool      `json:"guest"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// TokenService signs and validates session tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService. The secret must be at least 16
// characters; generate one with `openssl rand -hex 32`.
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: session secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

// TTL reports how long issued tokens live.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

type sessionClaims struct {
	jwt.RegisteredClaims
	Guest bool `json:"guest,omitempty"`
}

// Generate issues a session token for subject.
func (s *TokenService) Generate(subject string, guest bool) (string, error) {
	return s.GenerateWithDuration(subject, guest, s.ttl)
}

// GenerateWithDuration issues a token with an explicit lifetime.
// A negative duration produces an already-expired token, which tests use.
func (s *TokenService) GenerateWithDuration(subject string, guest bool, d time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("auth: session subject must not be empty")
	}
	now := time.Now()

	c := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    sessionIssuer,
		},
		Guest: guest,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing session token: %w", err)
	}
	return signed, nil
}

// Validate parses a session token and returns its principal.
// Failures wrap apperror.ErrAuthRejected.
func (s *TokenService) Validate(tokenStr string) (*Principal, error) {
	var c sessionClaims
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&c,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperror.AuthRejected("session expired", err)
		}
		return nil, apperror.AuthRejected("invalid session", err)
	}
	if !token.Valid || c.Subject == "" {
		return nil, apperror.AuthRejected("invalid session claims", nil)
	}

	return &Principal{
		Subject:   c.Subject,
		Guest:     c.Guest,
		ExpiresAt: numericTime(c.ExpiresAt),
	}, nil
}
