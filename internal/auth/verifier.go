package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alchemyai/alchemy-backend/internal/apperror"
	"github.com/alchemyai/alchemy-backend/internal/model"
)

// Claims are the verified facts extracted from a Firebase ID token.
type Claims struct {
	UID            string
	Email          string
	EmailVerified  bool
	Name           string
	Picture        string
	SignInProvider string // e.g. "google.com", "anonymous"
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

// Identity converts the claims into the profile upsert input.
func (c *Claims) Identity() model.Identity {
	return model.Identity{
		UID:         c.UID,
		Email:       c.Email,
		DisplayName: c.Name,
		PhotoURL:    c.Picture,
	}
}

// firebaseClaims mirrors the payload of a Firebase ID token.
type firebaseClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	Firebase      struct {
		SignInProvider string `json:"sign_in_provider"`
	} `json:"firebase"`
}

// TokenVerifier is the contract the route guard and the session flow depend on.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*Claims, error)
}

// IDTokenVerifier verifies Firebase ID tokens for one project.
//
// Checks run cheapest first. Structure, algorithm, expiry, audience and
// issuer are all decided locally; only a token that passes them causes a key
// lookup, which may go to the network.
type IDTokenVerifier struct {
	projectID string
	issuer    string
	keys      KeySource
	leeway    time.Duration
	now       func() time.Time
}

// compile-time check
var _ TokenVerifier = (*IDTokenVerifier)(nil)

// VerifierOption configures an IDTokenVerifier.
type VerifierOption func(*IDTokenVerifier)

// WithLeeway tolerates clock skew on exp/iat.
func WithLeeway(d time.Duration) VerifierOption {
	return func(v *IDTokenVerifier) { v.leeway = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *IDTokenVerifier) { v.now = now }
}

// NewIDTokenVerifier creates a verifier for tokens minted for projectID.
func NewIDTokenVerifier(projectID string, keys KeySource, opts ...VerifierOption) (*IDTokenVerifier, error) {
	if projectID == "" {
		return nil, errors.New("auth: Firebase project ID is required")
	}
	if keys == nil {
		return nil, errors.New("auth: key source is required")
	}
	v := &IDTokenVerifier{
		projectID: projectID,
		issuer:    "https://securetoken.google.com/" + projectID,
		keys:      keys,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// maxUIDLength is Firebase's limit on uid length.
const maxUIDLength = 128

// Verify validates rawToken and returns its claims.
//
// Errors wrap apperror.ErrAuthRejected for anything wrong with the token and
// apperror.ErrProviderUnavailable when the signing keys could not be fetched.
func (v *IDTokenVerifier) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, apperror.AuthRejected("missing token", nil)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.projectID),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)

	// --- Local checks: no network ---
	var unverified firebaseClaims
	token, _, err := parser.ParseUnverified(rawToken, &unverified)
	if err != nil {
		return nil, apperror.AuthRejected("malformed token", err)
	}
	if token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
		return nil, apperror.AuthRejected(fmt.Sprintf("unexpected signing algorithm %q", token.Method.Alg()), nil)
	}
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, apperror.AuthRejected("token has no key id", nil)
	}

	validator := jwt.NewValidator(
		jwt.WithAudience(v.projectID),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
	if err := validator.Validate(&unverified); err != nil {
		return nil, apperror.AuthRejected(claimsReason(err), err)
	}
	if err := checkSubject(unverified.Subject); err != nil {
		return nil, err
	}

	// --- Key lookup: may hit the provider ---
	key, err := v.keys.PublicKey(ctx, kid)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, apperror.AuthRejected("unknown signing key", err)
		}
		return nil, apperror.ProviderUnavailable(err)
	}

	// --- Signature ---
	var verified firebaseClaims
	_, err = parser.ParseWithClaims(rawToken, &verified, func(*jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, apperror.AuthRejected("invalid token signature", err)
		}
		return nil, apperror.AuthRejected("invalid token", err)
	}

	return &Claims{
		UID:            verified.Subject,
		Email:          verified.Email,
		EmailVerified:  verified.EmailVerified,
		Name:           verified.Name,
		Picture:        verified.Picture,
		SignInProvider: verified.Firebase.SignInProvider,
		IssuedAt:       numericTime(verified.IssuedAt),
		ExpiresAt:      numericTime(verified.ExpiresAt),
	}, nil
}

func checkSubject(sub string) error {
	switch {
	case sub == "":
		return apperror.AuthRejected("token has no subject", nil)
	case len(sub) > maxUIDLength:
		return apperror.AuthRejected("token subject too long", nil)
	}
	return nil
}

func claimsReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "token audience mismatch"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "token issuer mismatch"
	case errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return "token issued in the future"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "token is missing a required claim"
	}
	return "invalid token claims"
}

func numericTime(d *jwt.NumericDate) time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time
}
