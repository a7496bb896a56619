package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alchemyai/alchemy-backend/internal/apperror"
)

func TestNewIDTokenVerifier_RequiresProjectAndKeys(t *testing.T) {
	_, err := NewIDTokenVerifier("", StaticKeys{})
	assert.Error(t, err)

	_, err = NewIDTokenVerifier(testProject, nil)
	assert.Error(t, err)
}

func TestVerify_ValidToken(t *testing.T) {
	keys := newCountingKeys()
	v := newTestVerifier(t, keys)

	claims, err := v.Verify(context.Background(), mintIDToken(t))
	require.NoError(t, err)

	assert.Equal(t, "u1", claims.UID)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.Equal(t, "google.com", claims.SignInProvider)
	assert.Equal(t, 1, keys.Calls())

	id := claims.Identity()
	assert.Equal(t, "Ada", id.DisplayName)
	assert.Equal(t, "https://example.com/ada.png", id.PhotoURL)
}

// Expiry, audience and structure are decided without a key lookup;
// a bad signature can only be detected after one.
func TestVerify_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		token     func(t *testing.T) string
		wantCalls int
	}{
		{
			name:      "empty",
			token:     func(t *testing.T) string { return "" },
			wantCalls: 0,
		},
		{
			name:      "malformed",
			token:     func(t *testing.T) string { return "not-a-jwt" },
			wantCalls: 0,
		},
		{
			name: "expired",
			token: func(t *testing.T) string {
				return mintIDToken(t, func(c *firebaseClaims) {
					c.IssuedAt = jwt.NewNumericDate(time.Now().Add(-2 * time.Hour))
					c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
				})
			},
			wantCalls: 0,
		},
		{
			name: "different audience",
			token: func(t *testing.T) string {
				return mintIDToken(t, func(c *firebaseClaims) {
					c.Audience = jwt.ClaimStrings{"some-other-project"}
				})
			},
			wantCalls: 0,
		},
		{
			name: "different issuer",
			token: func(t *testing.T) string {
				return mintIDToken(t, func(c *firebaseClaims) {
					c.Issuer = "https://accounts.google.com"
				})
			},
			wantCalls: 0,
		},
		{
			name: "issued in the future",
			token: func(t *testing.T) string {
				return mintIDToken(t, func(c *firebaseClaims) {
					c.IssuedAt = jwt.NewNumericDate(time.Now().Add(10 * time.Minute))
				})
			},
			wantCalls: 0,
		},
		{
			name: "no subject",
			token: func(t *testing.T) string {
				return mintIDToken(t, func(c *firebaseClaims) { c.Subject = "" })
			},
			wantCalls: 0,
		},
		{
			name: "HMAC signed",
			token: func(t *testing.T) string {
				tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1"})
				tok.Header["kid"] = testKid
				s, err := tok.SignedString([]byte("shared-secret-shared-secret"))
				require.NoError(t, err)
				return s
			},
			wantCalls: 0,
		},
		{
			name:      "altered signature bytes",
			token:     func(t *testing.T) string { return alterSignature(t, mintIDToken(t)) },
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := newCountingKeys()
			v := newTestVerifier(t, keys)

			claims, err := v.Verify(context.Background(), tt.token(t))

			assert.Nil(t, claims)
			assert.ErrorIs(t, err, apperror.ErrAuthRejected)
			assert.Equal(t, tt.wantCalls, keys.Calls(), "key lookups")
		})
	}
}

func TestVerify_UnknownKid(t *testing.T) {
	v := newTestVerifier(t, StaticKeys{"another-kid": &testKey().PublicKey})

	_, err := v.Verify(context.Background(), mintIDToken(t))
	assert.ErrorIs(t, err, apperror.ErrAuthRejected)
}

func TestVerify_ProviderUnreachableFailsClosed(t *testing.T) {
	keys := newCountingKeys()
	keys.err = errors.New("dial tcp: connection refused")
	v := newTestVerifier(t, keys)

	claims, err := v.Verify(context.Background(), mintIDToken(t))

	assert.Nil(t, claims)
	assert.ErrorIs(t, err, apperror.ErrProviderUnavailable)
	assert.NotErrorIs(t, err, apperror.ErrAuthRejected)
}

func TestVerify_LeewayAcceptsSmallSkew(t *testing.T) {
	token := mintIDToken(t, func(c *firebaseClaims) {
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-10 * time.Second))
	})

	strict := newTestVerifier(t, newCountingKeys())
	_, err := strict.Verify(context.Background(), token)
	assert.ErrorIs(t, err, apperror.ErrAuthRejected)

	lenient := newTestVerifier(t, newCountingKeys(), WithLeeway(time.Minute))
	_, err = lenient.Verify(context.Background(), token)
	assert.NoError(t, err)
}

func TestVerify_RejectedTokenStaysRejected(t *testing.T) {
	keys := newCountingKeys()
	v := newTestVerifier(t, keys)
	bad := alterSignature(t, mintIDToken(t))

	for i := 0; i < 3; i++ {
		_, err := v.Verify(context.Background(), bad)
		assert.ErrorIs(t, err, apperror.ErrAuthRejected)
	}
}
