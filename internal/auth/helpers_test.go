package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testProject = "alchemy-test"
	testKid     = "kid-1"
)

// RSA key generation is slow enough to share one key across the package.
var testKey = sync.OnceValue(func() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return key
})

// countingKeys wraps StaticKeys and records how many lookups happened, which
// stands in for "did verification reach the network".
type countingKeys struct {
	mu    sync.Mutex
	keys  StaticKeys
	err   error
	calls int
}

func newCountingKeys() *countingKeys {
	return &countingKeys{keys: StaticKeys{testKid: &testKey().PublicKey}}
}

func (c *countingKeys) PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return c.keys.PublicKey(ctx, kid)
}

func (c *countingKeys) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// mintIDToken signs a Firebase-shaped ID token for uid u1 in testProject.
// mutate adjusts the claims before signing.
func mintIDToken(t *testing.T, mutate ...func(*firebaseClaims)) string {
	t.Helper()
	now := time.Now()

	c := firebaseClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Audience:  jwt.ClaimStrings{testProject},
			Issuer:    "https://securetoken.google.com/" + testProject,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Email:   "a@example.com",
		Name:    "Ada",
		Picture: "https://example.com/ada.png",
	}
	c.Firebase.SignInProvider = "google.com"
	for _, m := range mutate {
		m(&c)
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, c)
	tok.Header["kid"] = testKid
	signed, err := tok.SignedString(testKey())
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

// alterSignature flips the first byte of the decoded signature.
func alterSignature(t *testing.T, token string) string {
	t.Helper()
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d parts, want 3", len(parts))
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		t.Fatalf("decoding signature: %v", err)
	}
	sig[0] ^= 0xff
	parts[2] = base64.RawURLEncoding.EncodeToString(sig)
	return strings.Join(parts, ".")
}

func newTestVerifier(t *testing.T, keys KeySource, opts ...VerifierOption) *IDTokenVerifier {
	t.Helper()
	v, err := NewIDTokenVerifier(testProject, keys, opts...)
	if err != nil {
		t.Fatalf("NewIDTokenVerifier: %v", err)
	}
	return v
}
