package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FirebaseCertsURL publishes the x509 certificates whose keys sign Firebase
// ID tokens, as a JSON object of kid → PEM certificate.
const FirebaseCertsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

// ErrKeyNotFound is returned by a KeySource when it has no key for a kid.
// The verifier treats it as a rejected token, not a provider outage.
var ErrKeyNotFound = errors.New("auth: signing key not found")

// KeySource resolves the public key for a token's kid header.
//
// Any error other than ErrKeyNotFound means the key set could not be
// obtained, and verification must fail closed.
type KeySource interface {
	PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// StaticKeys is a fixed kid → key map. Useful for tests and for deployments
// that pin keys out of band.
type StaticKeys map[string]*rsa.PublicKey

func (s StaticKeys) PublicKey(_ context.Context, kid string) (*rsa.PublicKey, error) {
	key, ok := s[kid]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

// CertSource downloads the provider's certificate map and caches the public
// keys for as long as the response's Cache-Control max-age allows.
//
// Only keys are cached. Tokens are verified from scratch every time.
type CertSource struct {
	url    string
	client *http.Client
	now    func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	expires time.Time
}

// defaultCertTTL applies when the response carries no usable max-age.
const defaultCertTTL = time.Hour

// refreshTimeout bounds a shared download regardless of the http.Client.
const refreshTimeout = 10 * time.Second

// NewCertSource creates a CertSource reading from url.
// A nil client gets a 10 second timeout.
func NewCertSource(url string, client *http.Client) *CertSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &CertSource{
		url:    url,
		client: client,
		now:    time.Now,
	}
}

// PublicKey returns the cached key for kid, refreshing the set when the cache
// has expired. A kid missing from a fresh set is ErrKeyNotFound; there is no
// extra refresh for it, so random kids cannot force downloads.
func (s *CertSource) PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	s.mu.RLock()
	key, fresh := s.keys[kid], s.now().Before(s.expires)
	s.mu.RUnlock()

	if fresh {
		if key == nil {
			return nil, ErrKeyNotFound
		}
		return key, nil
	}

	// Concurrent verifications share one download. The download is detached
	// from the caller that started it; each caller stops waiting when its own
	// ctx ends.
	ch := s.group.DoChan("certs", func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return nil, s.refresh(ctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if key = s.keys[kid]; key == nil {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

func (s *CertSource) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("auth: building certificate request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("auth: fetching certificates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: certificate endpoint returned status %d", resp.StatusCode)
	}

	var certs map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&certs); err != nil {
		return fmt.Errorf("auth: decoding certificates: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(certs))
	for kid, certPEM := range certs {
		key, err := parseCertKey(certPEM)
		if err != nil {
			// One bad entry should not take the others down with it.
			continue
		}
		keys[kid] = key
	}
	if len(keys) == 0 {
		return errors.New("auth: certificate set contained no usable keys")
	}

	s.mu.Lock()
	s.keys = keys
	s.expires = s.now().Add(maxAge(resp.Header.Get("Cache-Control")))
	s.mu.Unlock()
	return nil
}

func parseCertKey(certPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return nil, errors.New("auth: no PEM block in certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parsing certificate: %w", err)
	}
	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("auth: certificate key is %T, want RSA", cert.PublicKey)
	}
	return key, nil
}

// maxAge extracts max-age from a Cache-Control header value.
func maxAge(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		secs, err := strconv.Atoi(value)
		if err != nil || secs <= 0 {
			break
		}
		return time.Duration(secs) * time.Second
	}
	return defaultCertTTL
}
