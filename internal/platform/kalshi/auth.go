package kalshi

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	// tokenLifetime is how long a login session token stays valid.
	tokenLifetime = 30 * time.Minute

	// tokenRefreshLead renews the token this long before it expires.
	tokenRefreshLead = time.Minute
)

// Authenticator produces the headers that authenticate one request. method and
// path are the HTTP method and the URL path (no query) being called; WebSocket
// handshakes use GET and the socket path.
type Authenticator interface {
	Headers(ctx context.Context, method, path string) (http.Header, error)
}

// ParseRSAPrivateKey decodes a PEM-encoded PKCS#8 or PKCS#1 RSA key.
func ParseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("kalshi: no PEM block found in private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// Try PKCS1 as fallback.
		pkcs1Key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return nil, fmt.Errorf("kalshi: parse private key: %w (pkcs1: %v)", err, pkcs1Err)
		}
		return pkcs1Key, nil
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("kalshi: expected RSA private key, got %T", key)
	}
	return rsaKey, nil
}

// RSASigner signs every request with RSA-PSS over timestamp + method + path.
// Signatures never expire, so there is nothing to refresh.
type RSASigner struct {
	keyID string
	key   *rsa.PrivateKey
	now   func() time.Time
}

// NewRSASigner returns a signer for the given API key id.
func NewRSASigner(keyID string, key *rsa.PrivateKey) *RSASigner {
	return &RSASigner{keyID: keyID, key: key, now: time.Now}
}

// Headers implements Authenticator.
func (s *RSASigner) Headers(_ context.Context, method, path string) (http.Header, error) {
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	message := ts + method + path

	hash := sha256.Sum256([]byte(message))
	signature, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return nil, fmt.Errorf("kalshi: RSA sign: %w", err)
	}

	h := http.Header{}
	h.Set("KALSHI-ACCESS-KEY", s.keyID)
	h.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(signature))
	h.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	return h, nil
}

// LoginFunc exchanges credentials for a session token.
type LoginFunc func(ctx context.Context, email, password string) (string, error)

// TokenAuth authenticates with a bearer token obtained by email/password login
// and renews it shortly before it expires.
type TokenAuth struct {
	email    string
	password string
	login    LoginFunc
	now      func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	logins    int
}

// NewTokenAuth creates a token authenticator that logs in through login.
func NewTokenAuth(email, password string, login LoginFunc) *TokenAuth {
	return &TokenAuth{email: email, password: password, login: login, now: time.Now}
}

// SetClock overrides the time source.
func (t *TokenAuth) SetClock(now func() time.Time) { t.now = now }

// Token returns a valid token, logging in when none is held or the current
// one expires within a minute.
func (t *TokenAuth) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.token != "" && now.Before(t.expiresAt.Add(-tokenRefreshLead)) {
		return t.token, nil
	}
	token, err := t.login(ctx, t.email, t.password)
	if err != nil {
		return "", fmt.Errorf("kalshi: login: %w", err)
	}
	t.token = token
	t.expiresAt = now.Add(tokenLifetime)
	t.logins++
	return token, nil
}

// Logins returns how many times a token was obtained.
func (t *TokenAuth) Logins() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.logins
}

// Invalidate drops the held token so the next request logs in again.
func (t *TokenAuth) Invalidate() {
	t.mu.Lock()
	t.token = ""
	t.mu.Unlock()
}

// Headers implements Authenticator.
func (t *TokenAuth) Headers(ctx context.Context, _, _ string) (http.Header, error) {
	token, err := t.Token(ctx)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h, nil
}
