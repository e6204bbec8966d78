package dht

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // HMAC-SHA1 is the BEP-5 token algorithm, not used for confidentiality
	"sync"
	"time"

	"github.com/kadcrawl/kadcrawl/internal/identifier"
)

// TokenSecretSize is the width of each rotating secret.
const TokenSecretSize = 32

// TokenRotationInterval is how often the current secret is replaced, per
// spec §4.H.
const TokenRotationInterval = 5 * time.Minute

// TokenManager issues and verifies get_peers/announce_peer write-tokens.
// It keeps a current and a previous secret so a token issued just before a
// rotation is still accepted afterward.
type TokenManager struct {
	mu       sync.Mutex
	current  [TokenSecretSize]byte
	previous [TokenSecretSize]byte
	rotated  time.Time
}

// NewTokenManager seeds both secrets from the crypto RNG.
func NewTokenManager() (*TokenManager, error) {
	m := &TokenManager{rotated: time.Now()}
	if _, err := rand.Read(m.current[:]); err != nil {
		return nil, err
	}
	if _, err := rand.Read(m.previous[:]); err != nil {
		return nil, err
	}
	return m, nil
}

// Rotate advances current to previous and generates a fresh current
// secret. Called every TokenRotationInterval by the engine's discovery
// loop.
func (m *TokenManager) Rotate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.previous = m.current
	if _, err := rand.Read(m.current[:]); err != nil {
		return err
	}
	m.rotated = time.Now()
	return nil
}

// Issue returns the current token for endpoint e: HMAC-SHA1(current_secret,
// e.address_bytes).
func (m *TokenManager) Issue(e identifier.Endpoint) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(sign(m.current[:], e))
}

// Verify reports whether token matches the HMAC under the current or
// previous secret.
func (m *TokenManager) Verify(e identifier.Endpoint, token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := []byte(token)
	return hmac.Equal(b, sign(m.current[:], e)) || hmac.Equal(b, sign(m.previous[:], e))
}

func sign(secret []byte, e identifier.Endpoint) []byte {
	h := hmac.New(sha1.New, secret)
	h.Write([]byte(e.Address))
	return h.Sum(nil)
}
