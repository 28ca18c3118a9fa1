package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/echoproof/echo/internal/evm"
)

// DefaultChallengeTTL is how long a sign-in nonce stays valid.
const DefaultChallengeTTL = 5 * time.Minute

var (
	// ErrNoChallenge is returned when the address has no pending, unexpired
	// challenge.
	ErrNoChallenge = errors.New("auth: no pending challenge")
	// ErrBadSignature is returned when the challenge signature does not
	// recover to the address.
	ErrBadSignature = errors.New("auth: challenge signature does not match address")
)

// Challenge is a pending sign-in.
type Challenge struct {
	Address   string    `json:"address"`
	Message   string    `json:"message"`
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Challenges hands out single-use sign-in nonces, one per address.
type Challenges struct {
	mu      sync.Mutex
	pending map[string]Challenge
	ttl     time.Duration
	now     func() time.Time
}

// NewChallenges creates a challenge store.
func NewChallenges(ttl time.Duration) *Challenges {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &Challenges{pending: make(map[string]Challenge), ttl: ttl, now: time.Now}
}

// Issue creates a challenge for address, replacing any pending one.
func (c *Challenges) Issue(address string) (Challenge, error) {
	normalized, err := evm.NormalizeAddress(address)
	if err != nil {
		return Challenge{}, err
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return Challenge{}, fmt.Errorf("generate nonce: %w", err)
	}
	now := c.now().UTC()
	ch := Challenge{
		Address:   normalized,
		Nonce:     hex.EncodeToString(buf),
		ExpiresAt: now.Add(c.ttl),
	}
	ch.Message = fmt.Sprintf("Sign in to ECHO\n\nAddress: %s\nNonce: %s\nIssued At: %s",
		normalized, ch.Nonce, now.Format(time.RFC3339))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.gc(now)
	c.pending[normalized] = ch
	return ch, nil
}

// Redeem checks signature against the pending challenge for address and
// consumes it. A failed check leaves the challenge pending.
func (c *Challenges) Redeem(address, signature string) (string, error) {
	normalized, err := evm.NormalizeAddress(address)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.pending[normalized]
	if !ok || !c.now().Before(ch.ExpiresAt) {
		delete(c.pending, normalized)
		return "", ErrNoChallenge
	}
	if err := evm.Verify(ch.Message, signature, normalized); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	delete(c.pending, normalized)
	return normalized, nil
}

// gc drops expired challenges. Caller holds mu.
func (c *Challenges) gc(now time.Time) {
	for k, ch := range c.pending {
		if !now.Before(ch.ExpiresAt) {
			delete(c.pending, k)
		}
	}
}
