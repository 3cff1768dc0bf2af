package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"sync"
)

// Checker matches candidate passwords against the configured api.password.
//
// An Argon2id hash costs 64 MiB and several milliseconds per check, so the
// digest of the last accepted password is remembered and repeat requests
// with the same password skip the key derivation.
type Checker struct {
	configured string
	hashed     bool

	mu       sync.Mutex
	accepted [sha256.Size]byte
	cached   bool
}

// NewChecker returns a Checker for the configured password, which may be
// plaintext or a PHC string from HashPassword. An empty value rejects
// every candidate.
func NewChecker(configured string) *Checker {
	return &Checker{configured: configured, hashed: IsHash(configured)}
}

// Match reports whether given is the configured password.
func (c *Checker) Match(given string) bool {
	if c == nil || c.configured == "" || given == "" {
		return false
	}
	if !c.hashed {
		return subtle.ConstantTimeCompare([]byte(given), []byte(c.configured)) == 1
	}

	digest := sha256.Sum256([]byte(given))

	c.mu.Lock()
	hit := c.cached && subtle.ConstantTimeCompare(digest[:], c.accepted[:]) == 1
	c.mu.Unlock()
	if hit {
		return true
	}

	ok, err := VerifyPassword(given, c.configured)
	if err != nil || !ok {
		return false
	}

	c.mu.Lock()
	c.accepted = digest
	c.cached = true
	c.mu.Unlock()
	return true
}
