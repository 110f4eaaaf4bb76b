// Package correlation issues the opaque state tokens that thread a single
// OAuth attempt through redirects and through the embedded host's relay.
package correlation

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// stateBytes gives 128 bits of entropy, comfortably above the 96-bit floor
// needed to resist guessing within the cache TTL.
const stateBytes = 16

// maxStateLength bounds inbound state values before they become cache keys.
const maxStateLength = 128

// Generate produces a cryptographically random, URL-safe state token.
// Entropy-source exhaustion is the only failure mode and is not recoverable.
func Generate() (string, error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Valid reports whether an inbound value is plausible as a state token:
// non-empty, bounded, and URL-safe. Consumers never mutate a state; they
// only read records keyed by it, so this is a shape check, not proof of
// issuance.
func Valid(state string) bool {
	if state == "" || len(state) > maxStateLength {
		return false
	}
	for _, r := range state {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}
