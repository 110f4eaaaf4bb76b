package host

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/huddleapps/relay-auth/internal/domain"
)

// cardSigningVersion prefixes every signing base string so the host can
// rotate the scheme without ambiguity.
const cardSigningVersion = "v0"

// CardSignature is a timestamped HMAC the host verifies before rendering
// app-supplied card content.
type CardSignature struct {
	Signature string `json:"signature"`
	Timestamp string `json:"timestamp"`
}

// SignCard computes the host's message signature: HMAC-SHA256 over
// "v0:<millis>:<message>" keyed by the app's client secret, hex-encoded.
// The timestamp is returned alongside so the verifier can rebuild the exact
// base string.
func SignCard(clientSecret, message string, at time.Time) (CardSignature, error) {
	if clientSecret == "" {
		return CardSignature{}, fmt.Errorf("client secret is required to sign messages")
	}
	if message == "" {
		return CardSignature{}, fmt.Errorf("%w: message is required", domain.ErrInvalidInput)
	}

	timestamp := strconv.FormatInt(at.UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(clientSecret))
	mac.Write([]byte(cardSigningVersion + ":" + timestamp + ":" + message))

	return CardSignature{
		Signature: hex.EncodeToString(mac.Sum(nil)),
		Timestamp: timestamp,
	}, nil
}
