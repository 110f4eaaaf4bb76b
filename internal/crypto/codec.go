// Package crypto implements the authenticated encryption applied to cached
// token payloads. Records are AES-256-GCM sealed with a process-wide key and
// stored as base64(nonce) + ":" + base64(ciphertext). Values written before
// encryption was introduced are bare JSON; ParseRecord distinguishes the two
// forms so the store can run its legacy fallback explicitly.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/huddleapps/relay-auth/internal/domain"
)

const (
	// NonceSize is the GCM nonce length: 96 bits, drawn fresh per Encrypt.
	NonceSize = 12
	// KeySize is the AES key length: 256 bits.
	KeySize = 32

	delimiter = ":"
)

// RecordKind tags the two wire forms a cache record can take.
type RecordKind int

const (
	// RecordEncrypted is the current form: nonce and ciphertext, base64,
	// joined by a colon.
	RecordEncrypted RecordKind = iota
	// RecordLegacy is a bare JSON-encoded bundle from before encryption
	// was introduced.
	RecordLegacy
)

// Record is the parsed wire form of a cached value.
type Record struct {
	Kind   RecordKind
	Nonce  []byte
	Cipher []byte
	Legacy string
}

// ParseRecord classifies a raw cache value. A value is encrypted when it is
// exactly two base64 segments around the delimiter and the first decodes to
// a full-size nonce; anything else is treated as legacy plaintext. The parse
// is pure: migration of legacy records is the store's job.
func ParseRecord(raw string) Record {
	parts := strings.Split(raw, delimiter)
	if len(parts) != 2 {
		return Record{Kind: RecordLegacy, Legacy: raw}
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(nonce) != NonceSize {
		return Record{Kind: RecordLegacy, Legacy: raw}
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return Record{Kind: RecordLegacy, Legacy: raw}
	}
	return Record{Kind: RecordEncrypted, Nonce: nonce, Cipher: ciphertext}
}

// Codec seals and opens cache records with a single process-wide key.
// Construct once and inject; it is safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec builds a codec from a 64-character hex key.
func NewCodec(keyHex string) (*Codec, error) {
	trimmed := strings.TrimSpace(keyHex)
	if trimmed == "" {
		return nil, fmt.Errorf("encryption key is required")
	}
	key, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encrypt seals the plaintext under a fresh random nonce. Nonce reuse under
// the same key breaks GCM, so the nonce always comes from crypto/rand and is
// never derived from the payload.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("draw nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(nonce) + delimiter +
		base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a record produced by Encrypt. Malformed records, short
// nonces, and authentication failures all surface as ErrDecryptionFailed;
// the caller decides whether a legacy fallback applies.
func (c *Codec) Decrypt(raw string) (string, error) {
	rec := ParseRecord(raw)
	if rec.Kind != RecordEncrypted {
		return "", fmt.Errorf("%w: malformed record", domain.ErrDecryptionFailed)
	}
	return c.Open(rec)
}

// Open decrypts an already-parsed encrypted record.
func (c *Codec) Open(rec Record) (string, error) {
	if rec.Kind != RecordEncrypted {
		return "", fmt.Errorf("%w: not an encrypted record", domain.ErrDecryptionFailed)
	}
	if len(rec.Nonce) != NonceSize {
		return "", fmt.Errorf("%w: invalid nonce length", domain.ErrDecryptionFailed)
	}
	plain, err := c.aead.Open(nil, rec.Nonce, rec.Cipher, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDecryptionFailed, err)
	}
	return string(plain), nil
}

// GenerateKey returns a random 64-character hex key suitable for
// CACHE_ENCRYPTION_KEY. Used by operators at setup time.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("draw key: %w", err)
	}
	return hex.EncodeToString(key), nil
}
