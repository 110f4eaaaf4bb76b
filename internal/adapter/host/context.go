package host

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AppContext is the decrypted context the host attaches to proxied requests.
// uid identifies the application user inside the host client; act carries
// the action payload from a deep-link re-entry, when present.
type AppContext struct {
	Typ string `json:"typ"`
	UID string `json:"uid"`
	Aud string `json:"aud"`
	Iss string `json:"iss"`
	Ts  int64  `json:"ts"`
	Exp int64  `json:"exp"`
	Act string `json:"act"`
}

// Expired reports whether the context timestamp has passed its window.
func (c *AppContext) Expired() bool {
	return c.Exp > 0 && time.Now().UnixMilli() > c.Exp
}

// DecryptContext unpacks the host's encrypted context header. The header is
// unpadded base64url over a length-prefixed layout:
//
//	[1]ivLen [ivLen]iv [2]aadLen(LE) [aadLen]aad [4]cipherLen(LE) [cipherLen]ciphertext+tag
//
// sealed with AES-GCM under SHA-256 of the client secret.
func DecryptContext(header, clientSecret string) (*AppContext, error) {
	if strings.TrimSpace(header) == "" {
		return nil, fmt.Errorf("empty context header")
	}
	if clientSecret == "" {
		return nil, fmt.Errorf("client secret is required to decrypt context")
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return nil, fmt.Errorf("decode context header: %w", err)
	}

	iv, rest, err := takeSegment(raw, 1)
	if err != nil {
		return nil, fmt.Errorf("read iv: %w", err)
	}
	aad, rest, err := takeSegment(rest, 2)
	if err != nil {
		return nil, fmt.Errorf("read aad: %w", err)
	}
	ciphertext, _, err := takeSegment(rest, 4)
	if err != nil {
		return nil, fmt.Errorf("read ciphertext: %w", err)
	}

	key := sha256.Sum256([]byte(clientSecret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}

	plain, err := aead.Open(nil, iv, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("open context: %w", err)
	}

	var ctx AppContext
	if err := json.Unmarshal(plain, &ctx); err != nil {
		return nil, fmt.Errorf("decode context payload: %w", err)
	}
	return &ctx, nil
}

// takeSegment reads a little-endian length prefix of prefixLen bytes and
// returns the segment it describes plus the remaining buffer.
func takeSegment(buf []byte, prefixLen int) (segment, rest []byte, err error) {
	if len(buf) < prefixLen {
		return nil, nil, fmt.Errorf("truncated length prefix")
	}
	var n int
	switch prefixLen {
	case 1:
		n = int(buf[0])
	case 2:
		n = int(binary.LittleEndian.Uint16(buf))
	case 4:
		n = int(binary.LittleEndian.Uint32(buf))
	default:
		return nil, nil, fmt.Errorf("unsupported prefix length %d", prefixLen)
	}
	buf = buf[prefixLen:]
	if len(buf) < n {
		return nil, nil, fmt.Errorf("truncated segment: want %d bytes, have %d", n, len(buf))
	}
	return buf[:n], buf[n:], nil
}
