package handler

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/huddleapps/relay-auth/internal/adapter/host"
)

// sealAppContext produces a context header the way the host platform does:
// JSON payload under AES-GCM keyed by SHA-256 of the client secret, in the
// length-prefixed iv/aad/cipher layout, unpadded base64url.
func sealAppContext(t *testing.T, secret, uid, act string, exp time.Time) string {
	t.Helper()

	plain, err := json.Marshal(host.AppContext{
		Typ: "app_context",
		UID: uid,
		Exp: exp.UnixMilli(),
		Act: act,
	})
	require.NoError(t, err)

	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	require.NoError(t, err)
	aead, err := cipher.NewGCM(block)
	require.NoError(t, err)

	iv := make([]byte, aead.NonceSize())
	_, err = rand.Read(iv)
	require.NoError(t, err)

	aad := []byte(`{"typ":"JWT"}`)
	sealed := aead.Seal(nil, iv, plain, aad)

	buf := []byte{byte(len(iv))}
	buf = append(buf, iv...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(aad)))
	buf = append(buf, aad...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(sealed)))
	buf = append(buf, sealed...)

	return base64.RawURLEncoding.EncodeToString(buf)
}
