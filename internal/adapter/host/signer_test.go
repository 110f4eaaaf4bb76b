package host

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/huddleapps/relay-auth/internal/domain"
)

func TestSignCard(t *testing.T) {
	at := time.UnixMilli(1756380000000)

	sig, err := SignCard(testSecret, "card content", at)
	require.NoError(t, err)
	require.Equal(t, "1756380000000", sig.Timestamp)

	// The verifier rebuilds v0:<timestamp>:<message> and recomputes the HMAC.
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte("v0:" + sig.Timestamp + ":card content"))
	require.Equal(t, hex.EncodeToString(mac.Sum(nil)), sig.Signature)
}

func TestSignCard_TimestampTracksClock(t *testing.T) {
	now := time.Now()
	sig, err := SignCard(testSecret, "m", now)
	require.NoError(t, err)
	require.Equal(t, strconv.FormatInt(now.UnixMilli(), 10), sig.Timestamp)
}

func TestSignCard_RequiresMessage(t *testing.T) {
	_, err := SignCard(testSecret, "", time.Now())
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSignCard_RequiresSecret(t *testing.T) {
	_, err := SignCard("", "card content", time.Now())
	require.Error(t, err)
}
