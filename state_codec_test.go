package connect

import (
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ce "github.com/stefanogebara/twin-connect/errors"
	"github.com/stefanogebara/twin-connect/internal/aead"
)

func testCipher(t *testing.T, secret string) *aead.Cipher {
	t.Helper()
	key, err := aead.DeriveKey(secret, "oauth-state")
	require.NoError(t, err)
	c, err := aead.NewCipher(key)
	require.NoError(t, err)
	return c
}

func testState() *AuthorizationState {
	return &AuthorizationState{
		UserID:       "u1",
		Provider:     "spotify",
		CodeVerifier: "abcdefghijklmnopqrstuvwxyzABCDEF0123456789-._~abc",
		Nonce:        "nonce-1",
		IssuedAt:     time.Now().Unix(),
		ReturnPath:   "/dashboard",
	}
}

func TestStateCodecRoundTrip(t *testing.T) {
	codec := NewStateCodec(testCipher(t, "state-secret"), 0)

	token, err := codec.Encode(testState())
	require.NoError(t, err)

	// wire format: exactly two colons
	assert.Equal(t, 2, strings.Count(token, ":"))

	decoded, err := codec.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, testState().UserID, decoded.UserID)
	assert.Equal(t, testState().Provider, decoded.Provider)
	assert.Equal(t, testState().CodeVerifier, decoded.CodeVerifier)
	assert.Equal(t, testState().ReturnPath, decoded.ReturnPath)
}

func TestStateCodecRejectsTampering(t *testing.T) {
	codec := NewStateCodec(testCipher(t, "state-secret"), 0)

	token, err := codec.Encode(testState())
	require.NoError(t, err)
	parts := strings.Split(token, ":")

	// flip one byte of the ciphertext, then of the tag
	for _, idx := range []int{2, 1} {
		raw, err := hex.DecodeString(parts[idx])
		require.NoError(t, err)
		raw[0] ^= 0x01
		tampered := make([]string, 3)
		copy(tampered, parts)
		tampered[idx] = hex.EncodeToString(raw)

		_, err = codec.Decode(strings.Join(tampered, ":"))
		require.Error(t, err)
		assert.Equal(t, ce.KindInvalidState, ce.KindOf(err))
	}
}

func TestStateCodecRejectsWrongKey(t *testing.T) {
	codec := NewStateCodec(testCipher(t, "state-secret"), 0)
	other := NewStateCodec(testCipher(t, "different-secret"), 0)

	token, err := codec.Encode(testState())
	require.NoError(t, err)

	_, err = other.Decode(token)
	assert.Equal(t, ce.KindInvalidState, ce.KindOf(err))
}

func TestStateCodecRejectsExpired(t *testing.T) {
	codec := NewStateCodec(testCipher(t, "state-secret"), 10*time.Minute)

	state := testState()
	state.IssuedAt = time.Now().Add(-11 * time.Minute).Unix()
	token, err := codec.Encode(state)
	require.NoError(t, err)

	// authentically encrypted, but stale
	_, err = codec.Decode(token)
	require.Error(t, err)
	assert.Equal(t, ce.KindInvalidState, ce.KindOf(err))
}

func TestStateCodecRejectsMalformed(t *testing.T) {
	codec := NewStateCodec(testCipher(t, "state-secret"), 0)

	for _, value := range []string{"", "abc", "a:b", "a:b:c:d"} {
		_, err := codec.Decode(value)
		assert.Equal(t, ce.KindInvalidState, ce.KindOf(err), value)
	}
}
