package pkce_test

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefanogebara/twin-connect/internal/pkce"
)

func TestGenerate(t *testing.T) {
	ch, err := pkce.Generate()
	require.NoError(t, err)

	assert.Equal(t, pkce.MethodS256, ch.Method)
	assert.GreaterOrEqual(t, len(ch.Verifier), 43)
	assert.LessOrEqual(t, len(ch.Verifier), 128)

	sum := sha256.Sum256([]byte(ch.Verifier))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), ch.Challenge)

	// base64url output must never need escaping in a query string
	_, err = base64.RawURLEncoding.DecodeString(ch.Verifier)
	assert.NoError(t, err)
}

func TestGenerateUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		ch, err := pkce.Generate()
		require.NoError(t, err)
		assert.False(t, seen[ch.Verifier], "verifier repeated")
		seen[ch.Verifier] = true
	}
}

func TestVerify(t *testing.T) {
	ch, err := pkce.Generate()
	require.NoError(t, err)

	assert.True(t, pkce.Verify(ch.Challenge, ch.Verifier))
	assert.False(t, pkce.Verify(ch.Challenge, ch.Verifier+"x"))
	// plain method is rejected: challenge equal to verifier does not pass
	assert.False(t, pkce.Verify(ch.Verifier, ch.Verifier))
}
