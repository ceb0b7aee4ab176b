// Package pkce generates RFC 7636 code verifier / code challenge pairs.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// MethodS256 is the only challenge method this service emits. Plain is never
// used, even for providers that would accept it.
const MethodS256 = "S256"

// verifierBytes yields an 86-character base64url verifier, inside the
// RFC 7636 43..128 character bounds.
const verifierBytes = 64

// Challenge is a generated verifier/challenge pair.
type Challenge struct {
	Verifier  string
	Challenge string
	Method    string
}

// Generate creates a fresh PKCE pair from the system entropy source.
// An entropy failure is returned as an error, never papered over.
func Generate() (*Challenge, error) {
	buf := make([]byte, verifierBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("pkce: entropy source failed: %w", err)
	}

	verifier := base64.RawURLEncoding.EncodeToString(buf)

	return &Challenge{
		Verifier:  verifier,
		Challenge: ChallengeFromVerifier(verifier),
		Method:    MethodS256,
	}, nil
}

// ChallengeFromVerifier computes the S256 challenge for a verifier.
func ChallengeFromVerifier(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Verify validates a code verifier against an S256 code challenge.
func Verify(challenge, verifier string) bool {
	return challenge == ChallengeFromVerifier(verifier)
}
