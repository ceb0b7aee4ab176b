package aead

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey stretches a configured secret into a 32-byte AES key with
// HKDF-SHA256. The purpose string separates the state key from the token key
// even if an operator configures the same secret for both.
func DeriveKey(secret, purpose string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("aead: empty secret for %q key", purpose)
	}

	key := make([]byte, KeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(purpose))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("aead: derive %q key: %w", purpose, err)
	}
	return key, nil
}
