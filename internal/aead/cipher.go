// Package aead implements the authenticated encryption primitive shared by
// the state codec and the token vault. Sealed values use the
// hex(iv):hex(authTag):hex(ciphertext) wire format with a 16-byte IV and a
// 16-byte GCM tag.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32
	ivSize  = 16
	tagSize = 16
)

// ErrMalformed means the wire value does not parse as iv:authTag:ciphertext.
var ErrMalformed = errors.New("aead: malformed encrypted payload")

// ErrAuthentication means the payload parsed but did not authenticate:
// tampered ciphertext, truncation, or the wrong key. Decryption fails closed.
var ErrAuthentication = errors.New("aead: authentication failed")

// Cipher seals and opens secrets with AES-256-GCM.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("aead: key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aead: init cipher: %w", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("aead: init gcm: %w", err)
	}

	return &Cipher{aead: gcm}, nil
}

// Seal encrypts plaintext under a fresh random IV and returns the three-part
// hex wire value.
func (c *Cipher) Seal(plaintext []byte) (string, error) {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("aead: entropy source failed: %w", err)
	}

	// GCM appends the tag to the ciphertext; split it back out so the wire
	// format carries iv, tag, and ciphertext as separate components.
	sealed := c.aead.Seal(nil, iv, plaintext, nil)
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Open parses, authenticates, and decrypts a sealed value. Any format or
// authentication problem returns ErrMalformed or ErrAuthentication; partial
// plaintext is never returned.
func (c *Cipher) Open(value string) ([]byte, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return nil, ErrMalformed
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return nil, ErrMalformed
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return nil, ErrMalformed
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return nil, ErrMalformed
	}

	plaintext, err := c.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}
