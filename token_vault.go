package connect

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stefanogebara/twin-connect/domain"
	ce "github.com/stefanogebara/twin-connect/errors"
	"github.com/stefanogebara/twin-connect/internal/aead"
)

// TokenPair is a decrypted token set. Instances live only inside the
// immediate caller (one exchange, one refresh, one extraction request) and
// are never cached or logged.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// TokenVault owns PlatformConnection rows. Tokens cross its boundary as
// plaintext and are stored as AEAD ciphertext under a key distinct from the
// state key.
type TokenVault struct {
	repo   domain.ConnectionRepository
	cipher *aead.Cipher
}

// NewTokenVault wires the vault over a repository and the token cipher.
func NewTokenVault(repo domain.ConnectionRepository, cipher *aead.Cipher) *TokenVault {
	return &TokenVault{repo: repo, cipher: cipher}
}

// Upsert encrypts the pair and writes the (userID, provider) row as
// connected, resetting the error count.
func (v *TokenVault) Upsert(ctx context.Context, userID, provider string, tokens TokenPair) error {
	accessCT, err := v.cipher.Seal([]byte(tokens.AccessToken))
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}

	refreshCT := ""
	if tokens.RefreshToken != "" {
		refreshCT, err = v.cipher.Seal([]byte(tokens.RefreshToken))
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	now := time.Now().UTC()
	expiresAt := tokens.ExpiresAt
	conn := &domain.PlatformConnection{
		UserID:       userID,
		Provider:     provider,
		AccessToken:  accessCT,
		RefreshToken: refreshCT,
		ExpiresAt:    &expiresAt,
		Status:       domain.StatusConnected,
		ErrorCount:   0,
		UpdatedAt:    now,
	}

	if existing, err := v.repo.GetByUserAndProvider(ctx, userID, provider); err == nil {
		conn.ID = existing.ID
		conn.CreatedAt = existing.CreatedAt
		conn.LastSyncAt = existing.LastSyncAt
		conn.LastSyncStatus = existing.LastSyncStatus
	} else {
		conn.CreatedAt = now
	}

	return v.repo.Upsert(ctx, conn)
}

// Get returns the raw row without decrypting anything.
func (v *TokenVault) Get(ctx context.Context, userID, provider string) (*domain.PlatformConnection, error) {
	return v.repo.GetByUserAndProvider(ctx, userID, provider)
}

// Tokens decrypts the stored pair for an active connection. A decryption
// failure (key rotation without migration, corrupted row) forces the
// connection into the error status and reports token_corrupted; it is never
// treated as a silent disconnect.
func (v *TokenVault) Tokens(ctx context.Context, userID, provider string) (*TokenPair, error) {
	conn, err := v.repo.GetByUserAndProvider(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	if !conn.Connected() {
		return nil, ce.NewNotConnected(provider)
	}
	return v.Decrypt(ctx, conn)
}

// Decrypt opens the ciphertext of an already-loaded row.
func (v *TokenVault) Decrypt(ctx context.Context, conn *domain.PlatformConnection) (*TokenPair, error) {
	access, err := v.cipher.Open(conn.AccessToken)
	if err != nil {
		v.markCorrupted(ctx, conn)
		return nil, ce.NewTokenCorrupted("stored access token failed decryption")
	}

	pair := &TokenPair{AccessToken: string(access)}
	if conn.RefreshToken != "" {
		refresh, err := v.cipher.Open(conn.RefreshToken)
		if err != nil {
			v.markCorrupted(ctx, conn)
			return nil, ce.NewTokenCorrupted("stored refresh token failed decryption")
		}
		pair.RefreshToken = string(refresh)
	}
	if conn.ExpiresAt != nil {
		pair.ExpiresAt = *conn.ExpiresAt
	}
	return pair, nil
}

func (v *TokenVault) markCorrupted(ctx context.Context, conn *domain.PlatformConnection) {
	if err := v.repo.SetStatus(ctx, conn.UserID, conn.Provider, domain.StatusError); err != nil {
		log.Error().Err(err).
			Str("user_id", conn.UserID).
			Str("provider", conn.Provider).
			Msg("Failed to mark corrupted connection")
	}
}

// MarkError forces the connection into the error status.
func (v *TokenVault) MarkError(ctx context.Context, userID, provider string) error {
	return v.repo.SetStatus(ctx, userID, provider, domain.StatusError)
}

// MarkSyncResult records the outcome of an extraction run against the row.
func (v *TokenVault) MarkSyncResult(ctx context.Context, userID, provider, status string) error {
	return v.repo.UpdateSyncResult(ctx, userID, provider, time.Now().UTC(), status)
}

// Disconnect logically deletes the connection: status disconnected,
// ciphertext cleared. Idempotent.
func (v *TokenVault) Disconnect(ctx context.Context, userID, provider string) error {
	return v.repo.Disconnect(ctx, userID, provider)
}
