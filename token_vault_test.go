package connect

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefanogebara/twin-connect/cache"
	"github.com/stefanogebara/twin-connect/domain"
	ce "github.com/stefanogebara/twin-connect/errors"
	"github.com/stefanogebara/twin-connect/internal/aead"
)

func testVault(t *testing.T) (*TokenVault, *cache.MemoryConnectionStore) {
	t.Helper()
	key, err := aead.DeriveKey("token-secret", "token-at-rest")
	require.NoError(t, err)
	cipher, err := aead.NewCipher(key)
	require.NoError(t, err)
	repo := cache.NewMemoryConnectionStore()
	return NewTokenVault(repo, cipher), repo
}

func TestVaultUpsertAndTokens(t *testing.T) {
	vault, repo := testVault(t)
	ctx := context.Background()

	expires := time.Now().Add(time.Hour).UTC()
	require.NoError(t, vault.Upsert(ctx, "u1", "spotify", TokenPair{
		AccessToken:  "access-plain",
		RefreshToken: "refresh-plain",
		ExpiresAt:    expires,
	}))

	stored, err := repo.GetByUserAndProvider(ctx, "u1", "spotify")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConnected, stored.Status)
	assert.NotEqual(t, "access-plain", stored.AccessToken)
	assert.NotEqual(t, "refresh-plain", stored.RefreshToken)
	assert.NotContains(t, stored.AccessToken, "access-plain")
	assert.Equal(t, 2, strings.Count(stored.AccessToken, ":"))
	require.NotNil(t, stored.ExpiresAt)

	pair, err := vault.Tokens(ctx, "u1", "spotify")
	require.NoError(t, err)
	assert.Equal(t, "access-plain", pair.AccessToken)
	assert.Equal(t, "refresh-plain", pair.RefreshToken)
	assert.WithinDuration(t, expires, pair.ExpiresAt, time.Second)
}

func TestVaultCorruptedCiphertext(t *testing.T) {
	vault, repo := testVault(t)
	ctx := context.Background()

	require.NoError(t, vault.Upsert(ctx, "u1", "spotify", TokenPair{
		AccessToken: "access-plain",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	// simulate key rotation without migration
	stored, err := repo.GetByUserAndProvider(ctx, "u1", "spotify")
	require.NoError(t, err)
	stored.AccessToken = "00:11:22"
	require.NoError(t, repo.Upsert(ctx, stored))

	_, err = vault.Tokens(ctx, "u1", "spotify")
	require.Error(t, err)
	assert.Equal(t, ce.KindTokenCorrupted, ce.KindOf(err))

	after, err := repo.GetByUserAndProvider(ctx, "u1", "spotify")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, after.Status)
}

func TestVaultTokensRequiresConnection(t *testing.T) {
	vault, _ := testVault(t)
	ctx := context.Background()

	_, err := vault.Tokens(ctx, "u1", "spotify")
	assert.ErrorIs(t, err, domain.ErrConnectionNotFound)

	require.NoError(t, vault.Upsert(ctx, "u1", "spotify", TokenPair{
		AccessToken: "a",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))
	require.NoError(t, vault.Disconnect(ctx, "u1", "spotify"))

	_, err = vault.Tokens(ctx, "u1", "spotify")
	assert.Equal(t, ce.KindNotConnected, ce.KindOf(err))
}

func TestVaultDisconnectIdempotent(t *testing.T) {
	vault, repo := testVault(t)
	ctx := context.Background()

	// disconnecting a never-connected pair still succeeds
	require.NoError(t, vault.Disconnect(ctx, "u1", "github"))

	require.NoError(t, vault.Upsert(ctx, "u1", "github", TokenPair{
		AccessToken:  "a",
		RefreshToken: "r",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))
	require.NoError(t, vault.Disconnect(ctx, "u1", "github"))
	require.NoError(t, vault.Disconnect(ctx, "u1", "github"))

	stored, err := repo.GetByUserAndProvider(ctx, "u1", "github")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDisconnected, stored.Status)
	assert.Empty(t, stored.AccessToken)
	assert.Empty(t, stored.RefreshToken)
	assert.Nil(t, stored.ExpiresAt)
}

func TestVaultMarkSyncResult(t *testing.T) {
	vault, repo := testVault(t)
	ctx := context.Background()

	require.NoError(t, vault.Upsert(ctx, "u1", "gmail", TokenPair{
		AccessToken: "a",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))
	require.NoError(t, vault.MarkSyncResult(ctx, "u1", "gmail", domain.SyncStatusSuccess))

	stored, err := repo.GetByUserAndProvider(ctx, "u1", "gmail")
	require.NoError(t, err)
	require.NotNil(t, stored.LastSyncAt)
	assert.Equal(t, domain.SyncStatusSuccess, stored.LastSyncStatus)
}

func TestVaultMarkError(t *testing.T) {
	vault, repo := testVault(t)
	ctx := context.Background()

	require.NoError(t, vault.Upsert(ctx, "u1", "gmail", TokenPair{
		AccessToken: "a",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))
	require.NoError(t, vault.MarkError(ctx, "u1", "gmail"))

	stored, err := repo.GetByUserAndProvider(ctx, "u1", "gmail")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, stored.Status)

	// plaintext is refused once the row is in error
	_, err = vault.Tokens(ctx, "u1", "gmail")
	assert.Equal(t, ce.KindNotConnected, ce.KindOf(err))
}
