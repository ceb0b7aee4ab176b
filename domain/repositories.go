package domain

import (
	"context"
	"errors"
	"time"
)

// ErrConnectionNotFound is returned when no row exists for (user, provider).
var ErrConnectionNotFound = errors.New("platform connection not found")

// ConnectionRepository owns persistence of PlatformConnection rows.
// Implementations must be safe for concurrent use.
type ConnectionRepository interface {
	// GetByUserAndProvider returns the row for (userID, provider) or
	// ErrConnectionNotFound.
	GetByUserAndProvider(ctx context.Context, userID, provider string) (*PlatformConnection, error)

	// Upsert creates or replaces the row keyed by (UserID, Provider).
	Upsert(ctx context.Context, conn *PlatformConnection) error

	// ListByUser returns every row for the user, any status.
	ListByUser(ctx context.Context, userID string) ([]*PlatformConnection, error)

	// ListExpiring returns connected rows whose expiry falls before the given
	// instant. This is the refresh scheduler's active set.
	ListExpiring(ctx context.Context, before time.Time) ([]*PlatformConnection, error)

	// SetStatus updates only the status field.
	SetStatus(ctx context.Context, userID, provider string, status ConnectionStatus) error

	// RecordRefreshFailure atomically increments the error count and returns
	// the new value.
	RecordRefreshFailure(ctx context.Context, userID, provider string) (int, error)

	// UpdateSyncResult records the outcome of an extraction run.
	UpdateSyncResult(ctx context.Context, userID, provider string, at time.Time, status string) error

	// Disconnect marks the row disconnected and clears token ciphertext.
	// Idempotent: succeeds when the row is absent or already disconnected.
	Disconnect(ctx context.Context, userID, provider string) error
}

// NonceStore tracks consumed callback nonces so a captured state value cannot
// be replayed. Backed by an in-process cache for single-instance deployments
// or Redis when the service is horizontally scaled.
type NonceStore interface {
	// MarkSeen records the nonce and reports whether this was its first use.
	// The entry may be evicted after ttl; the state codec's own TTL check
	// rejects anything older.
	MarkSeen(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// RateWindowStore counts authorization-initiation attempts per caller key
// within a fixed window.
type RateWindowStore interface {
	// Increment bumps the counter for key, starting a new window when none is
	// active, and returns the running count plus the window's reset time.
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error)
}
