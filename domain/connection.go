package domain

import "time"

// ConnectionStatus is the lifecycle state of a platform connection.
type ConnectionStatus string

const (
	// StatusConnected means the connection holds valid (or refreshable) tokens.
	StatusConnected ConnectionStatus = "connected"
	// StatusDisconnected means the user disconnected the platform; ciphertext
	// fields are cleared and the row is retained only as history.
	StatusDisconnected ConnectionStatus = "disconnected"
	// StatusError means refresh or decryption failed terminally; the user must
	// reconnect before the platform is usable again.
	StatusError ConnectionStatus = "error"
)

// Sync outcome labels recorded by extraction workers.
const (
	SyncStatusSuccess = "success"
	SyncStatusFailed  = "failed"
)

// PlatformConnection links a user to a third-party platform account.
// AccessToken and RefreshToken hold AEAD ciphertext in the
// iv:authTag:ciphertext hex wire format, never plaintext.
type PlatformConnection struct {
	ID             string           `bson:"_id,omitempty" json:"id,omitempty"`
	UserID         string           `bson:"user_id" json:"user_id"`
	Provider       string           `bson:"provider" json:"provider"`
	AccessToken    string           `bson:"access_token,omitempty" json:"-"`
	RefreshToken   string           `bson:"refresh_token,omitempty" json:"-"`
	ExpiresAt      *time.Time       `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
	Status         ConnectionStatus `bson:"status" json:"status"`
	LastSyncAt     *time.Time       `bson:"last_sync_at,omitempty" json:"last_sync_at,omitempty"`
	LastSyncStatus string           `bson:"last_sync_status,omitempty" json:"last_sync_status,omitempty"`
	ErrorCount     int              `bson:"error_count" json:"error_count"`
	CreatedAt      time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `bson:"updated_at" json:"updated_at"`
}

// Connected reports whether the connection is in the active state.
func (c *PlatformConnection) Connected() bool {
	return c != nil && c.Status == StatusConnected
}

// ConnectionSummary is the token-free view exposed to the UI and to
// extraction jobs polling for connection state.
type ConnectionSummary struct {
	Provider       string           `json:"provider"`
	Status         ConnectionStatus `json:"status"`
	ExpiresAt      *time.Time       `json:"expires_at,omitempty"`
	LastSyncAt     *time.Time       `json:"last_sync_at,omitempty"`
	LastSyncStatus string           `json:"last_sync_status,omitempty"`
}

// Summary strips token material from the connection.
func (c *PlatformConnection) Summary() ConnectionSummary {
	return ConnectionSummary{
		Provider:       c.Provider,
		Status:         c.Status,
		ExpiresAt:      c.ExpiresAt,
		LastSyncAt:     c.LastSyncAt,
		LastSyncStatus: c.LastSyncStatus,
	}
}
