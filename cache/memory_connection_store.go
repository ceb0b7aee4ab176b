package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stefanogebara/twin-connect/domain"
)

// MemoryConnectionStore is an in-memory ConnectionRepository for tests and
// single-node development runs.
type MemoryConnectionStore struct {
	mu    sync.RWMutex
	conns map[string]domain.PlatformConnection
}

var _ domain.ConnectionRepository = (*MemoryConnectionStore)(nil)

// NewMemoryConnectionStore creates an empty store.
func NewMemoryConnectionStore() *MemoryConnectionStore {
	return &MemoryConnectionStore{conns: make(map[string]domain.PlatformConnection)}
}

func connKey(userID, provider string) string { return userID + "/" + provider }

// GetByUserAndProvider implements domain.ConnectionRepository.
func (s *MemoryConnectionStore) GetByUserAndProvider(_ context.Context, userID, provider string) (*domain.PlatformConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.conns[connKey(userID, provider)]
	if !ok {
		return nil, domain.ErrConnectionNotFound
	}
	out := conn
	return &out, nil
}

// Upsert implements domain.ConnectionRepository.
func (s *MemoryConnectionStore) Upsert(_ context.Context, conn *domain.PlatformConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *conn
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	stored.UpdatedAt = time.Now().UTC()
	s.conns[connKey(conn.UserID, conn.Provider)] = stored
	return nil
}

// ListByUser implements domain.ConnectionRepository.
func (s *MemoryConnectionStore) ListByUser(_ context.Context, userID string) ([]*domain.PlatformConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.PlatformConnection
	for _, conn := range s.conns {
		if conn.UserID == userID {
			c := conn
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

// ListExpiring implements domain.ConnectionRepository.
func (s *MemoryConnectionStore) ListExpiring(_ context.Context, before time.Time) ([]*domain.PlatformConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.PlatformConnection
	for _, conn := range s.conns {
		if conn.Status == domain.StatusConnected && conn.ExpiresAt != nil && conn.ExpiresAt.Before(before) {
			c := conn
			out = append(out, &c)
		}
	}
	return out, nil
}

// SetStatus implements domain.ConnectionRepository.
func (s *MemoryConnectionStore) SetStatus(_ context.Context, userID, provider string, status domain.ConnectionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := connKey(userID, provider)
	conn, ok := s.conns[key]
	if !ok {
		return domain.ErrConnectionNotFound
	}
	conn.Status = status
	conn.UpdatedAt = time.Now().UTC()
	s.conns[key] = conn
	return nil
}

// RecordRefreshFailure implements domain.ConnectionRepository.
func (s *MemoryConnectionStore) RecordRefreshFailure(_ context.Context, userID, provider string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := connKey(userID, provider)
	conn, ok := s.conns[key]
	if !ok {
		return 0, domain.ErrConnectionNotFound
	}
	conn.ErrorCount++
	conn.UpdatedAt = time.Now().UTC()
	s.conns[key] = conn
	return conn.ErrorCount, nil
}

// UpdateSyncResult implements domain.ConnectionRepository.
func (s *MemoryConnectionStore) UpdateSyncResult(_ context.Context, userID, provider string, at time.Time, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := connKey(userID, provider)
	conn, ok := s.conns[key]
	if !ok {
		return domain.ErrConnectionNotFound
	}
	conn.LastSyncAt = &at
	conn.LastSyncStatus = status
	conn.UpdatedAt = time.Now().UTC()
	s.conns[key] = conn
	return nil
}

// Disconnect implements domain.ConnectionRepository. Absent rows are a no-op.
func (s *MemoryConnectionStore) Disconnect(_ context.Context, userID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := connKey(userID, provider)
	conn, ok := s.conns[key]
	if !ok {
		return nil
	}
	conn.Status = domain.StatusDisconnected
	conn.AccessToken = ""
	conn.RefreshToken = ""
	conn.ExpiresAt = nil
	conn.UpdatedAt = time.Now().UTC()
	s.conns[key] = conn
	return nil
}
