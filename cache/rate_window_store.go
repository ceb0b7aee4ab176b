package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryRateWindowStore counts initiation attempts per caller key within a
// fixed window. Expired windows are reaped lazily on access.
type MemoryRateWindowStore struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
}

type rateWindow struct {
	count   int64
	resetAt time.Time
}

// NewMemoryRateWindowStore creates an empty store.
func NewMemoryRateWindowStore() *MemoryRateWindowStore {
	return &MemoryRateWindowStore{windows: make(map[string]*rateWindow)}
}

// Increment implements domain.RateWindowStore.
func (s *MemoryRateWindowStore) Increment(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &rateWindow{resetAt: now.Add(window)}
		s.windows[key] = w
		s.cleanupLocked(now)
	}
	w.count++
	return w.count, w.resetAt, nil
}

// cleanupLocked drops elapsed windows so the map stays bounded by the set of
// recently active callers.
func (s *MemoryRateWindowStore) cleanupLocked(now time.Time) {
	for key, w := range s.windows {
		if now.After(w.resetAt) {
			delete(s.windows, key)
		}
	}
}
