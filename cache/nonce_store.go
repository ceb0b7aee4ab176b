// Package cache provides the in-process backends for nonce tracking, rate
// windows, and connection storage. They satisfy single-instance deployments;
// the redis subpackage provides the shared equivalents.
package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryNonceStore tracks consumed callback nonces with TTL eviction.
type MemoryNonceStore struct {
	cache *ttlcache.Cache[string, struct{}]
}

// NewMemoryNonceStore creates a nonce store with automatic expiry cleanup.
func NewMemoryNonceStore() *MemoryNonceStore {
	c := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go c.Start()
	return &MemoryNonceStore{cache: c}
}

// MarkSeen implements domain.NonceStore. The first caller for a nonce wins;
// every later call within the TTL reports a replay.
func (s *MemoryNonceStore) MarkSeen(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	_, existed := s.cache.GetOrSet(nonce, struct{}{}, ttlcache.WithTTL[string, struct{}](ttl))
	return !existed, nil
}

// Close stops the cleanup goroutine.
func (s *MemoryNonceStore) Close() error {
	s.cache.Stop()
	return nil
}
