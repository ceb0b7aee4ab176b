// Package redis provides shared backends for nonce tracking and rate
// windows, for deployments running more than one service instance.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceStore tracks consumed callback nonces in Redis.
type NonceStore struct {
	client *redis.Client
	prefix string
}

// NewNonceStore creates a [NonceStore] with an optional key prefix.
func NewNonceStore(client *redis.Client, prefix string) *NonceStore {
	return &NonceStore{client: client, prefix: prefix}
}

func (s *NonceStore) key(nonce string) string {
	return fmt.Sprintf("%s:nonce:%s", s.prefix, nonce)
}

// MarkSeen implements domain.NonceStore. SET NX makes the first-use check
// atomic across instances.
func (s *NonceStore) MarkSeen(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(nonce), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark nonce in redis: %w", err)
	}
	return ok, nil
}
