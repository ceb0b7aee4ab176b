package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateWindowStore counts initiation attempts in Redis so the window budget
// holds across instances.
type RateWindowStore struct {
	client *redis.Client
	prefix string
}

// NewRateWindowStore creates a [RateWindowStore] with an optional key prefix.
func NewRateWindowStore(client *redis.Client, prefix string) *RateWindowStore {
	return &RateWindowStore{client: client, prefix: prefix}
}

func (s *RateWindowStore) key(callerKey string) string {
	return fmt.Sprintf("%s:ratewin:%s", s.prefix, callerKey)
}

// Increment implements domain.RateWindowStore. INCR starts the window on
// first touch; the expiry is only set then, so the window is fixed rather
// than sliding.
func (s *RateWindowStore) Increment(ctx context.Context, callerKey string, window time.Duration) (int64, time.Time, error) {
	key := s.key(callerKey)

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("increment rate window: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("arm rate window expiry: %w", err)
		}
		return count, time.Now().Add(window), nil
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		// Lost or persistent key; report a full window to stay conservative.
		ttl = window
	}
	return count, time.Now().Add(ttl), nil
}
