package connect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefanogebara/twin-connect/cache"
	ce "github.com/stefanogebara/twin-connect/errors"
)

func TestInitiationLimiterBudget(t *testing.T) {
	limiter := NewInitiationLimiter(cache.NewMemoryRateWindowStore(), 10, 15*time.Minute)
	ctx := context.Background()
	key := CallerKey("u1", "203.0.113.7")

	for i := 0; i < 10; i++ {
		require.NoError(t, limiter.CheckAndConsume(ctx, key), "request %d should pass", i+1)
	}

	err := limiter.CheckAndConsume(ctx, key)
	require.Error(t, err)
	assert.Equal(t, ce.KindRateLimited, ce.KindOf(err))

	var fe *ce.FlowError
	require.True(t, errors.As(err, &fe))
	assert.Greater(t, fe.RetryAfterSeconds, 0)

	// a different caller key is unaffected
	assert.NoError(t, limiter.CheckAndConsume(ctx, CallerKey("u2", "203.0.113.7")))
}

func TestInitiationLimiterWindowRollsOver(t *testing.T) {
	limiter := NewInitiationLimiter(cache.NewMemoryRateWindowStore(), 2, 50*time.Millisecond)
	ctx := context.Background()
	key := CallerKey("u1", "203.0.113.7")

	require.NoError(t, limiter.CheckAndConsume(ctx, key))
	require.NoError(t, limiter.CheckAndConsume(ctx, key))
	require.Error(t, limiter.CheckAndConsume(ctx, key))

	time.Sleep(60 * time.Millisecond)

	assert.NoError(t, limiter.CheckAndConsume(ctx, key))
}

func TestInitiationLimiterDefaults(t *testing.T) {
	limiter := NewInitiationLimiter(cache.NewMemoryRateWindowStore(), 0, 0)
	assert.Equal(t, int64(DefaultInitiationLimit), limiter.limit)
	assert.Equal(t, DefaultInitiationWindow, limiter.window)
}
