package connect

import (
	"context"
	"fmt"
	"time"

	"github.com/stefanogebara/twin-connect/domain"
	ce "github.com/stefanogebara/twin-connect/errors"
	"github.com/stefanogebara/twin-connect/internal/metrics"
)

// Default initiation budget: 10 authorization URLs per caller per 15 minutes.
const (
	DefaultInitiationLimit  = 10
	DefaultInitiationWindow = 15 * time.Minute
)

// CallerKey combines the authenticated user with the source address, so one
// user hammering from one host cannot starve their other devices and one host
// cannot spray across users.
func CallerKey(userID, sourceIP string) string {
	return userID + "|" + sourceIP
}

// InitiationLimiter bounds how often a caller may request a fresh
// authorization URL. The window state lives behind RateWindowStore so the
// same policy holds for in-process and shared deployments.
type InitiationLimiter struct {
	store  domain.RateWindowStore
	limit  int64
	window time.Duration
}

// NewInitiationLimiter builds a limiter; non-positive limit or window select
// the defaults.
func NewInitiationLimiter(store domain.RateWindowStore, limit int64, window time.Duration) *InitiationLimiter {
	if limit <= 0 {
		limit = DefaultInitiationLimit
	}
	if window <= 0 {
		window = DefaultInitiationWindow
	}
	return &InitiationLimiter{store: store, limit: limit, window: window}
}

// CheckAndConsume spends one initiation attempt for the caller. Past the
// budget it returns a rate_limited FlowError carrying the seconds until the
// window rolls over.
func (l *InitiationLimiter) CheckAndConsume(ctx context.Context, callerKey string) error {
	count, resetAt, err := l.store.Increment(ctx, callerKey, l.window)
	if err != nil {
		return fmt.Errorf("rate window increment: %w", err)
	}

	if count > l.limit {
		metrics.RateLimitRejectedTotal.Inc()
		retryAfter := int(time.Until(resetAt).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		return ce.NewRateLimited(retryAfter)
	}
	return nil
}
