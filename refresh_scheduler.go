package connect

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/stefanogebara/twin-connect/domain"
	ce "github.com/stefanogebara/twin-connect/errors"
	"github.com/stefanogebara/twin-connect/internal/metrics"
)

// Scheduler defaults per the renewal policy: scan every 5 minutes for tokens
// expiring within 10, demote after 5 consecutive refresh failures.
const (
	DefaultRefreshInterval  = 5 * time.Minute
	DefaultRefreshLookahead = 10 * time.Minute
	DefaultErrorThreshold   = 5
	defaultRefreshFanout    = 8
)

// TokenRefresher renews a single connection's tokens. Refreshes for the same
// (user, provider) pair are mutually exclusive; most providers rotate the
// refresh token on use, so two overlapping renewals would invalidate each
// other.
type TokenRefresher struct {
	registry *ProviderRegistry
	vault    *TokenVault
	repo     domain.ConnectionRepository
	inflight *keyedMutex
	outbound *rate.Limiter
	now      func() time.Time
}

// NewTokenRefresher wires a refresher. outboundRPS throttles calls against
// provider token endpoints across the whole process; zero disables throttling.
func NewTokenRefresher(registry *ProviderRegistry, vault *TokenVault, repo domain.ConnectionRepository, outboundRPS float64) *TokenRefresher {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if outboundRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(outboundRPS), 1)
	}
	return &TokenRefresher{
		registry: registry,
		vault:    vault,
		repo:     repo,
		inflight: newKeyedMutex(),
		outbound: limiter,
		now:      time.Now,
	}
}

func pairKey(userID, provider string) string { return userID + "/" + provider }

// Refresh renews one connection, waiting for any in-flight refresh of the
// same pair to finish first. Once inside the lock the row is re-read: the
// previous holder may already have renewed it, or the user may have
// disconnected, in which case the work is dropped.
func (r *TokenRefresher) Refresh(ctx context.Context, userID, provider string) error {
	unlock := r.inflight.Lock(pairKey(userID, provider))
	defer unlock()
	return r.refreshLocked(ctx, userID, provider)
}

// TryRefresh is Refresh without waiting: if another refresh of the pair is in
// flight it reports done=false and does nothing.
func (r *TokenRefresher) TryRefresh(ctx context.Context, userID, provider string) (done bool, err error) {
	unlock, ok := r.inflight.TryLock(pairKey(userID, provider))
	if !ok {
		return false, nil
	}
	defer unlock()
	return true, r.refreshLocked(ctx, userID, provider)
}

func (r *TokenRefresher) refreshLocked(ctx context.Context, userID, provider string) error {
	conn, err := r.repo.GetByUserAndProvider(ctx, userID, provider)
	if err != nil {
		return err
	}
	if !conn.Connected() {
		// Disconnected (or demoted) while we waited for the lock.
		return nil
	}

	cfg, err := r.registry.Lookup(provider)
	if err != nil {
		return err
	}

	pair, err := r.vault.Decrypt(ctx, conn)
	if err != nil {
		return err
	}
	if pair.RefreshToken == "" {
		return r.recordFailure(ctx, userID, provider, ce.NewRefreshFailed("connection has no refresh token"))
	}

	if err := r.outbound.Wait(ctx); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()
	callCtx = context.WithValue(callCtx, oauth2.HTTPClient, refreshHTTPClient)

	// TokenSource with an expired token forces a grant_type=refresh_token
	// round trip against the provider.
	src := oauthConfig(cfg, "").TokenSource(callCtx, &oauth2.Token{RefreshToken: pair.RefreshToken})
	token, err := src.Token()
	if err != nil {
		log.Warn().Err(err).
			Str("user_id", userID).
			Str("provider", provider).
			Msg("Token refresh failed")
		return r.recordFailure(ctx, userID, provider, ce.NewRefreshFailed("provider rejected the refresh token or was unreachable"))
	}

	// The provider may or may not rotate the refresh token; keep the old one
	// when no replacement is returned.
	newRefresh := token.RefreshToken
	if newRefresh == "" {
		newRefresh = pair.RefreshToken
	}
	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = r.now().Add(time.Hour)
	}

	// Re-read before writing: a disconnect that landed during the provider
	// call is durable, and its result wins over ours.
	current, err := r.repo.GetByUserAndProvider(ctx, userID, provider)
	if err != nil || !current.Connected() {
		log.Info().
			Str("user_id", userID).
			Str("provider", provider).
			Msg("Discarding refresh result for disconnected pair")
		return nil
	}

	if err := r.vault.Upsert(ctx, userID, provider, TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: newRefresh,
		ExpiresAt:    expiresAt.UTC(),
	}); err != nil {
		return fmt.Errorf("store refreshed tokens: %w", err)
	}

	metrics.RefreshSuccessTotal.Inc()
	return nil
}

var refreshHTTPClient = &http.Client{Timeout: exchangeTimeout}

func (r *TokenRefresher) recordFailure(ctx context.Context, userID, provider string, cause error) error {
	metrics.RefreshFailureTotal.Inc()
	count, err := r.repo.RecordRefreshFailure(ctx, userID, provider)
	if err != nil {
		return fmt.Errorf("record refresh failure: %w", err)
	}
	if count >= DefaultErrorThreshold {
		if err := r.repo.SetStatus(ctx, userID, provider, domain.StatusError); err != nil {
			return fmt.Errorf("demote connection: %w", err)
		}
		log.Error().
			Str("user_id", userID).
			Str("provider", provider).
			Int("error_count", count).
			Msg("Connection demoted to error after repeated refresh failures")
	}
	return cause
}

// ValidAccessToken returns a plaintext access token for extraction workers,
// refreshing synchronously first when the stored one is expired or inside the
// lookahead window. The plaintext is for the immediate caller only.
func (r *TokenRefresher) ValidAccessToken(ctx context.Context, userID, provider string) (string, error) {
	conn, err := r.repo.GetByUserAndProvider(ctx, userID, provider)
	if err != nil {
		return "", err
	}
	if !conn.Connected() {
		return "", ce.NewNotConnected(provider)
	}

	if conn.ExpiresAt == nil || r.now().After(conn.ExpiresAt.Add(-time.Minute)) {
		if err := r.Refresh(ctx, userID, provider); err != nil {
			return "", err
		}
	}

	pair, err := r.vault.Tokens(ctx, userID, provider)
	if err != nil {
		return "", err
	}
	return pair.AccessToken, nil
}

// RefreshScheduler is the recurring background renewal task. Each tick scans
// for connected rows nearing expiry and fans their refreshes out with bounded
// parallelism; per-pair exclusivity lives in the refresher.
type RefreshScheduler struct {
	refresher *TokenRefresher
	repo      domain.ConnectionRepository
	interval  time.Duration
	lookahead time.Duration
	fanout    int
}

// NewRefreshScheduler builds a scheduler; non-positive knobs take defaults.
func NewRefreshScheduler(refresher *TokenRefresher, repo domain.ConnectionRepository, interval, lookahead time.Duration) *RefreshScheduler {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if lookahead <= 0 {
		lookahead = DefaultRefreshLookahead
	}
	return &RefreshScheduler{
		refresher: refresher,
		repo:      repo,
		interval:  interval,
		lookahead: lookahead,
		fanout:    defaultRefreshFanout,
	}
}

// Run ticks until the context is canceled. Failed refreshes are not retried
// within the tick; the next tick picks survivors up again, bounded by the
// error threshold.
func (s *RefreshScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", s.interval).
		Dur("lookahead", s.lookahead).
		Msg("Refresh scheduler started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Refresh scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scan-and-renew pass.
func (s *RefreshScheduler) Tick(ctx context.Context) {
	expiring, err := s.repo.ListExpiring(ctx, time.Now().Add(s.lookahead))
	if err != nil {
		log.Error().Err(err).Msg("Failed to list expiring connections")
		return
	}
	if len(expiring) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanout)
	for _, conn := range expiring {
		conn := conn
		g.Go(func() error {
			// Skip pairs already being refreshed (e.g. by an on-demand
			// ValidAccessToken call); failures are recorded inside.
			if _, err := s.refresher.TryRefresh(gctx, conn.UserID, conn.Provider); err != nil {
				log.Debug().Err(err).
					Str("user_id", conn.UserID).
					Str("provider", conn.Provider).
					Msg("Scheduled refresh attempt failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}
