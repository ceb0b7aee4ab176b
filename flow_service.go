package connect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/stefanogebara/twin-connect/domain"
	ce "github.com/stefanogebara/twin-connect/errors"
	"github.com/stefanogebara/twin-connect/internal/metrics"
	"github.com/stefanogebara/twin-connect/internal/pkce"
)

// exchangeTimeout bounds every outbound call to a provider token or userinfo
// endpoint.
const exchangeTimeout = 10 * time.Second

// defaultReturnPath is used when initiation does not name one.
const defaultReturnPath = "/dashboard"

// ConnectionResult is what the callback hands back to the UI: enough to
// confirm the connection, nothing sensitive.
type ConnectionResult struct {
	UserID      string `json:"user_id"`
	Provider    string `json:"provider"`
	ReturnPath  string `json:"return_path"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
}

// FlowService implements authorization initiation and the callback exchange.
// Both paths are request-scoped and stateless between each other: the PKCE
// verifier travels encrypted inside the state parameter, so any instance can
// serve the callback for a URL issued by another.
type FlowService struct {
	registry    *ProviderRegistry
	states      *StateCodec
	vault       *TokenVault
	nonces      domain.NonceStore
	limiter     *InitiationLimiter
	redirectURL string
	httpClient  *http.Client
	now         func() time.Time
}

// NewFlowService wires the flow service. redirectURL is this service's own
// callback endpoint, registered with every provider.
func NewFlowService(
	registry *ProviderRegistry,
	states *StateCodec,
	vault *TokenVault,
	nonces domain.NonceStore,
	limiter *InitiationLimiter,
	redirectURL string,
) *FlowService {
	return &FlowService{
		registry:    registry,
		states:      states,
		vault:       vault,
		nonces:      nonces,
		limiter:     limiter,
		redirectURL: redirectURL,
		httpClient:  &http.Client{Timeout: exchangeTimeout},
		now:         time.Now,
	}
}

// BuildAuthorizationURL composes the provider authorization request for a
// user. callerKey feeds the initiation rate limiter; returnPath must be a
// relative path and falls back to the dashboard.
func (s *FlowService) BuildAuthorizationURL(ctx context.Context, userID, provider, returnPath, callerKey string) (string, error) {
	if err := s.limiter.CheckAndConsume(ctx, callerKey); err != nil {
		return "", err
	}

	cfg, err := s.registry.Lookup(provider)
	if err != nil {
		return "", err
	}

	challenge, err := pkce.Generate()
	if err != nil {
		return "", err
	}

	if returnPath == "" || !strings.HasPrefix(returnPath, "/") || strings.HasPrefix(returnPath, "//") {
		returnPath = defaultReturnPath
	}

	state := &AuthorizationState{
		UserID:       userID,
		Provider:     provider,
		CodeVerifier: challenge.Verifier,
		Nonce:        uuid.NewString(),
		IssuedAt:     s.now().Unix(),
		ReturnPath:   returnPath,
	}
	stateToken, err := s.states.Encode(state)
	if err != nil {
		return "", err
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", challenge.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", challenge.Method),
	}
	for k, v := range cfg.ExtraAuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}

	return oauthConfig(cfg, s.redirectURL).AuthCodeURL(stateToken, opts...), nil
}

// HandleCallback validates the provider redirect and exchanges the code for
// tokens. State validation failures stop the flow before any token exchange;
// exchange failures leave any previously stored connection untouched and are
// never retried here, because the authorization code is single-use.
func (s *FlowService) HandleCallback(ctx context.Context, code, stateToken string) (*ConnectionResult, error) {
	state, err := s.states.Decode(stateToken)
	if err != nil {
		metrics.StateRejectedTotal.Inc()
		return nil, err
	}

	firstUse, err := s.nonces.MarkSeen(ctx, state.Nonce, s.states.TTL())
	if err != nil {
		return nil, fmt.Errorf("nonce check: %w", err)
	}
	if !firstUse {
		metrics.StateRejectedTotal.Inc()
		return nil, ce.NewInvalidState("state parameter was already consumed")
	}

	cfg, err := s.registry.Lookup(state.Provider)
	if err != nil {
		return nil, err
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()
	exchangeCtx = context.WithValue(exchangeCtx, oauth2.HTTPClient, s.httpClient)

	token, err := oauthConfig(cfg, s.redirectURL).Exchange(exchangeCtx, code,
		oauth2.SetAuthURLParam("code_verifier", state.CodeVerifier))
	if err != nil {
		log.Warn().Err(err).
			Str("provider", state.Provider).
			Msg("Authorization code exchange failed")
		return nil, ce.NewTokenExchangeFailed("provider rejected the authorization code or was unreachable")
	}

	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		// Providers that omit expires_in get a conservative default so the
		// refresh scheduler still has a horizon to work with.
		expiresAt = s.now().Add(time.Hour)
	}

	if err := s.vault.Upsert(ctx, state.UserID, state.Provider, TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    expiresAt.UTC(),
	}); err != nil {
		return nil, fmt.Errorf("store tokens: %w", err)
	}
	metrics.ConnectionsEstablishedTotal.Inc()

	result := &ConnectionResult{
		UserID:     state.UserID,
		Provider:   state.Provider,
		ReturnPath: state.ReturnPath,
	}

	// Userinfo is confirmation sugar for the UI; the connection stands even
	// when the lookup fails.
	if info, err := s.fetchUserInfo(ctx, cfg, token.AccessToken); err != nil {
		log.Warn().Err(err).Str("provider", state.Provider).Msg("Userinfo lookup failed")
	} else {
		result.DisplayName = info.displayName
		result.Email = info.email
	}

	log.Info().
		Str("user_id", state.UserID).
		Str("provider", state.Provider).
		Msg("Platform connected")

	return result, nil
}

type providerUserInfo struct {
	displayName string
	email       string
}

// fetchUserInfo pulls the minimal profile from the provider's userinfo
// endpoint. Field names vary per provider, so common aliases are coalesced.
func (s *FlowService) fetchUserInfo(ctx context.Context, cfg *domain.ProviderConfig, accessToken string) (*providerUserInfo, error) {
	if cfg.UserInfoURL == "" {
		return &providerUserInfo{}, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, cfg.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read userinfo: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo failed: status=%d", resp.StatusCode)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}

	return &providerUserInfo{
		displayName: firstString(raw, "display_name", "name", "login", "username", "global_name"),
		email:       firstString(raw, "email"),
	}, nil
}

func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
