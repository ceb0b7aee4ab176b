package echo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	connect "github.com/stefanogebara/twin-connect"
	"github.com/stefanogebara/twin-connect/cache"
	"github.com/stefanogebara/twin-connect/domain"
	"github.com/stefanogebara/twin-connect/internal/aead"
)

func newTestAPI(t *testing.T, rateLimit int64) (*ConnectAPI, *connect.TokenVault) {
	t.Helper()

	stateKey, err := aead.DeriveKey("handler-test-secret", "oauth-state")
	require.NoError(t, err)
	stateCipher, err := aead.NewCipher(stateKey)
	require.NoError(t, err)
	tokenKey, err := aead.DeriveKey("handler-test-secret", "token-at-rest")
	require.NoError(t, err)
	tokenCipher, err := aead.NewCipher(tokenKey)
	require.NoError(t, err)

	repo := cache.NewMemoryConnectionStore()
	vault := connect.NewTokenVault(repo, tokenCipher)
	registry := connect.NewProviderRegistry(&domain.ProviderConfig{
		Name:         "spotify",
		AuthURL:      "https://accounts.example/authorize",
		TokenURL:     "https://accounts.example/api/token",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RequiresPKCE: true,
	})
	states := connect.NewStateCodec(stateCipher, connect.DefaultStateTTL)
	limiter := connect.NewInitiationLimiter(cache.NewMemoryRateWindowStore(), rateLimit, time.Minute)
	nonces := cache.NewMemoryNonceStore()
	t.Cleanup(func() { _ = nonces.Close() })

	flow := connect.NewFlowService(registry, states, vault, nonces, limiter, "http://localhost:8080/oauth/callback")
	return NewConnectAPI(flow, vault, connect.NewStatusReader(repo)), vault
}

func doRequest(t *testing.T, api *ConnectAPI, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	api.RegisterRoutes(e)
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestInitiateHandler(t *testing.T) {
	api, _ := newTestAPI(t, 100)

	rec := doRequest(t, api, http.MethodPost, "/connect/spotify?return_path=/settings", map[string]string{
		"X-User-ID": "u1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["authUrl"], "https://accounts.example/authorize")
	assert.Contains(t, body["authUrl"], "code_challenge_method=S256")
	assert.Contains(t, body["authUrl"], "state=")
}

func TestInitiateHandlerMissingIdentity(t *testing.T) {
	api, _ := newTestAPI(t, 100)

	rec := doRequest(t, api, http.MethodPost, "/connect/spotify", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInitiateHandlerUnknownProvider(t *testing.T) {
	api, _ := newTestAPI(t, 100)

	rec := doRequest(t, api, http.MethodPost, "/connect/myspace", map[string]string{
		"X-User-ID": "u1",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown_provider")
}

func TestInitiateHandlerRateLimited(t *testing.T) {
	api, _ := newTestAPI(t, 1)

	headers := map[string]string{"X-User-ID": "u1"}
	rec := doRequest(t, api, http.MethodPost, "/connect/spotify", headers)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, api, http.MethodPost, "/connect/spotify", headers)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate_limited")
}

func TestCallbackHandlerMissingParams(t *testing.T) {
	api, _ := newTestAPI(t, 100)

	rec := doRequest(t, api, http.MethodGet, "/oauth/callback?code=abc", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard?error=invalid_state", rec.Header().Get("Location"))
}

func TestCallbackHandlerBadState(t *testing.T) {
	api, _ := newTestAPI(t, 100)

	rec := doRequest(t, api, http.MethodGet, "/oauth/callback?code=abc&state=garbage", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard?error=invalid_state", rec.Header().Get("Location"))
}

func TestConnectionsHandler(t *testing.T) {
	api, vault := newTestAPI(t, 100)
	require.NoError(t, vault.Upsert(context.Background(), "u1", "spotify", connect.TokenPair{
		AccessToken:  "plaintext-access-token",
		RefreshToken: "plaintext-refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))

	rec := doRequest(t, api, http.MethodGet, "/connections/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Connections []domain.ConnectionSummary `json:"connections"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Connections, 1)
	assert.Equal(t, "spotify", body.Connections[0].Provider)
	assert.Equal(t, domain.StatusConnected, body.Connections[0].Status)
	assert.NotContains(t, rec.Body.String(), "plaintext-access-token", "summaries must not leak token material")
}

func TestDisconnectHandler(t *testing.T) {
	api, vault := newTestAPI(t, 100)
	ctx := context.Background()
	require.NoError(t, vault.Upsert(ctx, "u1", "spotify", connect.TokenPair{
		AccessToken: "at",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	rec := doRequest(t, api, http.MethodDelete, "/connections/u1/spotify", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// idempotent for absent rows too
	rec = doRequest(t, api, http.MethodDelete, "/connections/u2/github", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHealthHandler(t *testing.T) {
	api, _ := newTestAPI(t, 100)

	rec := doRequest(t, api, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
