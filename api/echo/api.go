// Package echo exposes the connection manager over HTTP.
package echo

import (
	goerrors "errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	connect "github.com/stefanogebara/twin-connect"
	ce "github.com/stefanogebara/twin-connect/errors"
)

// ConnectAPI struct to hold dependencies.
type ConnectAPI struct {
	flow   *connect.FlowService
	vault  *connect.TokenVault
	status *connect.StatusReader
}

// NewConnectAPI initializes the connection API.
func NewConnectAPI(flow *connect.FlowService, vault *connect.TokenVault, status *connect.StatusReader) *ConnectAPI {
	return &ConnectAPI{flow: flow, vault: vault, status: status}
}

// RegisterRoutes registers the connection routes.
func (a *ConnectAPI) RegisterRoutes(e *echo.Echo) {
	e.POST("/connect/:provider", a.InitiateHandler)
	e.GET("/oauth/callback", a.CallbackHandler)
	e.GET("/connections/:userId", a.ConnectionsHandler)
	e.DELETE("/connections/:userId/:provider", a.DisconnectHandler)

	e.GET("/healthz", a.HealthHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// InitiateHandler starts the authorization flow for a platform and returns
// the URL the UI should send the user to. Caller identity arrives in the
// X-User-ID header (set by the fronting auth layer).
func (a *ConnectAPI) InitiateHandler(c echo.Context) error {
	provider := c.Param("provider")
	userID := c.Request().Header.Get("X-User-ID")
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing caller identity"})
	}

	returnPath := c.QueryParam("return_path")
	callerKey := connect.CallerKey(userID, c.RealIP())

	authURL, err := a.flow.BuildAuthorizationURL(c.Request().Context(), userID, provider, returnPath, callerKey)
	if err != nil {
		return a.writeFlowError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"authUrl": authURL})
}

// CallbackHandler receives the provider redirect. The user lands here with a
// browser, so outcomes are communicated by redirecting back into the UI with
// a query flag rather than with a JSON body.
func (a *ConnectAPI) CallbackHandler(c echo.Context) error {
	code := c.QueryParam("code")
	state := c.QueryParam("state")
	if code == "" || state == "" {
		return c.Redirect(http.StatusFound, "/dashboard?error="+ce.KindInvalidState)
	}

	result, err := a.flow.HandleCallback(c.Request().Context(), code, state)
	if err != nil {
		kind := ce.KindOf(err)
		if kind == "" {
			log.Error().Err(err).Msg("Callback exchange failed")
			kind = ce.KindTokenExchangeFailed
		}
		return c.Redirect(http.StatusFound, "/dashboard?error="+kind)
	}

	target := result.ReturnPath + "?connected=" + url.QueryEscape(result.Provider)
	return c.Redirect(http.StatusFound, target)
}

// ConnectionsHandler returns token-free connection summaries for a user.
func (a *ConnectAPI) ConnectionsHandler(c echo.Context) error {
	userID := c.Param("userId")

	summaries, err := a.status.ListConnections(c.Request().Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to list connections")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list connections"})
	}

	return c.JSON(http.StatusOK, echo.Map{"connections": summaries})
}

// DisconnectHandler logically deletes a connection. Idempotent: disconnecting
// an absent or already-disconnected connection is still a 204.
func (a *ConnectAPI) DisconnectHandler(c echo.Context) error {
	userID := c.Param("userId")
	provider := c.Param("provider")

	if err := a.vault.Disconnect(c.Request().Context(), userID, provider); err != nil {
		log.Error().Err(err).
			Str("user_id", userID).
			Str("provider", provider).
			Msg("Failed to disconnect")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to disconnect"})
	}

	return c.NoContent(http.StatusNoContent)
}

// HealthHandler reports liveness.
func (a *ConnectAPI) HealthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

// writeFlowError maps the error taxonomy onto HTTP statuses.
func (a *ConnectAPI) writeFlowError(c echo.Context, err error) error {
	var fe *ce.FlowError
	if !goerrors.As(err, &fe) {
		log.Error().Err(err).Msg("Initiation failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	switch fe.Kind {
	case ce.KindUnknownProvider:
		return c.JSON(http.StatusNotFound, fe)
	case ce.KindRateLimited:
		c.Response().Header().Set("Retry-After", strconv.Itoa(fe.RetryAfterSeconds))
		return c.JSON(http.StatusTooManyRequests, fe)
	case ce.KindInvalidState:
		return c.JSON(http.StatusBadRequest, fe)
	default:
		return c.JSON(http.StatusBadGateway, fe)
	}
}
