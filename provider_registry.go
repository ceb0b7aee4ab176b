package connect

import (
	"sort"

	"golang.org/x/oauth2"

	"github.com/stefanogebara/twin-connect/domain"
	ce "github.com/stefanogebara/twin-connect/errors"
)

// defaultEndpoints holds the built-in per-platform OAuth parameter table.
// Client credentials are deliberately absent: they come from configuration.
var defaultEndpoints = map[string]domain.ProviderConfig{
	"spotify": {
		Name:         "spotify",
		AuthURL:      "https://accounts.spotify.com/authorize",
		TokenURL:     "https://accounts.spotify.com/api/token",
		UserInfoURL:  "https://api.spotify.com/v1/me",
		Scopes:       []string{"user-read-recently-played", "user-top-read", "user-library-read"},
		RequiresPKCE: true,
	},
	"youtube": {
		Name:         "youtube",
		AuthURL:      "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:     "https://oauth2.googleapis.com/token",
		UserInfoURL:  "https://www.googleapis.com/oauth2/v2/userinfo",
		Scopes:       []string{"https://www.googleapis.com/auth/youtube.readonly"},
		RequiresPKCE: true,
		ExtraAuthParams: map[string]string{
			"access_type": "offline",
			"prompt":      "consent",
		},
	},
	"gmail": {
		Name:         "gmail",
		AuthURL:      "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:     "https://oauth2.googleapis.com/token",
		UserInfoURL:  "https://www.googleapis.com/oauth2/v2/userinfo",
		Scopes:       []string{"https://www.googleapis.com/auth/gmail.readonly"},
		RequiresPKCE: true,
		ExtraAuthParams: map[string]string{
			"access_type": "offline",
			"prompt":      "consent",
		},
	},
	"github": {
		Name:         "github",
		AuthURL:      "https://github.com/login/oauth/authorize",
		TokenURL:     "https://github.com/login/oauth/access_token",
		UserInfoURL:  "https://api.github.com/user",
		Scopes:       []string{"read:user", "user:email", "repo"},
		RequiresPKCE: true,
	},
	"discord": {
		Name:         "discord",
		AuthURL:      "https://discord.com/api/oauth2/authorize",
		TokenURL:     "https://discord.com/api/oauth2/token",
		UserInfoURL:  "https://discord.com/api/users/@me",
		Scopes:       []string{"identify", "email"},
		RequiresPKCE: true,
	},
	"slack": {
		Name:         "slack",
		AuthURL:      "https://slack.com/oauth/v2/authorize",
		TokenURL:     "https://slack.com/api/oauth.v2.access",
		UserInfoURL:  "https://slack.com/api/users.identity",
		Scopes:       []string{"identity.basic", "identity.email"},
		RequiresPKCE: true,
	},
}

// DefaultProviderConfig returns a copy of the built-in table entry for name.
func DefaultProviderConfig(name string) (*domain.ProviderConfig, bool) {
	cfg, ok := defaultEndpoints[name]
	if !ok {
		return nil, false
	}
	out := cfg
	out.Scopes = append([]string(nil), cfg.Scopes...)
	if cfg.ExtraAuthParams != nil {
		out.ExtraAuthParams = make(map[string]string, len(cfg.ExtraAuthParams))
		for k, v := range cfg.ExtraAuthParams {
			out.ExtraAuthParams[k] = v
		}
	}
	return &out, true
}

// ProviderRegistry is the static read-only lookup table for platform OAuth
// configuration. No other component branches on provider identity.
type ProviderRegistry struct {
	providers map[string]*domain.ProviderConfig
}

// NewProviderRegistry builds a registry from fully resolved provider configs.
// Entries without client credentials are skipped so a half-configured
// provider is indistinguishable from an unknown one.
func NewProviderRegistry(configs ...*domain.ProviderConfig) *ProviderRegistry {
	reg := &ProviderRegistry{providers: make(map[string]*domain.ProviderConfig, len(configs))}
	for _, cfg := range configs {
		if cfg.Configured() {
			reg.providers[cfg.Name] = cfg
		}
	}
	return reg
}

// Lookup resolves a provider by name.
func (r *ProviderRegistry) Lookup(name string) (*domain.ProviderConfig, error) {
	cfg, ok := r.providers[name]
	if !ok {
		return nil, ce.NewUnknownProvider(name)
	}
	return cfg, nil
}

// Names lists the registered providers in stable order.
func (r *ProviderRegistry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// oauthConfig adapts a registry entry to the x/oauth2 client configuration.
func oauthConfig(cfg *domain.ProviderConfig, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.AuthURL,
			TokenURL: cfg.TokenURL,
		},
	}
}
