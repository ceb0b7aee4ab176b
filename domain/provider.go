package domain

// ProviderConfig describes one third-party platform's OAuth 2.0 surface.
// Entries are data only: adding a platform means adding a row, not code.
type ProviderConfig struct {
	// Name is the unique provider key ("spotify", "github", ...).
	Name string

	AuthURL     string
	TokenURL    string
	UserInfoURL string

	// ClientID and ClientSecret are resolved from configuration at startup,
	// never embedded in source.
	ClientID     string
	ClientSecret string

	Scopes []string

	// RequiresPKCE is true for every built-in provider; PKCE is sent even to
	// providers that treat it as optional.
	RequiresPKCE bool

	// ExtraAuthParams are provider-specific authorization query parameters
	// (e.g. access_type=offline for Google so a refresh token is issued).
	ExtraAuthParams map[string]string
}

// Configured reports whether client credentials are present.
func (p *ProviderConfig) Configured() bool {
	return p != nil && p.ClientID != "" && p.ClientSecret != ""
}
