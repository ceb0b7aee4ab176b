package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/stefanogebara/twin-connect/domain"
)

// ServerConfig holds all configuration for the connection service.
// Tags use mapstructure for Viper unmarshalling.
type ServerConfig struct {
	HTTPPort  string `mapstructure:"HTTP_PORT"`
	PublicURL string `mapstructure:"PUBLIC_URL"` // external base URL; callback is PUBLIC_URL + /oauth/callback
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`

	// RedisAddr empty means in-process nonce and rate-window stores; set it
	// when running more than one instance.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// The two encryption secrets are distinct on purpose: one protects the
	// state parameter in flight, the other protects tokens at rest.
	StateEncryptionKey string `mapstructure:"STATE_ENCRYPTION_KEY"`
	TokenEncryptionKey string `mapstructure:"TOKEN_ENCRYPTION_KEY"`

	StateTTLMin         int     `mapstructure:"STATE_TTL_MIN"`
	RateLimitRequests   int     `mapstructure:"RATE_LIMIT_REQUESTS"`
	RateLimitWindowMin  int     `mapstructure:"RATE_LIMIT_WINDOW_MIN"`
	RefreshIntervalMin  int     `mapstructure:"REFRESH_INTERVAL_MIN"`
	RefreshLookaheadMin int     `mapstructure:"REFRESH_LOOKAHEAD_MIN"`
	RefreshOutboundRPS  float64 `mapstructure:"REFRESH_OUTBOUND_RPS"`
}

// providerNames are the platforms with built-in endpoint tables. Credentials
// come from <NAME>_CLIENT_ID / <NAME>_CLIENT_SECRET environment variables.
var providerNames = []string{"spotify", "youtube", "gmail", "github", "discord", "slack"}

// LoadConfig reads configuration from file, environment variables, and
// defaults.
func LoadConfig() (*ServerConfig, error) {
	v := newViper()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars and defaults carry it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if cfg.StateEncryptionKey == "" || cfg.TokenEncryptionKey == "" {
		return nil, fmt.Errorf("STATE_ENCRYPTION_KEY and TOKEN_ENCRYPTION_KEY are required")
	}

	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/twin-connect/")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("PUBLIC_URL", "http://localhost:8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("MONGO_URI", "")
	v.SetDefault("MONGO_DB_NAME", "twin_connect")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("STATE_TTL_MIN", 10)
	v.SetDefault("RATE_LIMIT_REQUESTS", 10)
	v.SetDefault("RATE_LIMIT_WINDOW_MIN", 15)
	v.SetDefault("REFRESH_INTERVAL_MIN", 5)
	v.SetDefault("REFRESH_LOOKAHEAD_MIN", 10)
	v.SetDefault("REFRESH_OUTBOUND_RPS", 5)

	return v
}

// RedirectURL is the callback endpoint registered with every provider.
func (c *ServerConfig) RedirectURL() string {
	return strings.TrimRight(c.PublicURL, "/") + "/oauth/callback"
}

// StateTTL returns the configured state lifetime.
func (c *ServerConfig) StateTTL() time.Duration {
	return time.Duration(c.StateTTLMin) * time.Minute
}

// RateLimitWindow returns the configured initiation window.
func (c *ServerConfig) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowMin) * time.Minute
}

// RefreshInterval returns the scheduler tick interval.
func (c *ServerConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalMin) * time.Minute
}

// RefreshLookahead returns the scheduler expiry lookahead.
func (c *ServerConfig) RefreshLookahead() time.Duration {
	return time.Duration(c.RefreshLookaheadMin) * time.Minute
}

// Providers resolves the built-in provider table against configured
// credentials. Providers without credentials are returned unconfigured and
// filtered out by the registry.
func (c *ServerConfig) Providers(defaults func(name string) (*domain.ProviderConfig, bool)) []*domain.ProviderConfig {
	v := newViper()
	out := make([]*domain.ProviderConfig, 0, len(providerNames))
	for _, name := range providerNames {
		cfg, ok := defaults(name)
		if !ok {
			continue
		}
		upper := strings.ToUpper(name)
		cfg.ClientID = v.GetString(upper + "_CLIENT_ID")
		cfg.ClientSecret = v.GetString(upper + "_CLIENT_SECRET")
		out = append(out, cfg)
	}
	return out
}
