package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	connect "github.com/stefanogebara/twin-connect"
	echoapi "github.com/stefanogebara/twin-connect/api/echo"
	"github.com/stefanogebara/twin-connect/cache"
	redisstore "github.com/stefanogebara/twin-connect/cache/redis"
	"github.com/stefanogebara/twin-connect/config"
	"github.com/stefanogebara/twin-connect/domain"
	"github.com/stefanogebara/twin-connect/internal/aead"
	"github.com/stefanogebara/twin-connect/internal/metrics"
	"github.com/stefanogebara/twin-connect/mongodb"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogging(cfg)
	metrics.Register(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stateKey, err := aead.DeriveKey(cfg.StateEncryptionKey, "oauth-state")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to derive state key")
	}
	tokenKey, err := aead.DeriveKey(cfg.TokenEncryptionKey, "token-at-rest")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to derive token key")
	}
	stateCipher, err := aead.NewCipher(stateKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init state cipher")
	}
	tokenCipher, err := aead.NewCipher(tokenKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init token cipher")
	}

	repo := buildRepository(ctx, cfg)
	nonces, rateWindows := buildStores(cfg)

	registry := connect.NewProviderRegistry(cfg.Providers(connect.DefaultProviderConfig)...)
	if len(registry.Names()) == 0 {
		log.Warn().Msg("No providers configured; set <PROVIDER>_CLIENT_ID/_CLIENT_SECRET")
	} else {
		log.Info().Strs("providers", registry.Names()).Msg("Provider registry loaded")
	}

	vault := connect.NewTokenVault(repo, tokenCipher)
	states := connect.NewStateCodec(stateCipher, cfg.StateTTL())
	limiter := connect.NewInitiationLimiter(rateWindows, int64(cfg.RateLimitRequests), cfg.RateLimitWindow())
	flow := connect.NewFlowService(registry, states, vault, nonces, limiter, cfg.RedirectURL())
	status := connect.NewStatusReader(repo)

	refresher := connect.NewTokenRefresher(registry, vault, repo, cfg.RefreshOutboundRPS)
	scheduler := connect.NewRefreshScheduler(refresher, repo, cfg.RefreshInterval(), cfg.RefreshLookahead())
	go scheduler.Run(ctx)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	echoapi.NewConnectAPI(flow, vault, status).RegisterRoutes(e)

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("HTTP server listening")
		if err := e.Start(":" + cfg.HTTPPort); err != nil {
			log.Info().Err(err).Msg("HTTP server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
}

func setupLogging(cfg *config.ServerConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// buildRepository picks MongoDB when configured, otherwise the in-process
// store (development only: connections do not survive a restart).
func buildRepository(ctx context.Context, cfg *config.ServerConfig) domain.ConnectionRepository {
	if cfg.MongoURI == "" {
		log.Warn().Msg("MONGO_URI not set; using in-memory connection store")
		return cache.NewMemoryConnectionStore()
	}

	db, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	repo, err := mongodb.NewConnectionRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init connection repository")
	}
	return repo
}

// buildStores picks Redis-backed nonce and rate-window stores when REDIS_ADDR
// is set; otherwise both contracts are served in-process.
func buildStores(cfg *config.ServerConfig) (domain.NonceStore, domain.RateWindowStore) {
	if cfg.RedisAddr == "" {
		return cache.NewMemoryNonceStore(), cache.NewMemoryRateWindowStore()
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return redisstore.NewNonceStore(client, "twinconnect"), redisstore.NewRateWindowStore(client, "twinconnect")
}
