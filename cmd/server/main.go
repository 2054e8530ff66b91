// Command server runs the conference chat backend: an HTTP API that stores
// conversation threads, retrieves relevant knowledge-base content, and streams
// model replies from the configured providers.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/confchat/go-confchat-backend/docs"
	"github.com/confchat/go-confchat-backend/internal/cache"
	"github.com/confchat/go-confchat-backend/internal/config"
	httpapi "github.com/confchat/go-confchat-backend/internal/http"
	"github.com/confchat/go-confchat-backend/internal/observability"
	"github.com/confchat/go-confchat-backend/internal/provider"
	"github.com/confchat/go-confchat-backend/internal/repo"
	"github.com/confchat/go-confchat-backend/internal/retrieval"
	"github.com/confchat/go-confchat-backend/internal/settings"
	"github.com/confchat/go-confchat-backend/internal/sysutil"
)

const version = "1.0.0"

// @title        Conference Chat Backend API
// @version      1.0
// @description  Streaming chat backend for conference attendees with document-grounded answers.
// @BasePath     /api/v1
func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()

	// Logging
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	gin.SetMode(cfg.GinMode)

	docs.SwaggerInfo.BasePath = sysutil.FirstNonEmpty(cfg.APIBasePath, "/api/v1")
	docs.SwaggerInfo.Version = version

	// Tracing
	ctx := context.Background()
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	// Storage
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}

	// Admin-tunable settings snapshot
	settingsStore := settings.NewStore(db)
	if err := settingsStore.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("load settings failed")
	}

	// Model providers. Constructors return nil when unconfigured and the
	// dispatcher skips nil clients, so missing credentials just narrow the
	// available provider set.
	clients := map[string]provider.Client{}
	if c := provider.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL); c != nil {
		clients[provider.IDOpenAI] = c
	}
	if c := provider.NewAnthropicClient(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL, cfg.AnthropicVersion); c != nil {
		clients[provider.IDAnthropic] = c
	}
	if c := provider.NewCompatClient(cfg.Compat.APIKey, cfg.Compat.BaseURL); c != nil {
		clients[provider.IDCompat] = c
	}
	dispatcher := provider.NewDispatcher(clients)

	var embedder provider.Embedder
	if ec := provider.NewEmbeddingClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.EmbeddingModel); ec != nil {
		embedder = ec
	}

	// Retrieval engine with the in-memory chunk index
	engine := retrieval.NewEngine(db, embedder)
	if err := engine.LoadIndex(ctx); err != nil {
		log.Warn().Err(err).Msg("initial index load failed; starting with an empty index")
	}

	// Optional Redis history cache
	var history *cache.HistoryCache
	if cfg.Redis.Addr != "" {
		rdb := redisv9.NewClient(&redisv9.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable; history cache disabled")
		} else {
			history = cache.NewHistoryCache(rdb, cfg.Redis.HistoryTTL)
		}
		cancel()
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Dependencies{
		DB:         db,
		Settings:   settingsStore,
		Engine:     engine,
		Dispatcher: dispatcher,
		History:    history,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown failed")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
