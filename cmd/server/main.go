package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"gua-backend/internal/config"
	"gua-backend/internal/database"
	"gua-backend/internal/handlers"
	"gua-backend/internal/logger"
	"gua-backend/internal/middleware"
	"gua-backend/internal/repository"
	"gua-backend/internal/router"
	"gua-backend/internal/services"
	"gua-backend/internal/websocket"
	"gua-backend/internal/worker"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		stdlog.Fatalf("invalid logger configuration: %v", err)
	}
	log.Info().Str("env", cfg.Env).Msg("starting Gua backend")

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("PostgreSQL connection failed")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Redis connection failed")
	}
	defer redisClients.Close()
	log.Info().Msg("Redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(pool, "migrations", logger.Component(log, "migrations")); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	// ──── Repositories ────
	userRepo := repository.NewUserRepo(pool)
	profileRepo := repository.NewProfileRepo(pool)
	conversationRepo := repository.NewConversationRepo(pool)

	// ──── Step 5: Completion Proxy ────
	completion, err := services.NewCompletionProxy(context.Background(), services.CompletionConfig{
		Provider: cfg.CompletionProvider,
		APIKey:   cfg.CompletionAPIKey(),
		KeyName:  cfg.CompletionAPIKeyName(),
		BaseURL:  cfg.CompletionBaseURL,
		Model:    cfg.CompletionModel,
		Timeout:  cfg.CompletionTimeout,
	}, logger.Component(log, "completion"))
	if err != nil {
		log.Fatal().Err(err).Msg("completion proxy initialization failed")
	}
	defer completion.Close()

	// ──── Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	emailService := services.NewEmailService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.FrontendURL, logger.Component(log, "email"))
	mailPool := worker.NewPool(redisClients.Queue, emailService, cfg.MailWorkers, logger.Component(log, "mail"))
	authService := services.NewAuthService(userRepo, redisClients.Queue, jwtAuth, mailPool, logger.Component(log, "auth"))

	localExtractor := services.NewFileExtractService()
	var extractor services.Extractor = localExtractor
	if cfg.ExtractionServiceURL != "" {
		extractor = services.NewRemoteExtractor(cfg.ExtractionServiceURL, cfg.CompletionTimeout)
		log.Info().Str("url", cfg.ExtractionServiceURL).Msg("using remote document extraction")
	}
	ingestor := services.NewDocumentIngestor(extractor, cfg.MaxUploadBytes)

	// ──── Step 6: WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth, logger.Component(log, "ws"))

	sessions := services.NewSessionManager(authService, profileRepo, logger.Component(log, "session")).
		WithIdleTTL(cfg.SessionIdleTTL)
	pipeline := services.NewMessagePipeline(conversationRepo, completion, ingestor, wsHub, logger.Component(log, "pipeline"))

	// ──── Handlers ────
	authHandler := handlers.NewAuthHandler(sessions, pipeline, authService)
	chatHandler := handlers.NewChatHandler(sessions, pipeline, cfg.MaxUploadBytes)
	proxyHandler := handlers.NewProxyHandler(completion, localExtractor, cfg.MaxUploadBytes)

	// ──── Step 7: Start Mail Workers ────
	mailPool.Start()

	// ──── Step 8: Start HTTP Server ────
	r := router.New(jwtAuth, authHandler, chatHandler, proxyHandler, wsHub, cfg.FrontendURL, logger.Component(log, "http"))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.CompletionTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go shutdownOnSignal(server, mailPool, log)

	log.Info().Str("port", cfg.Port).Msgf("Gua Backend listening at http://localhost:%s", cfg.Port)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server error")
	}
}

func shutdownOnSignal(server *http.Server, mailPool *worker.Pool, log zerolog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down")
	mailPool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
