/**
 * @description
 * This is the main entry point for the subscription API.
 * It initializes and wires together all the components of the application,
 * including configuration, database connection, message broker, rate limiter,
 * repository, service, and the HTTP router. Finally, it starts the HTTP server
 * and shuts it down gracefully on SIGINT or SIGTERM.
 */
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/subscribe/subscription-service/internal/api"
	"github.com/subscribe/subscription-service/internal/app"
	"github.com/subscribe/subscription-service/internal/config"
	"github.com/subscribe/subscription-service/internal/store"
	"github.com/subscribe/subscription-service/pkg/rabbitmq"
)

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbpool, err := store.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Lifecycle events go to RabbitMQ when it is reachable and to the log otherwise.
	var events app.EventPublisher = app.NewLogNotifier(logger)
	if cfg.RabbitMQURL == "" {
		logger.Warn("RABBITMQ_URL not set; lifecycle events will only be logged")
	} else if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL); err != nil {
		logger.Warn("rabbitmq producer unavailable; lifecycle events will only be logged", "error", err)
	} else {
		defer producer.Close()
		events = app.NewBrokerNotifier(producer, cfg.EventsExchange)
		logger.Info("rabbitmq producer connected", "exchange", cfg.EventsExchange)
	}

	var rateLimit func(http.Handler) http.Handler
	if cfg.RedisURL == "" {
		logger.Warn("REDIS_URL not set; write rate limiting disabled")
	} else if redisOptions, err := redis.ParseURL(cfg.RedisURL); err != nil {
		logger.Warn("redis url parse failed; write rate limiting disabled", "error", err)
	} else {
		redisClient := redis.NewClient(redisOptions)
		defer redisClient.Close()
		pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis ping failed; rate limiter will allow requests until it recovers", "error", err)
		} else {
			logger.Info("redis connected")
		}
		cancelPing()
		limiter := app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
		rateLimit = api.WriteRateLimitMiddleware(limiter, cfg.WriteRateLimitPerMinute, logger)
	}

	if cfg.ClerkJWKSURL == "" {
		logger.Warn("CLERK_JWKS_URL not set; every authenticated request will be rejected")
	}
	authenticate := api.ClerkAuthMiddleware(api.AuthConfig{
		JWKSURL:  cfg.ClerkJWKSURL,
		Audience: cfg.ClerkAudience,
		Issuer:   cfg.ClerkIssuer,
	})

	// Initialize application layers
	repository := store.NewRepository(dbpool)
	service := app.NewService(repository, events, logger)
	handler := api.NewHandler(service, logger)
	router := api.NewRouter(handler, authenticate, rateLimit)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
