/**
 * @description
 * This is the main entry point for the signup-service.
 * It initializes and wires together all the components of the application:
 * configuration, database pool, rate limiter backend, RabbitMQ producer,
 * external clients, the signup service, the provisioning engine, the cron
 * maintenance jobs and the HTTP router. Finally, it starts the HTTP server
 * and handles graceful shutdown.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/Sawxor19/saas-clinica-odontologica-sub001/internal/api"
	"github.com/Sawxor19/saas-clinica-odontologica-sub001/internal/app"
	"github.com/Sawxor19/saas-clinica-odontologica-sub001/internal/config"
	"github.com/Sawxor19/saas-clinica-odontologica-sub001/internal/store"
	"github.com/Sawxor19/saas-clinica-odontologica-sub001/pkg/authclient"
	"github.com/Sawxor19/saas-clinica-odontologica-sub001/pkg/paymentclient"
	"github.com/Sawxor19/saas-clinica-odontologica-sub001/pkg/rabbitmq"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Establish connection to the PostgreSQL database with connection pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}

	// Configure connection pool for high-traffic scenarios
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// IMPORTANT: Disable prepared statements to work with PgBouncer transaction pooling
	// Use simple protocol to avoid statement cache errors (SQLSTATE 42P05)
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	repository := store.NewPostgresRepository(dbpool)

	// Rate limiter backend: Redis when configured (multi-instance deployments),
	// otherwise the in-process counter.
	limiter := buildRateLimiter(ctx, cfg, logger)

	// RabbitMQ producer for OTP and intake-link dispatch. Falls back to a
	// log-only producer so local development works without a broker.
	var publisher app.EventPublisher
	if cfg.RabbitMQURL == "" {
		logger.Warn("RABBITMQ_URL not set, notification events will only be logged")
		publisher = rabbitmq.LogOnlyProducer{}
	} else if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL); err != nil {
		logger.Warn("failed to connect to RabbitMQ, notification events will only be logged", "error", err)
		publisher = rabbitmq.LogOnlyProducer{}
	} else {
		defer producer.Close()
		logger.Info("rabbitmq producer connected")
		publisher = producer
	}

	authClient := authclient.NewClient(cfg.AuthAPIBaseURL, cfg.AuthAPIKey)
	paymentClient := paymentclient.NewClient(cfg.PaymentAPIBaseURL, cfg.PaymentAPIKey)

	signupService := app.NewSignupService(repository, limiter, authClient, paymentClient, publisher, logger, cfg)
	provisioner := app.NewProvisioner(repository, publisher, logger, cfg.PIIEncryptionKey)

	// Periodic maintenance: intent expiry and processed-event purge.
	jobs := app.NewMaintenanceJobs(repository, logger, cfg.IntentTTLHours)
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.IntentCleanupSchedule, jobs.ExpireStaleIntents); err != nil {
		logger.Error("invalid intent cleanup schedule", "schedule", cfg.IntentCleanupSchedule, "error", err)
		os.Exit(1)
	}
	if _, err := scheduler.AddFunc("0 3 * * *", jobs.PurgeProcessedEvents); err != nil {
		logger.Error("failed to schedule processed-event purge", "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	signupHandler := api.NewSignupHandler(signupService, logger)
	webhookHandler := api.NewPaymentWebhookHandler(provisioner, cfg.PaymentWebhookSecret, logger)
	router := api.NewRouter(signupHandler, webhookHandler, api.AuthMiddlewareConfig{
		JWKSURL: cfg.AuthJWKSURL,
	})

	startServer(router, cfg.ServerPort, logger, sigCh)
}

func buildRateLimiter(ctx context.Context, cfg config.Config, logger *slog.Logger) app.RateLimiter {
	if cfg.RedisURL == "" {
		logger.Info("REDIS_URL not set, using in-memory rate limiter")
		return app.NewMemoryRateLimiter()
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("invalid REDIS_URL, using in-memory rate limiter", "error", err)
		return app.NewMemoryRateLimiter()
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable at startup, using in-memory rate limiter", "error", err)
		return app.NewMemoryRateLimiter()
	}

	logger.Info("redis rate limiter enabled", "prefix", cfg.RedisRateLimitPrefix)
	return app.NewRedisRateLimiter(client, cfg.RedisRateLimitPrefix)
}

func startServer(router *chi.Mux, port string, logger *slog.Logger, sigCh chan os.Signal) {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: router,
	}

	go func() {
		logger.Info("starting server", "port", port)
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
