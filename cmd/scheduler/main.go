/**
 * @description
 * This is the main entry point for the reminder scheduler.
 * It is a non-HTTP, long-running process that sends renewal reminders on a cron
 * schedule. It initializes the configuration, database connection, the reminder
 * notifier and the cron scheduler, then starts it.
 */
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

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

	ctx := context.Background()

	dbpool, err := store.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	var notifier app.Notifier = app.NewLogNotifier(logger)
	if cfg.RabbitMQURL == "" {
		logger.Warn("RABBITMQ_URL not set; reminders will only be logged")
	} else if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL); err != nil {
		logger.Warn("rabbitmq producer unavailable; reminders will only be logged", "error", err)
	} else {
		defer producer.Close()
		notifier = app.NewBrokerNotifier(producer, cfg.EventsExchange)
		logger.Info("rabbitmq producer connected", "exchange", cfg.EventsExchange)
	}

	repository := store.NewRepository(dbpool)
	jobs := app.NewJobs(repository, notifier, logger)
	scheduler := app.NewScheduler(jobs, logger, cfg.ReminderJobSchedule)

	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	logger.Info("scheduler started")

	// Wait for termination signal to gracefully shut down
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, stopping scheduler")
	stopCtx := scheduler.Stop()
	<-stopCtx.Done() // Wait for running jobs to finish
	logger.Info("scheduler stopped gracefully")
}
