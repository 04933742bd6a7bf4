package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"budgeteer/internal/amqp"
	"budgeteer/internal/backend"
	"budgeteer/internal/config"
	"budgeteer/internal/core"
	"budgeteer/internal/detect"
	apphttp "budgeteer/internal/http"
	applog "budgeteer/internal/log"
	"budgeteer/internal/reconcile"
	"budgeteer/internal/services"
	"budgeteer/internal/suggest"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.Config{
		Level:     slog.LevelInfo,
		Component: "budgeteer",
	})
	applog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	factory := backend.NewFactory(logger.Logger)
	result, err := factory.CreateStore(ctx, backend.Config{
		Type:         backend.BackendType(cfg.DataBackend),
		SQLiteDBPath: cfg.SQLiteDBPath,
	})
	if err != nil {
		logger.Error("Failed to initialize data backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	if result.Cleanup != nil {
		defer func() {
			if err := result.Cleanup(); err != nil {
				logger.Error("Backend cleanup failed", "error", err)
			}
		}()
	}
	store := result.Store

	// AMQP is optional: without it saved plans simply are not announced
	// to the plan-worker.
	var publisher services.PlanPublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without plan notifications", "error", err)
		} else {
			defer amqpClient.Close()
			publisher = amqpClient
			logger.Info("AMQP client initialized - saved plans will be announced")
		}
	} else {
		logger.Info("AMQP disabled - saved plans will not be announced")
	}

	engine := reconcile.NewEngine(
		store, store, store, store, store, store,
		detect.NewDetector(store, store),
		suggest.NewAggregator(store, store, store),
		reconcile.Options{
			MinWeekly:    core.Money{Cents: cfg.MinWeeklyCents},
			LookbackDays: cfg.LookbackDays,
		},
	)
	planService := services.NewPlanService(engine, publisher)

	srv := apphttp.NewServer(":"+cfg.Port, planService, store)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting budgeteer server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"lookback_days", cfg.LookbackDays)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
