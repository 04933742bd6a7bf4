package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"budgeteer/internal/config"
	"budgeteer/internal/detect"
	applog "budgeteer/internal/log"
	"budgeteer/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.Config{
		Level:     slog.LevelInfo,
		Component: "detect-worker",
	})
	applog.SetDefault(logger)

	logger.Info("Starting detect-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	sqliteRepo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer sqliteRepo.Close()

	detector := detect.NewDetector(sqliteRepo, sqliteRepo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Recurring pattern detector configured",
		"interval", cfg.DetectInterval,
		"sqlite_db", cfg.SQLiteDBPath)

	ticker := time.NewTicker(cfg.DetectInterval)
	defer ticker.Stop()

	// Run initial detection on startup
	logger.Info("Running initial pattern detection...")
	if err := detector.IdentifyRecurringPatterns(ctx); err != nil {
		logger.Error("Initial detection failed", "error", err)
	} else {
		logger.Info("Initial detection complete")
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				logger.Info("Re-detecting recurring patterns...")
				if err := detector.IdentifyRecurringPatterns(ctx); err != nil {
					logger.Error("Periodic detection failed", "error", err)
				} else {
					logger.Info("Periodic detection complete",
						"next_check", now.Add(cfg.DetectInterval).Format("15:04:05"))
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Shutting down detect-worker...")
	cancel()
	logger.Info("Detect-worker shutdown complete")
}
