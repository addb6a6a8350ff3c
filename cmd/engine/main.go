package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feedbackloop/question-engine/internal/api"
	"github.com/feedbackloop/question-engine/internal/config"
	"github.com/feedbackloop/question-engine/internal/engine"
	"github.com/feedbackloop/question-engine/internal/notifications"
	"github.com/feedbackloop/question-engine/internal/scheduler"
	"github.com/feedbackloop/question-engine/internal/storage"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var Version = "dev"

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set up logging
	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	logrus.WithFields(logrus.Fields{
		"version":             Version,
		"database":            cfg.DatabasePath,
		"adaptive_schedule":   cfg.AdaptiveSchedule,
		"adaptive_businesses": len(cfg.AdaptiveBusinesses),
		"timezone":            cfg.TimeZone,
	}).Info("Starting question engine")

	store, err := storage.OpenStore(cfg.DatabasePath, cfg.MigrationsDir)
	if err != nil {
		logrus.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	archive, err := storage.OpenArchive(cfg.StorageAccount, cfg.StorageContainer, cfg.ArchiveDir)
	if err != nil {
		logrus.Fatalf("Failed to initialize archive: %v", err)
	}

	// Initialize notification services
	notificationService := notifications.NewService(cfg)

	engineService := engine.NewService(cfg, store, archive, notificationService)
	if len(cfg.AdaptiveBusinesses) == 0 {
		logrus.Warn("ADAPTIVE_BUSINESSES is empty, scheduled sweeps will have nothing to adjust")
	}

	// Initialize scheduler
	schedulerService := scheduler.NewService(cfg, engineService)
	if err := schedulerService.Start(); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}
	defer schedulerService.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      api.NewRouter(engineService),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in a goroutine
	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	// Create a deadline for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server exited")
}
