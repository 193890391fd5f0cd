package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/lab-risk-aggregator/internal/api"
	"github.com/lab-risk-aggregator/internal/app"
	"github.com/lab-risk-aggregator/internal/config"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	logger, err := config.NewLogger(*configManager.GetLoggingConfig())
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	cfg := configManager.GetConfig()
	a, err := app.New(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize risk engine")
	}

	// Create server
	server := api.NewServer(configManager, a.Engine, a.Assessor, logger)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	logger.Infof("Starting lab risk aggregator on %s:%d", cfg.Server.Host, cfg.Server.Port)

	// Start server
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}
