// Command api serves the HTTP trigger and the read-only run/stats
// endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stockpilot/marketplace-sync/internal/api"
	"github.com/stockpilot/marketplace-sync/internal/infrastructure/config"
	"github.com/stockpilot/marketplace-sync/internal/infrastructure/logging"
	"github.com/stockpilot/marketplace-sync/internal/infrastructure/storage"
	"github.com/stockpilot/marketplace-sync/internal/marketplace"
	"github.com/stockpilot/marketplace-sync/internal/pipeline"
)

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file path (empty = environment)")
		port       = flag.Int("port", 0, "Port to listen on (overrides config)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	cfg, err := config.LoadOrEnv(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	loggingCfg := cfg.Observability.Logging
	if *verbose {
		loggingCfg.Level = "debug"
	}
	logger := logging.NewLoggerWithSystem(loggingCfg, "api")

	store, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Error("failed to initialize storage", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	client := marketplace.NewClient(marketplace.Config{
		BaseURL:  cfg.Marketplace.BaseURL,
		TokenURL: cfg.Marketplace.TokenURL,
	}, logger)

	orchestrator := pipeline.NewOrchestrator(pipeline.Config{
		Provider:      cfg.Marketplace.Provider,
		ChannelID:     cfg.Marketplace.ChannelID,
		Window:        cfg.Marketplace.Window(),
		PageLimit:     cfg.Marketplace.PageLimit,
		DefaultScopes: cfg.Marketplace.DefaultScopes,
	}, store, client, logger)

	serverPort := cfg.Server.Port
	if *port > 0 {
		serverPort = *port
	}

	server := api.NewServer(api.Config{
		Port:           serverPort,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, orchestrator, store, logger)

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", slog.String("error", err.Error()))
		}
	}()

	if err := server.Start(); err != nil {
		logger.Error("server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
