// Command reconcile runs one reconciliation pass and exits. It is the
// target for the external scheduler (cron, systemd timer); the scheduler's
// own retry policy covers failed invocations.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/stockpilot/marketplace-sync/internal/infrastructure/config"
	"github.com/stockpilot/marketplace-sync/internal/infrastructure/logging"
	"github.com/stockpilot/marketplace-sync/internal/infrastructure/storage"
	"github.com/stockpilot/marketplace-sync/internal/marketplace"
	"github.com/stockpilot/marketplace-sync/internal/pipeline"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Configuration file path (empty = environment)")
		accountID   = flag.Int64("account", 0, "Only process this account (0 = all active)")
		windowHours = flag.Int("window-hours", 0, "Override the trailing window width")
		dryRun      = flag.Bool("dry-run", false, "Resolve lines without writing ledger or stock")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
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
	logger := logging.NewLoggerWithSystem(loggingCfg, "sync")

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

	window := cfg.Marketplace.Window()
	if *windowHours > 0 {
		window = time.Duration(*windowHours) * time.Hour
	}

	orchestrator := pipeline.NewOrchestrator(pipeline.Config{
		Provider:      cfg.Marketplace.Provider,
		ChannelID:     cfg.Marketplace.ChannelID,
		Window:        window,
		PageLimit:     cfg.Marketplace.PageLimit,
		DefaultScopes: cfg.Marketplace.DefaultScopes,
	}, store, client, logger)

	result, err := orchestrator.Run(context.Background(), pipeline.Options{
		AccountID: *accountID,
		DryRun:    *dryRun,
	})
	if err != nil {
		logger.Error("reconciliation failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	fmt.Printf("run %s: %d account(s), %d line(s) processed, %d skipped\n",
		result.RunUID, result.Accounts, result.Processed, result.Skipped)
	for _, detail := range result.Details {
		if detail.Reason != "" {
			fmt.Printf("  account %d: processed=%d reason=%s\n", detail.AccountID, detail.Processed, detail.Reason)
		} else {
			fmt.Printf("  account %d: processed=%d skipped=%d\n", detail.AccountID, detail.Processed, detail.Skipped)
		}
	}
}
