// Package pipeline implements the marketplace order reconciliation job:
// per-account token lifecycle, paginated order fetching, line normalization,
// SKU resolution, idempotent stock decrements and the orchestrator that
// drives them.
package pipeline

import (
	"log/slog"
	"time"

	"github.com/stockpilot/marketplace-sync/internal/infrastructure/storage"
	"github.com/stockpilot/marketplace-sync/internal/marketplace"
)

// Reasons an account stops early. They surface verbatim in the run summary.
const (
	ReasonMissingToken  = "missing_token"
	ReasonNoAccessToken = "no_access_token"
	ReasonCannotRefresh = "cannot_refresh"
	ReasonTokenExpired  = "token_expired"
	ReasonFetchFailed   = "fetch_failed"
)

// Config holds the reconciliation settings, passed in explicitly at
// construction rather than read from the environment mid-run.
type Config struct {
	// Provider identifies the marketplace, scoping accounts, mappings and
	// ledger rows.
	Provider string

	// ChannelID is the stock bucket receiving the decrements.
	ChannelID int64

	// Window is the trailing time-window width for the order query.
	Window time.Duration

	// PageLimit is the order page size.
	PageLimit int

	// DefaultScopes is echoed on refresh when the stored token row has no
	// scopes.
	DefaultScopes string
}

// Options holds per-invocation settings.
type Options struct {
	// AccountID scopes the run to a single account when non-zero.
	AccountID int64

	// DryRun resolves every line but writes neither ledger rows nor stock.
	DryRun bool
}

// AccountSummary is the per-account entry of the run summary. Reason is
// empty for accounts that ran to completion.
type AccountSummary struct {
	AccountID int64  `json:"account_id"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Result is the outcome of one pipeline invocation.
type Result struct {
	RunUID    string           `json:"run_uid"`
	Accounts  int              `json:"accounts"`
	Processed int              `json:"processed"`
	Skipped   int              `json:"skipped"`
	Details   []AccountSummary `json:"details"`
}

// OrderLine is the canonical line tuple the rest of the pipeline sees after
// normalization. It is never persisted as such.
type OrderLine struct {
	OrderID  string
	LineID   string
	SKU      string
	Quantity int
}

// Orchestrator iterates active accounts and drives the fetch, normalize,
// resolve, decrement and record stages, isolating failures per account.
type Orchestrator struct {
	cfg      Config
	repo     storage.Repository
	tokens   *TokenManager
	fetcher  *Fetcher
	resolver *Resolver
	stock    *StockEngine
	logger   *slog.Logger
}

// NewOrchestrator wires the pipeline components.
func NewOrchestrator(cfg Config, repo storage.Repository, client *marketplace.Client, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = 2 * time.Hour
	}

	tokens := NewTokenManager(repo, client, cfg.DefaultScopes, logger)

	return &Orchestrator{
		cfg:      cfg,
		repo:     repo,
		tokens:   tokens,
		fetcher:  NewFetcher(client, tokens, cfg.PageLimit, logger),
		resolver: NewResolver(repo, logger),
		stock:    NewStockEngine(repo, logger),
		logger:   logger,
	}
}
