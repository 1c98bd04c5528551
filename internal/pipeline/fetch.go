package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stockpilot/marketplace-sync/internal/infrastructure/storage"
	"github.com/stockpilot/marketplace-sync/internal/marketplace"
)

// Fetcher retrieves all orders modified within a trailing window, following
// continuation links until the provider stops supplying one. There is no
// persisted cursor: a restart starts from scratch and relies on window
// overlap plus the ledger for recovery.
type Fetcher struct {
	client    *marketplace.Client
	tokens    *TokenManager
	pageLimit int
	logger    *slog.Logger
}

// NewFetcher creates a fetcher.
func NewFetcher(client *marketplace.Client, tokens *TokenManager, pageLimit int, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if pageLimit <= 0 {
		pageLimit = 100
	}
	return &Fetcher{
		client:    client,
		tokens:    tokens,
		pageLimit: pageLimit,
		logger:    logger.With("system", "fetch"),
	}
}

// FetchWindow pulls every page of the window. A 401 on any page triggers one
// token refresh and a single retry of that same page; any later auth failure
// or any other non-2xx response aborts pagination. Orders gathered before an
// abort are returned alongside the error so the caller can still process
// them; there is no rollback.
func (f *Fetcher) FetchWindow(ctx context.Context, account *storage.Account, accessToken string, window marketplace.Window) ([]marketplace.RawOrder, error) {
	var orders []marketplace.RawOrder

	pageURL := f.client.FirstPageURL(window, f.pageLimit)
	refreshed := false
	page := 0

	for pageURL != "" {
		result, err := f.client.FetchPage(ctx, accessToken, pageURL)

		if errors.Is(err, marketplace.ErrUnauthorized) {
			if refreshed {
				// Refreshed token still rejected; the account is done
				// for this run.
				return orders, fmt.Errorf("%w: page rejected after refresh", ErrTokenExpired)
			}

			fresh, refreshErr := f.tokens.Refresh(ctx, account)
			if refreshErr != nil {
				return orders, refreshErr
			}
			accessToken = fresh
			refreshed = true

			// Retry the same page once with the fresh token.
			result, err = f.client.FetchPage(ctx, accessToken, pageURL)
			if errors.Is(err, marketplace.ErrUnauthorized) {
				return orders, fmt.Errorf("%w: page rejected after refresh", ErrTokenExpired)
			}
		}

		if err != nil {
			return orders, fmt.Errorf("fetching page %d failed: %w", page+1, err)
		}

		orders = append(orders, result.Orders...)
		page++

		f.logger.Debug("order page fetched",
			slog.Int64("account_id", account.ID),
			slog.Int("page", page),
			slog.Int("orders", len(result.Orders)),
			slog.Bool("has_next", result.Next != ""),
		)

		pageURL = result.Next
	}

	f.logger.Info("window fetched",
		slog.Int64("account_id", account.ID),
		slog.Int("pages", page),
		slog.Int("orders", len(orders)),
	)

	return orders, nil
}
