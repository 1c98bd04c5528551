package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/stockpilot/marketplace-sync/internal/infrastructure/storage"
	"github.com/stockpilot/marketplace-sync/internal/marketplace"
)

// Run executes one reconciliation pass: every active account (or the one
// account opts selects) gets fetched, normalized, resolved and decremented.
// A failure in one account never stops the others; it becomes that account's
// reason string in the summary.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{RunUID: uuid.NewString()}

	accounts, err := o.selectAccounts(opts)
	if err != nil {
		return nil, err
	}
	result.Accounts = len(accounts)

	o.logger.Info("starting reconciliation",
		slog.String("run_uid", result.RunUID),
		slog.Int("accounts", len(accounts)),
		slog.Bool("dry_run", opts.DryRun),
	)

	runID, err := o.repo.StartRun(&storage.SyncRun{
		RunUID:      result.RunUID,
		Provider:    o.cfg.Provider,
		WindowHours: int(o.cfg.Window.Hours()),
		ChannelID:   o.cfg.ChannelID,
		DryRun:      opts.DryRun,
	})
	if err != nil {
		// Tracking failure shouldn't block reconciliation.
		o.logger.Warn("failed to start run tracking", slog.String("error", err.Error()))
	}

	window := marketplace.TrailingWindow(o.cfg.Window)
	failed := 0

	for _, account := range accounts {
		summary := o.processAccount(ctx, &account, window, opts)
		if summary.Reason != "" {
			failed++
		}
		result.Processed += summary.Processed
		result.Skipped += summary.Skipped
		result.Details = append(result.Details, summary)
	}

	if runID > 0 {
		if err := o.repo.CompleteRun(runID, len(accounts), failed, result.Processed, result.Skipped); err != nil {
			o.logger.Warn("failed to complete run tracking", slog.String("error", err.Error()))
		}
	}

	o.logger.Info("reconciliation finished",
		slog.String("run_uid", result.RunUID),
		slog.Int("processed", result.Processed),
		slog.Int("skipped", result.Skipped),
		slog.Int("accounts_failed", failed),
	)

	return result, nil
}

// selectAccounts returns the accounts this run covers.
func (o *Orchestrator) selectAccounts(opts Options) ([]storage.Account, error) {
	if opts.AccountID != 0 {
		account, err := o.repo.GetAccount(opts.AccountID)
		if err != nil {
			return nil, fmt.Errorf("failed to load account %d: %w", opts.AccountID, err)
		}
		if account == nil || !account.Active || account.Provider != o.cfg.Provider {
			return nil, fmt.Errorf("account %d is not an active %s account", opts.AccountID, o.cfg.Provider)
		}
		return []storage.Account{*account}, nil
	}

	accounts, err := o.repo.ListActiveAccounts(o.cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// processAccount runs the pipeline for one account and converts every
// failure into a summary reason instead of raising it.
func (o *Orchestrator) processAccount(ctx context.Context, account *storage.Account, window marketplace.Window, opts Options) AccountSummary {
	summary := AccountSummary{AccountID: account.ID}
	logger := o.logger.With(slog.Int64("account_id", account.ID))

	accessToken, err := o.tokens.AccessToken(ctx, account)
	if err != nil {
		summary.Reason = reasonForError(err)
		logger.Warn("account skipped", slog.String("reason", summary.Reason))
		return summary
	}

	orders, fetchErr := o.fetcher.FetchWindow(ctx, account, accessToken, window)
	// Orders gathered before an abort are still processed; the ledger makes
	// reprocessing them on the next run harmless.
	if fetchErr != nil {
		summary.Reason = reasonForError(fetchErr)
		logger.Warn("pagination aborted",
			slog.String("reason", summary.Reason),
			slog.String("error", fetchErr.Error()),
			slog.Int("orders_kept", len(orders)),
		)
	}

	var lines []OrderLine
	for _, order := range orders {
		lines = append(lines, NormalizeOrder(order)...)
	}
	lines = Dedupe(lines)

	logger.Debug("lines normalized", slog.Int("count", len(lines)))

	for _, line := range lines {
		processed, err := o.processLine(account, line, opts)
		if err != nil {
			// Nothing was ledgered for this line, so the next
			// overlapping run retries it.
			logger.Error("line failed, will retry next run",
				slog.String("order_id", line.OrderID),
				slog.String("line_id", line.LineID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if processed {
			summary.Processed++
		} else {
			summary.Skipped++
		}
	}

	return summary
}

// processLine applies one order line at most once. The ledger insert comes
// first and gates the stock mutation: if the insert loses to a concurrent
// run the line is already handled and the decrement is skipped.
func (o *Orchestrator) processLine(account *storage.Account, line OrderLine, opts Options) (bool, error) {
	done, err := o.repo.AlreadyProcessed(account.Provider, account.ID, line.OrderID, line.LineID)
	if err != nil {
		return false, fmt.Errorf("ledger lookup failed: %w", err)
	}
	if done {
		return false, nil
	}

	productID, mapped, err := o.resolver.Resolve(account, line.SKU)
	if err != nil {
		return false, err
	}

	if opts.DryRun {
		o.logger.Info("[dry-run] would apply line",
			slog.Int64("account_id", account.ID),
			slog.String("order_id", line.OrderID),
			slog.String("line_id", line.LineID),
			slog.String("sku", line.SKU),
			slog.Int("quantity", line.Quantity),
			slog.Bool("mapped", mapped),
		)
		return mapped, nil
	}

	entry := &storage.LedgerEntry{
		Provider:      account.Provider,
		AccountID:     account.ID,
		RemoteOrderID: line.OrderID,
		RemoteLineID:  line.LineID,
		Quantity:      line.Quantity,
	}
	if mapped {
		entry.ProductID = &productID
	}

	inserted, err := o.repo.RecordLine(entry)
	if err != nil {
		return false, fmt.Errorf("ledger insert failed: %w", err)
	}
	if !inserted {
		// Another run won the race for this line.
		return false, nil
	}

	// Unmapped lines are recorded so the next overlapping run does not
	// re-evaluate them, but they do not count as processed.
	if !mapped {
		o.logger.Info("unmapped sku ledgered",
			slog.Int64("account_id", account.ID),
			slog.String("sku", line.SKU),
			slog.String("order_id", line.OrderID),
		)
		return false, nil
	}

	remaining, err := o.stock.Decrement(productID, o.cfg.ChannelID, line.Quantity)
	if err != nil {
		// The ledger row exists, so this line will not be re-applied.
		// Surface loudly: this is the one spot needing manual review.
		o.logger.Error("ledgered line failed to decrement stock",
			slog.Int64("account_id", account.ID),
			slog.Int64("product_id", productID),
			slog.String("order_id", line.OrderID),
			slog.String("line_id", line.LineID),
			slog.String("error", err.Error()),
		)
		return true, nil
	}

	o.logger.Debug("stock decremented",
		slog.Int64("product_id", productID),
		slog.Int("quantity", line.Quantity),
		slog.Int("remaining", remaining),
	)

	return true, nil
}

// reasonForError maps token and fetch failures onto summary reason strings.
func reasonForError(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return ReasonMissingToken
	case errors.Is(err, ErrNoAccessToken):
		return ReasonNoAccessToken
	case errors.Is(err, ErrRefreshTokenMissing), errors.Is(err, ErrCredentialsMissing):
		return ReasonCannotRefresh
	case errors.Is(err, ErrTokenExpired):
		return ReasonTokenExpired
	default:
		return ReasonFetchFailed
	}
}
