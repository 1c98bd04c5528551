// Package storage provides durable state for the reconciliation pipeline:
// marketplace accounts, the append-only OAuth token history, the product
// catalog with SKU mappings, per-channel stock buckets, the idempotency
// ledger, and sync-run tracking.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Storage is the SQLite-backed Repository implementation.
type Storage struct {
	db *sql.DB
}

// Compile-time check that Storage implements Repository
var _ Repository = (*Storage)(nil)

// NewStorage opens (or creates) the SQLite database and runs all pending
// migrations.
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign key constraints (SQLite-specific)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Storage{db: db}

	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for test fixtures.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// ListActiveAccounts returns all active accounts for a provider.
func (s *Storage) ListActiveAccounts(provider string) ([]Account, error) {
	rows, err := s.db.Query(`
		SELECT id, provider, environment, name, active, client_id, client_secret, currency
		FROM marketplace_accounts
		WHERE provider = ? AND active = 1
		ORDER BY id
	`, provider)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Provider, &a.Environment, &a.Name, &a.Active,
			&a.ClientID, &a.ClientSecret, &a.Currency); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}

	return accounts, rows.Err()
}

// GetAccount returns one account by id, or nil if it does not exist.
func (s *Storage) GetAccount(id int64) (*Account, error) {
	var a Account
	err := s.db.QueryRow(`
		SELECT id, provider, environment, name, active, client_id, client_secret, currency
		FROM marketplace_accounts WHERE id = ?
	`, id).Scan(&a.ID, &a.Provider, &a.Environment, &a.Name, &a.Active,
		&a.ClientID, &a.ClientSecret, &a.Currency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// LatestToken returns the most recently updated token row for an account.
func (s *Storage) LatestToken(accountID int64) (*OAuthToken, error) {
	var t OAuthToken
	err := s.db.QueryRow(`
		SELECT id, account_id, access_token, refresh_token, scopes, updated_at
		FROM oauth_tokens
		WHERE account_id = ?
		ORDER BY updated_at DESC, id DESC
		LIMIT 1
	`, accountID).Scan(&t.ID, &t.AccountID, &t.AccessToken, &t.RefreshToken, &t.Scopes, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// InsertToken appends a new token row.
func (s *Storage) InsertToken(token *OAuthToken) error {
	if token.UpdatedAt.IsZero() {
		token.UpdatedAt = time.Now().UTC()
	}

	result, err := s.db.Exec(`
		INSERT INTO oauth_tokens (account_id, access_token, refresh_token, scopes, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, token.AccountID, token.AccessToken, token.RefreshToken, token.Scopes, token.UpdatedAt)
	if err != nil {
		return err
	}

	token.ID, _ = result.LastInsertId()
	return nil
}

// FindSkuMapping returns the mapping for (provider, account, sku), or nil.
func (s *Storage) FindSkuMapping(provider string, accountID int64, remoteSKU string) (*SkuMapping, error) {
	var m SkuMapping
	err := s.db.QueryRow(`
		SELECT id, provider, account_id, remote_sku, product_id
		FROM product_sku_mappings
		WHERE provider = ? AND account_id = ? AND remote_sku = ?
	`, provider, accountID, remoteSKU).Scan(&m.ID, &m.Provider, &m.AccountID, &m.RemoteSKU, &m.ProductID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetProduct returns one product by id, or nil if it does not exist.
func (s *Storage) GetProduct(id int64) (*Product, error) {
	var p Product
	var parentID sql.NullInt64
	err := s.db.QueryRow(`
		SELECT id, sku, name, parent_id FROM products WHERE id = ?
	`, id).Scan(&p.ID, &p.SKU, &p.Name, &parentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		p.ParentID = &parentID.Int64
	}
	return &p, nil
}

// ListProducts returns the full catalog.
func (s *Storage) ListProducts() ([]Product, error) {
	rows, err := s.db.Query(`SELECT id, sku, name, parent_id FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var products []Product
	for rows.Next() {
		var p Product
		var parentID sql.NullInt64
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &parentID); err != nil {
			return nil, err
		}
		if parentID.Valid {
			p.ParentID = &parentID.Int64
		}
		products = append(products, p)
	}

	return products, rows.Err()
}

// GetStockBucket returns the bucket for (product, channel), or nil.
func (s *Storage) GetStockBucket(productID, channelID int64) (*StockBucket, error) {
	var b StockBucket
	err := s.db.QueryRow(`
		SELECT product_id, channel_id, quantity
		FROM stock_buckets WHERE product_id = ? AND channel_id = ?
	`, productID, channelID).Scan(&b.ProductID, &b.ChannelID, &b.Quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// SaveStockBucket inserts or updates a bucket row.
func (s *Storage) SaveStockBucket(bucket *StockBucket) error {
	_, err := s.db.Exec(`
		INSERT INTO stock_buckets (product_id, channel_id, quantity)
		VALUES (?, ?, ?)
		ON CONFLICT(product_id, channel_id) DO UPDATE SET quantity = excluded.quantity
	`, bucket.ProductID, bucket.ChannelID, bucket.Quantity)
	return err
}

// AlreadyProcessed reports whether a ledger row exists for the line.
func (s *Storage) AlreadyProcessed(provider string, accountID int64, orderID, lineID string) (bool, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM processed_order_lines
		WHERE provider = ? AND account_id = ? AND remote_order_id = ? AND remote_line_id = ?
	`, provider, accountID, orderID, lineID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// RecordLine inserts a ledger row. A unique-constraint violation means the
// line was already applied by a concurrent or earlier run and is reported as
// (false, nil), never as an error.
func (s *Storage) RecordLine(entry *LedgerEntry) (bool, error) {
	if entry.ProcessedAt.IsZero() {
		entry.ProcessedAt = time.Now().UTC()
	}

	result, err := s.db.Exec(`
		INSERT INTO processed_order_lines
		(provider, account_id, remote_order_id, remote_line_id, product_id, quantity, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.Provider, entry.AccountID, entry.RemoteOrderID, entry.RemoteLineID,
		nullableID(entry.ProductID), entry.Quantity, entry.ProcessedAt)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return false, nil
		}
		return false, err
	}

	entry.ID, _ = result.LastInsertId()
	return true, nil
}

// GetLedgerStats returns aggregate ledger statistics.
func (s *Storage) GetLedgerStats() (*LedgerStats, error) {
	stats := &LedgerStats{
		ByProvider: make(map[string]int),
	}

	err := s.db.QueryRow(`
		SELECT
			COUNT(*) as total,
			COUNT(product_id) as mapped,
			COUNT(*) - COUNT(product_id) as unmapped,
			COALESCE(SUM(quantity), 0) as total_quantity
		FROM processed_order_lines
	`).Scan(&stats.TotalLines, &stats.MappedLines, &stats.UnmappedLines, &stats.TotalQuantity)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT provider, COUNT(*) FROM processed_order_lines GROUP BY provider
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var provider string
		var count int
		if err := rows.Scan(&provider, &count); err != nil {
			return nil, err
		}
		stats.ByProvider[provider] = count
	}

	return stats, rows.Err()
}

// StartRun inserts a run row and returns its id.
func (s *Storage) StartRun(run *SyncRun) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO sync_runs (run_uid, provider, window_hours, channel_id, dry_run, status)
		VALUES (?, ?, ?, ?, ?, 'running')
	`, run.RunUID, run.Provider, run.WindowHours, run.ChannelID, run.DryRun)
	if err != nil {
		return 0, err
	}

	return result.LastInsertId()
}

// CompleteRun fills in the completion fields of a run.
func (s *Storage) CompleteRun(runID int64, accountsTotal, accountsFailed, processed, skipped int) error {
	_, err := s.db.Exec(`
		UPDATE sync_runs
		SET completed_at = CURRENT_TIMESTAMP,
		    accounts_total = ?,
		    accounts_failed = ?,
		    lines_processed = ?,
		    lines_skipped = ?,
		    status = CASE WHEN ? > 0 THEN 'completed_with_errors' ELSE 'completed' END
		WHERE id = ?
	`, accountsTotal, accountsFailed, processed, skipped, accountsFailed, runID)
	return err
}

// ListRuns returns the most recent runs, newest first.
func (s *Storage) ListRuns(limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, run_uid, provider, started_at, completed_at,
		       window_hours, channel_id, dry_run,
		       accounts_total, accounts_failed, lines_processed, lines_skipped, status
		FROM sync_runs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []SyncRun
	for rows.Next() {
		var r SyncRun
		var startedAt time.Time
		var completedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.RunUID, &r.Provider, &startedAt, &completedAt,
			&r.WindowHours, &r.ChannelID, &r.DryRun,
			&r.AccountsTotal, &r.AccountsFailed, &r.LinesProcessed, &r.LinesSkipped, &r.Status); err != nil {
			return nil, err
		}
		r.StartedAt = startedAt.UTC().Format(time.RFC3339)
		if completedAt.Valid {
			r.CompletedAt = completedAt.Time.UTC().Format(time.RFC3339)
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// GetRun returns one run by id, or nil if it does not exist.
func (s *Storage) GetRun(runID int64) (*SyncRun, error) {
	var r SyncRun
	var startedAt time.Time
	var completedAt sql.NullTime
	err := s.db.QueryRow(`
		SELECT id, run_uid, provider, started_at, completed_at,
		       window_hours, channel_id, dry_run,
		       accounts_total, accounts_failed, lines_processed, lines_skipped, status
		FROM sync_runs WHERE id = ?
	`, runID).Scan(&r.ID, &r.RunUID, &r.Provider, &startedAt, &completedAt,
		&r.WindowHours, &r.ChannelID, &r.DryRun,
		&r.AccountsTotal, &r.AccountsFailed, &r.LinesProcessed, &r.LinesSkipped, &r.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.StartedAt = startedAt.UTC().Format(time.RFC3339)
	if completedAt.Valid {
		r.CompletedAt = completedAt.Time.UTC().Format(time.RFC3339)
	}
	return &r, nil
}

func nullableID(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}
