package storage

import (
	"database/sql"
	"fmt"
	"log"
)

// Migration represents a database schema migration
type Migration struct {
	Version int
	Name    string
	Up      func(*sql.Tx) error
}

// allMigrations defines all migrations in order
var allMigrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up:      migration001InitialSchema,
	},
	{
		Version: 2,
		Name:    "add_sync_runs_table",
		Up:      migration002AddSyncRunsTable,
	},
}

// runMigrations executes all pending migrations
func (s *Storage) runMigrations() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range allMigrations {
		if applied[migration.Version] {
			continue
		}

		log.Printf("Running migration %d: %s", migration.Version, migration.Name)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}

		_, err = tx.Exec(`
			INSERT INTO schema_migrations (version, name) VALUES (?, ?)
		`, migration.Version, migration.Name)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// ensureMigrationsTable creates the schema_migrations table
func (s *Storage) ensureMigrationsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	_, err := s.db.Exec(query)
	return err
}

// getAppliedMigrations returns a set of applied migration versions
func (s *Storage) getAppliedMigrations() (map[int]bool, error) {
	applied := make(map[int]bool)

	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}

	return applied, rows.Err()
}

func migration001InitialSchema(tx *sql.Tx) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS marketplace_accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			provider TEXT NOT NULL,
			environment TEXT NOT NULL DEFAULT 'production',
			name TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1,
			client_id TEXT NOT NULL DEFAULT '',
			client_secret TEXT NOT NULL DEFAULT '',
			currency TEXT NOT NULL DEFAULT 'EUR'
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL REFERENCES marketplace_accounts(id),
			access_token TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL DEFAULT '',
			scopes TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_oauth_tokens_account
			ON oauth_tokens(account_id, updated_at)`,
		`CREATE TABLE IF NOT EXISTS products (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sku TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			parent_id INTEGER REFERENCES products(id)
		)`,
		`CREATE TABLE IF NOT EXISTS product_sku_mappings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			provider TEXT NOT NULL,
			account_id INTEGER NOT NULL REFERENCES marketplace_accounts(id),
			remote_sku TEXT NOT NULL,
			product_id INTEGER NOT NULL REFERENCES products(id),
			UNIQUE(provider, account_id, remote_sku)
		)`,
		`CREATE TABLE IF NOT EXISTS stock_buckets (
			product_id INTEGER NOT NULL REFERENCES products(id),
			channel_id INTEGER NOT NULL,
			quantity INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (product_id, channel_id)
		)`,
		`CREATE TABLE IF NOT EXISTS processed_order_lines (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			provider TEXT NOT NULL,
			account_id INTEGER NOT NULL REFERENCES marketplace_accounts(id),
			remote_order_id TEXT NOT NULL,
			remote_line_id TEXT NOT NULL,
			product_id INTEGER REFERENCES products(id),
			quantity INTEGER NOT NULL DEFAULT 0,
			processed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(provider, account_id, remote_order_id, remote_line_id)
		)`,
	}

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func migration002AddSyncRunsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
	CREATE TABLE IF NOT EXISTS sync_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_uid TEXT NOT NULL UNIQUE,
		provider TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP,
		window_hours INTEGER NOT NULL DEFAULT 0,
		channel_id INTEGER NOT NULL DEFAULT 0,
		dry_run INTEGER NOT NULL DEFAULT 0,
		accounts_total INTEGER NOT NULL DEFAULT 0,
		accounts_failed INTEGER NOT NULL DEFAULT 0,
		lines_processed INTEGER NOT NULL DEFAULT 0,
		lines_skipped INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'running'
	)`)
	return err
}
