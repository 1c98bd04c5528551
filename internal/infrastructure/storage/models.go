package storage

import "time"

// Account is one seller account on one marketplace provider/environment.
// Accounts are created by the onboarding workflow; the reconciliation
// pipeline only ever reads them.
type Account struct {
	ID           int64  `json:"id"`
	Provider     string `json:"provider"`
	Environment  string `json:"environment"` // "production" or "sandbox"
	Name         string `json:"name"`
	Active       bool   `json:"active"`
	ClientID     string `json:"-"`
	ClientSecret string `json:"-"`
	Currency     string `json:"currency"`
}

// OAuthToken is one row of the append-only token history for an account.
// The pipeline always uses the most recently updated row; a refresh appends
// a new row and never edits in place, so a crashed refresh leaves the prior
// token intact.
type OAuthToken struct {
	ID           int64     `json:"id"`
	AccountID    int64     `json:"account_id"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	Scopes       string    `json:"scopes"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Product is a catalog product. A product with a parent is a "mirror": an
// alternate listing that shares the parent's physical stock and carries no
// stock row of its own.
type Product struct {
	ID       int64  `json:"id"`
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id,omitempty"`
}

// SkuMapping links a remote marketplace SKU to an internal product. The
// mapping is only valid within its (provider, account) pair; the same SKU
// string on another account never matches.
type SkuMapping struct {
	ID        int64  `json:"id"`
	Provider  string `json:"provider"`
	AccountID int64  `json:"account_id"`
	RemoteSKU string `json:"remote_sku"`
	ProductID int64  `json:"product_id"`
}

// StockBucket is the inventory pool a product holds for one sales channel.
type StockBucket struct {
	ProductID int64 `json:"product_id"`
	ChannelID int64 `json:"channel_id"`
	Quantity  int   `json:"quantity"`
}

// LedgerEntry records that one marketplace order line has been applied to
// inventory. The composite key (provider, account, order, line) is unique;
// that uniqueness is the pipeline's at-most-once guarantee. ProductID is nil
// for lines whose SKU had no mapping at processing time.
type LedgerEntry struct {
	ID            int64     `json:"id"`
	Provider      string    `json:"provider"`
	AccountID     int64     `json:"account_id"`
	RemoteOrderID string    `json:"remote_order_id"`
	RemoteLineID  string    `json:"remote_line_id"`
	ProductID     *int64    `json:"product_id,omitempty"`
	Quantity      int       `json:"quantity"`
	ProcessedAt   time.Time `json:"processed_at"`
}

// SyncRun is one invocation of the reconciliation pipeline.
type SyncRun struct {
	ID             int64  `json:"id"`
	RunUID         string `json:"run_uid"`
	Provider       string `json:"provider"`
	StartedAt      string `json:"started_at"`
	CompletedAt    string `json:"completed_at,omitempty"`
	WindowHours    int    `json:"window_hours"`
	ChannelID      int64  `json:"channel_id"`
	DryRun         bool   `json:"dry_run"`
	AccountsTotal  int    `json:"accounts_total"`
	AccountsFailed int    `json:"accounts_failed"`
	LinesProcessed int    `json:"lines_processed"`
	LinesSkipped   int    `json:"lines_skipped"`
	Status         string `json:"status"`
}

// LedgerStats are aggregate statistics over the idempotency ledger.
type LedgerStats struct {
	TotalLines    int            `json:"total_lines"`
	MappedLines   int            `json:"mapped_lines"`
	UnmappedLines int            `json:"unmapped_lines"`
	TotalQuantity int            `json:"total_quantity"`
	ByProvider    map[string]int `json:"by_provider"`
}
