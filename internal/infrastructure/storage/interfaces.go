package storage

// Repository defines the complete storage interface.
// Splitting it into per-concern interfaces keeps pipeline components
// depending only on what they actually touch and makes mocking simple.
type Repository interface {
	AccountRepository
	TokenRepository
	CatalogRepository
	StockRepository
	LedgerRepository
	RunRepository
	Close() error
}

// AccountRepository reads marketplace accounts. The pipeline never writes
// them; onboarding owns that table.
type AccountRepository interface {
	// ListActiveAccounts returns all active accounts for a provider.
	ListActiveAccounts(provider string) ([]Account, error)

	// GetAccount returns one account by id, or nil if it does not exist.
	GetAccount(id int64) (*Account, error)
}

// TokenRepository handles the append-only OAuth token history.
type TokenRepository interface {
	// LatestToken returns the most recently updated token row for an
	// account, or nil if the account has no token on file.
	LatestToken(accountID int64) (*OAuthToken, error)

	// InsertToken appends a new token row. Existing rows are never touched.
	InsertToken(token *OAuthToken) error
}

// CatalogRepository reads products and SKU mappings. Both are owned by
// external workflows and are read-only inputs here.
type CatalogRepository interface {
	// FindSkuMapping returns the mapping for (provider, account, sku),
	// or nil if the SKU is not mapped on that account.
	FindSkuMapping(provider string, accountID int64, remoteSKU string) (*SkuMapping, error)

	// GetProduct returns one product by id, or nil if it does not exist.
	GetProduct(id int64) (*Product, error)

	// ListProducts returns the full catalog, used by the manual-mapping
	// SKU matcher.
	ListProducts() ([]Product, error)
}

// StockRepository handles the per-channel stock buckets.
type StockRepository interface {
	// GetStockBucket returns the bucket for (product, channel), or nil
	// if no bucket exists yet.
	GetStockBucket(productID, channelID int64) (*StockBucket, error)

	// SaveStockBucket inserts or updates a bucket row.
	SaveStockBucket(bucket *StockBucket) error
}

// LedgerRepository handles the idempotency ledger.
type LedgerRepository interface {
	// AlreadyProcessed reports whether a ledger row exists for the line.
	AlreadyProcessed(provider string, accountID int64, orderID, lineID string) (bool, error)

	// RecordLine inserts a ledger row. It returns false (and no error)
	// when the unique constraint fires: the line was already handled by
	// whichever caller won the race, which is success, not failure.
	RecordLine(entry *LedgerEntry) (bool, error)

	// GetLedgerStats returns aggregate ledger statistics.
	GetLedgerStats() (*LedgerStats, error)
}

// RunRepository tracks pipeline invocations.
type RunRepository interface {
	// StartRun inserts a run row and returns its id.
	StartRun(run *SyncRun) (int64, error)

	// CompleteRun fills in the completion fields of a run.
	CompleteRun(runID int64, accountsTotal, accountsFailed, processed, skipped int) error

	// ListRuns returns the most recent runs, newest first.
	ListRuns(limit int) ([]SyncRun, error)

	// GetRun returns one run by id, or nil if it does not exist.
	GetRun(runID int64) (*SyncRun, error)
}
