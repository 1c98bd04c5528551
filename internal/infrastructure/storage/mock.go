package storage

import (
	"strconv"
	"sync"
	"time"
)

// MockRepository is an in-memory implementation of Repository for testing.
// It stores all data in maps and slices, making tests fast and isolated.
// It is safe for concurrent use so orchestrator concurrency tests can hit it
// directly.
type MockRepository struct {
	mu sync.Mutex

	accounts map[int64]*Account
	tokens   []OAuthToken
	products map[int64]*Product
	mappings map[string]*SkuMapping // keyed by provider|account|sku
	buckets  map[[2]int64]*StockBucket
	ledger   map[string]*LedgerEntry // keyed by provider|account|order|line
	runs     map[int64]*SyncRun

	nextTokenID  int64
	nextLedgerID int64
	nextRunID    int64

	// Hooks for test assertions
	InsertTokenCalled bool
	LastInsertedToken *OAuthToken
	RecordLineCalled  bool
	LastRecordedLine  *LedgerEntry
	DecrementWrites   int // count of SaveStockBucket calls

	// Error injection for testing error paths
	LatestTokenErr  error
	InsertTokenErr  error
	FindMappingErr  error
	RecordLineErr   error
	SaveBucketErr   error
	StartRunErr     error
	CompleteRunErr  error
	ListAccountsErr error
}

// Compile-time check that MockRepository implements Repository
var _ Repository = (*MockRepository)(nil)

// NewMockRepository creates a new mock repository for testing
func NewMockRepository() *MockRepository {
	return &MockRepository{
		accounts:     make(map[int64]*Account),
		products:     make(map[int64]*Product),
		mappings:     make(map[string]*SkuMapping),
		buckets:      make(map[[2]int64]*StockBucket),
		ledger:       make(map[string]*LedgerEntry),
		runs:         make(map[int64]*SyncRun),
		nextTokenID:  1,
		nextLedgerID: 1,
		nextRunID:    1,
	}
}

// Close is a no-op for the mock.
func (m *MockRepository) Close() error { return nil }

// --- seeding helpers ---

// AddAccount seeds an account.
func (m *MockRepository) AddAccount(a Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := a
	m.accounts[a.ID] = &cp
}

// AddProduct seeds a product.
func (m *MockRepository) AddProduct(p Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p
	m.products[p.ID] = &cp
}

// AddMapping seeds a SKU mapping.
func (m *MockRepository) AddMapping(mapping SkuMapping) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := mapping
	m.mappings[mappingKey(mapping.Provider, mapping.AccountID, mapping.RemoteSKU)] = &cp
}

// SetStock seeds a stock bucket.
func (m *MockRepository) SetStock(productID, channelID int64, quantity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[[2]int64{productID, channelID}] = &StockBucket{
		ProductID: productID,
		ChannelID: channelID,
		Quantity:  quantity,
	}
}

// StockQuantity returns the current quantity of a bucket, or -1 if absent.
func (m *MockRepository) StockQuantity(productID, channelID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buckets[[2]int64{productID, channelID}]; ok {
		return b.Quantity
	}
	return -1
}

// LedgerSize returns the number of ledger rows.
func (m *MockRepository) LedgerSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ledger)
}

// TokenCount returns the number of token rows on file.
func (m *MockRepository) TokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

// --- AccountRepository ---

func (m *MockRepository) ListActiveAccounts(provider string) ([]Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListAccountsErr != nil {
		return nil, m.ListAccountsErr
	}

	var out []Account
	for _, a := range m.accounts {
		if a.Provider == provider && a.Active {
			out = append(out, *a)
		}
	}
	// map order is random; keep output deterministic for tests
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].ID < out[i].ID {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (m *MockRepository) GetAccount(id int64) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

// --- TokenRepository ---

func (m *MockRepository) LatestToken(accountID int64) (*OAuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LatestTokenErr != nil {
		return nil, m.LatestTokenErr
	}

	var latest *OAuthToken
	for i := range m.tokens {
		t := &m.tokens[i]
		if t.AccountID != accountID {
			continue
		}
		if latest == nil || t.UpdatedAt.After(latest.UpdatedAt) ||
			(t.UpdatedAt.Equal(latest.UpdatedAt) && t.ID > latest.ID) {
			latest = t
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *MockRepository) InsertToken(token *OAuthToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InsertTokenCalled = true
	if m.InsertTokenErr != nil {
		return m.InsertTokenErr
	}

	token.ID = m.nextTokenID
	m.nextTokenID++
	if token.UpdatedAt.IsZero() {
		token.UpdatedAt = time.Now().UTC()
	}
	m.tokens = append(m.tokens, *token)
	m.LastInsertedToken = token
	return nil
}

// --- CatalogRepository ---

func (m *MockRepository) FindSkuMapping(provider string, accountID int64, remoteSKU string) (*SkuMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FindMappingErr != nil {
		return nil, m.FindMappingErr
	}

	mapping, ok := m.mappings[mappingKey(provider, accountID, remoteSKU)]
	if !ok {
		return nil, nil
	}
	cp := *mapping
	return &cp, nil
}

func (m *MockRepository) GetProduct(id int64) (*Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *MockRepository) ListProducts() ([]Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, *p)
	}
	return out, nil
}

// --- StockRepository ---

func (m *MockRepository) GetStockBucket(productID, channelID int64) (*StockBucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[[2]int64{productID, channelID}]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (m *MockRepository) SaveStockBucket(bucket *StockBucket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveBucketErr != nil {
		return m.SaveBucketErr
	}

	m.DecrementWrites++
	cp := *bucket
	m.buckets[[2]int64{bucket.ProductID, bucket.ChannelID}] = &cp
	return nil
}

// --- LedgerRepository ---

func (m *MockRepository) AlreadyProcessed(provider string, accountID int64, orderID, lineID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ledger[ledgerKey(provider, accountID, orderID, lineID)]
	return ok, nil
}

func (m *MockRepository) RecordLine(entry *LedgerEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RecordLineCalled = true
	if m.RecordLineErr != nil {
		return false, m.RecordLineErr
	}

	key := ledgerKey(entry.Provider, entry.AccountID, entry.RemoteOrderID, entry.RemoteLineID)
	if _, exists := m.ledger[key]; exists {
		return false, nil
	}

	entry.ID = m.nextLedgerID
	m.nextLedgerID++
	if entry.ProcessedAt.IsZero() {
		entry.ProcessedAt = time.Now().UTC()
	}
	cp := *entry
	m.ledger[key] = &cp
	m.LastRecordedLine = &cp
	return true, nil
}

func (m *MockRepository) GetLedgerStats() (*LedgerStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &LedgerStats{ByProvider: make(map[string]int)}
	for _, e := range m.ledger {
		stats.TotalLines++
		stats.TotalQuantity += e.Quantity
		if e.ProductID != nil {
			stats.MappedLines++
		} else {
			stats.UnmappedLines++
		}
		stats.ByProvider[e.Provider]++
	}
	return stats, nil
}

// --- RunRepository ---

func (m *MockRepository) StartRun(run *SyncRun) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StartRunErr != nil {
		return 0, m.StartRunErr
	}

	run.ID = m.nextRunID
	m.nextRunID++
	run.Status = "running"
	run.StartedAt = time.Now().UTC().Format(time.RFC3339)
	cp := *run
	m.runs[run.ID] = &cp
	return run.ID, nil
}

func (m *MockRepository) CompleteRun(runID int64, accountsTotal, accountsFailed, processed, skipped int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CompleteRunErr != nil {
		return m.CompleteRunErr
	}

	r, ok := m.runs[runID]
	if !ok {
		return nil
	}
	r.CompletedAt = time.Now().UTC().Format(time.RFC3339)
	r.AccountsTotal = accountsTotal
	r.AccountsFailed = accountsFailed
	r.LinesProcessed = processed
	r.LinesSkipped = skipped
	if accountsFailed > 0 {
		r.Status = "completed_with_errors"
	} else {
		r.Status = "completed"
	}
	return nil
}

func (m *MockRepository) ListRuns(limit int) ([]SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}

	var runs []SyncRun
	for id := m.nextRunID - 1; id >= 1 && len(runs) < limit; id-- {
		if r, ok := m.runs[id]; ok {
			runs = append(runs, *r)
		}
	}
	return runs, nil
}

func (m *MockRepository) GetRun(runID int64) (*SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func mappingKey(provider string, accountID int64, sku string) string {
	return provider + "|" + strconv.FormatInt(accountID, 10) + "|" + sku
}

func ledgerKey(provider string, accountID int64, orderID, lineID string) string {
	return provider + "|" + strconv.FormatInt(accountID, 10) + "|" + orderID + "|" + lineID
}
