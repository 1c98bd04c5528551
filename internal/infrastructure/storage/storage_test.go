package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	s, err := NewStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedAccount inserts an account row directly; the pipeline never creates
// accounts itself.
func seedAccount(t *testing.T, s *Storage, provider string, active bool) int64 {
	t.Helper()

	result, err := s.DB().Exec(`
		INSERT INTO marketplace_accounts (provider, active, client_id, client_secret)
		VALUES (?, ?, 'client', 'secret')
	`, provider, active)
	require.NoError(t, err)
	id, err := result.LastInsertId()
	require.NoError(t, err)
	return id
}

func seedProduct(t *testing.T, s *Storage, sku string, parentID interface{}) int64 {
	t.Helper()

	result, err := s.DB().Exec(`
		INSERT INTO products (sku, name, parent_id) VALUES (?, ?, ?)
	`, sku, sku, parentID)
	require.NoError(t, err)
	id, err := result.LastInsertId()
	require.NoError(t, err)
	return id
}

func TestMigrations_RunOnlyOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := NewStorage(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// Reopening must not refail or reapply anything.
	s2, err := NewStorage(path)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	var count int
	require.NoError(t, s2.DB().QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	assert.Equal(t, len(allMigrations), count)
}

func TestAccounts_ListAndGet(t *testing.T) {
	s := newTestStorage(t)

	active := seedAccount(t, s, "marketplace", true)
	seedAccount(t, s, "marketplace", false)
	seedAccount(t, s, "other", true)

	accounts, err := s.ListActiveAccounts("marketplace")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, active, accounts[0].ID)
	assert.Equal(t, "client", accounts[0].ClientID)

	account, err := s.GetAccount(active)
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.True(t, account.Active)

	missing, err := s.GetAccount(999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTokens_AppendOnlyHistory(t *testing.T) {
	s := newTestStorage(t)
	accountID := seedAccount(t, s, "marketplace", true)

	none, err := s.LatestToken(accountID)
	require.NoError(t, err)
	assert.Nil(t, none)

	old := &OAuthToken{
		AccountID:    accountID,
		AccessToken:  "T1",
		RefreshToken: "R1",
		UpdatedAt:    time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, s.InsertToken(old))

	fresh := &OAuthToken{
		AccountID:    accountID,
		AccessToken:  "T2",
		RefreshToken: "R2",
		Scopes:       "sell.inventory",
	}
	require.NoError(t, s.InsertToken(fresh))
	assert.NotZero(t, fresh.ID)

	latest, err := s.LatestToken(accountID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "T2", latest.AccessToken)
	assert.Equal(t, "sell.inventory", latest.Scopes)

	// Both rows survive; refresh never edits in place.
	var count int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM oauth_tokens WHERE account_id = ?`, accountID).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestCatalog_MappingsAndProducts(t *testing.T) {
	s := newTestStorage(t)
	accountID := seedAccount(t, s, "marketplace", true)
	parentID := seedProduct(t, s, "AB-100", nil)
	mirrorID := seedProduct(t, s, "AB-100-MIRROR", parentID)

	_, err := s.DB().Exec(`
		INSERT INTO product_sku_mappings (provider, account_id, remote_sku, product_id)
		VALUES ('marketplace', ?, 'ab-100-xl', ?)
	`, accountID, mirrorID)
	require.NoError(t, err)

	mapping, err := s.FindSkuMapping("marketplace", accountID, "ab-100-xl")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.Equal(t, mirrorID, mapping.ProductID)

	other, err := s.FindSkuMapping("marketplace", accountID+1, "ab-100-xl")
	require.NoError(t, err)
	assert.Nil(t, other)

	mirror, err := s.GetProduct(mirrorID)
	require.NoError(t, err)
	require.NotNil(t, mirror)
	require.NotNil(t, mirror.ParentID)
	assert.Equal(t, parentID, *mirror.ParentID)

	parent, err := s.GetProduct(parentID)
	require.NoError(t, err)
	require.NotNil(t, parent)
	assert.Nil(t, parent.ParentID)

	products, err := s.ListProducts()
	require.NoError(t, err)
	assert.Len(t, products, 2)
}

func TestStockBuckets_Upsert(t *testing.T) {
	s := newTestStorage(t)
	productID := seedProduct(t, s, "AB-100", nil)

	missing, err := s.GetStockBucket(productID, 1)
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.SaveStockBucket(&StockBucket{ProductID: productID, ChannelID: 1, Quantity: 10}))
	require.NoError(t, s.SaveStockBucket(&StockBucket{ProductID: productID, ChannelID: 1, Quantity: 8}))
	require.NoError(t, s.SaveStockBucket(&StockBucket{ProductID: productID, ChannelID: 2, Quantity: 5}))

	bucket, err := s.GetStockBucket(productID, 1)
	require.NoError(t, err)
	require.NotNil(t, bucket)
	assert.Equal(t, 8, bucket.Quantity)

	other, err := s.GetStockBucket(productID, 2)
	require.NoError(t, err)
	require.NotNil(t, other)
	assert.Equal(t, 5, other.Quantity)
}

func TestRecordLine_DuplicateIsNotAnError(t *testing.T) {
	s := newTestStorage(t)
	accountID := seedAccount(t, s, "marketplace", true)
	productID := seedProduct(t, s, "AB-100", nil)

	entry := &LedgerEntry{
		Provider:      "marketplace",
		AccountID:     accountID,
		RemoteOrderID: "5001",
		RemoteLineID:  "9001",
		ProductID:     &productID,
		Quantity:      2,
	}

	inserted, err := s.RecordLine(entry)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotZero(t, entry.ID)

	again, err := s.RecordLine(&LedgerEntry{
		Provider:      "marketplace",
		AccountID:     accountID,
		RemoteOrderID: "5001",
		RemoteLineID:  "9001",
		ProductID:     &productID,
		Quantity:      2,
	})
	require.NoError(t, err)
	assert.False(t, again)

	done, err := s.AlreadyProcessed("marketplace", accountID, "5001", "9001")
	require.NoError(t, err)
	assert.True(t, done)

	done, err = s.AlreadyProcessed("marketplace", accountID, "5001", "9002")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestGetLedgerStats(t *testing.T) {
	s := newTestStorage(t)
	accountID := seedAccount(t, s, "marketplace", true)
	productID := seedProduct(t, s, "AB-100", nil)

	_, err := s.RecordLine(&LedgerEntry{
		Provider: "marketplace", AccountID: accountID,
		RemoteOrderID: "5001", RemoteLineID: "9001",
		ProductID: &productID, Quantity: 2,
	})
	require.NoError(t, err)

	// Unmapped line, no product.
	_, err = s.RecordLine(&LedgerEntry{
		Provider: "marketplace", AccountID: accountID,
		RemoteOrderID: "5001", RemoteLineID: "9002",
		Quantity: 1,
	})
	require.NoError(t, err)

	stats, err := s.GetLedgerStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalLines)
	assert.Equal(t, 1, stats.MappedLines)
	assert.Equal(t, 1, stats.UnmappedLines)
	assert.Equal(t, 3, stats.TotalQuantity)
	assert.Equal(t, 2, stats.ByProvider["marketplace"])
}

func TestRuns_Lifecycle(t *testing.T) {
	s := newTestStorage(t)

	runID, err := s.StartRun(&SyncRun{RunUID: "run-1", Provider: "marketplace", WindowHours: 2, ChannelID: 1})
	require.NoError(t, err)
	require.NotZero(t, runID)

	running, err := s.GetRun(runID)
	require.NoError(t, err)
	require.NotNil(t, running)
	assert.Equal(t, "running", running.Status)
	assert.NotEmpty(t, running.StartedAt)
	assert.Empty(t, running.CompletedAt)

	require.NoError(t, s.CompleteRun(runID, 2, 0, 5, 1))

	done, err := s.GetRun(runID)
	require.NoError(t, err)
	require.NotNil(t, done)
	assert.Equal(t, "completed", done.Status)
	assert.NotEmpty(t, done.CompletedAt)
	assert.Equal(t, 2, done.AccountsTotal)
	assert.Equal(t, 5, done.LinesProcessed)
	assert.Equal(t, 1, done.LinesSkipped)

	failedID, err := s.StartRun(&SyncRun{RunUID: "run-2", Provider: "marketplace"})
	require.NoError(t, err)
	require.NoError(t, s.CompleteRun(failedID, 2, 1, 3, 0))

	failed, err := s.GetRun(failedID)
	require.NoError(t, err)
	assert.Equal(t, "completed_with_errors", failed.Status)

	runs, err := s.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunUID) // newest first

	limited, err := s.ListRuns(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	missing, err := s.GetRun(999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
