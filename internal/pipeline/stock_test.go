package pipeline

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockpilot/marketplace-sync/internal/infrastructure/storage"
)

func TestDecrement_Subtracts(t *testing.T) {
	repo := storage.NewMockRepository()
	repo.SetStock(7, 1, 10)

	engine := NewStockEngine(repo, nil)

	remaining, err := engine.Decrement(7, 1, 2)

	require.NoError(t, err)
	assert.Equal(t, 8, remaining)
	assert.Equal(t, 8, repo.StockQuantity(7, 1))
}

func TestDecrement_ClampsAtZero(t *testing.T) {
	repo := storage.NewMockRepository()
	repo.SetStock(7, 1, 1)

	engine := NewStockEngine(repo, nil)

	remaining, err := engine.Decrement(7, 1, 5)

	require.NoError(t, err)
	assert.Zero(t, remaining)
	assert.Zero(t, repo.StockQuantity(7, 1))
}

func TestDecrement_CreatesMissingBucketAtZero(t *testing.T) {
	repo := storage.NewMockRepository()

	engine := NewStockEngine(repo, nil)

	remaining, err := engine.Decrement(7, 1, 3)

	require.NoError(t, err)
	assert.Zero(t, remaining)
	assert.Zero(t, repo.StockQuantity(7, 1)) // bucket now exists at zero
}

func TestDecrement_ChannelsAreIndependent(t *testing.T) {
	repo := storage.NewMockRepository()
	repo.SetStock(7, 1, 10)
	repo.SetStock(7, 2, 10)

	engine := NewStockEngine(repo, nil)

	_, err := engine.Decrement(7, 1, 4)

	require.NoError(t, err)
	assert.Equal(t, 6, repo.StockQuantity(7, 1))
	assert.Equal(t, 10, repo.StockQuantity(7, 2))
}

func TestDecrement_SaveError(t *testing.T) {
	repo := storage.NewMockRepository()
	repo.SetStock(7, 1, 10)
	repo.SaveBucketErr = errors.New("disk full")

	engine := NewStockEngine(repo, nil)

	_, err := engine.Decrement(7, 1, 2)

	assert.Error(t, err)
}

func TestDecrement_ConcurrentSameProduct(t *testing.T) {
	repo := storage.NewMockRepository()
	repo.SetStock(7, 1, 100)

	engine := NewStockEngine(repo, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Decrement(7, 1, 2)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// 50 decrements of 2 against 100 leave exactly zero only if no
	// read-modify-write cycle was lost.
	assert.Zero(t, repo.StockQuantity(7, 1))
}

func TestResolve_DirectProduct(t *testing.T) {
	repo := storage.NewMockRepository()
	repo.AddProduct(storage.Product{ID: 7, SKU: "AB-100"})
	repo.AddMapping(storage.SkuMapping{Provider: "marketplace", AccountID: 1, RemoteSKU: "ab-100-xl", ProductID: 7})

	resolver := NewResolver(repo, nil)

	productID, found, err := resolver.Resolve(testAccount(), "ab-100-xl")

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(7), productID)
}

func TestResolve_MirrorSubstitutesParent(t *testing.T) {
	parentID := int64(7)

	repo := storage.NewMockRepository()
	repo.AddProduct(storage.Product{ID: 7, SKU: "AB-100"})
	repo.AddProduct(storage.Product{ID: 8, SKU: "AB-100-MIRROR", ParentID: &parentID})
	repo.AddMapping(storage.SkuMapping{Provider: "marketplace", AccountID: 1, RemoteSKU: "ab-100-xl", ProductID: 8})

	resolver := NewResolver(repo, nil)

	productID, found, err := resolver.Resolve(testAccount(), "ab-100-xl")

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(7), productID) // the parent owns the stock
}

func TestResolve_NoMapping(t *testing.T) {
	resolver := NewResolver(storage.NewMockRepository(), nil)

	_, found, err := resolver.Resolve(testAccount(), "unknown-sku")

	require.NoError(t, err)
	assert.False(t, found)
}

func TestResolve_MappingScopedToAccount(t *testing.T) {
	repo := storage.NewMockRepository()
	repo.AddProduct(storage.Product{ID: 7, SKU: "AB-100"})
	repo.AddMapping(storage.SkuMapping{Provider: "marketplace", AccountID: 99, RemoteSKU: "ab-100-xl", ProductID: 7})

	resolver := NewResolver(repo, nil)

	_, found, err := resolver.Resolve(testAccount(), "ab-100-xl")

	require.NoError(t, err)
	assert.False(t, found) // mapping belongs to another account
}

func TestResolve_DanglingMappingTreatedAsUnmapped(t *testing.T) {
	repo := storage.NewMockRepository()
	repo.AddMapping(storage.SkuMapping{Provider: "marketplace", AccountID: 1, RemoteSKU: "ab-100-xl", ProductID: 42})

	resolver := NewResolver(repo, nil)

	_, found, err := resolver.Resolve(testAccount(), "ab-100-xl")

	require.NoError(t, err)
	assert.False(t, found)
}

func TestResolve_LookupError(t *testing.T) {
	repo := storage.NewMockRepository()
	repo.FindMappingErr = errors.New("db gone")

	resolver := NewResolver(repo, nil)

	_, _, err := resolver.Resolve(testAccount(), "ab-100-xl")

	assert.Error(t, err)
}
