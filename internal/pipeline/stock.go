package pipeline

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/stockpilot/marketplace-sync/internal/infrastructure/storage"
)

// StockEngine applies clamped-at-zero quantity subtractions to a product's
// per-channel stock bucket. The bucket write is a single row upsert with no
// transaction spanning it and the ledger write; per-product locking
// serializes lines that resolve to the same parent so their read-modify-write
// cycles cannot lose updates within this process.
type StockEngine struct {
	repo   storage.StockRepository
	logger *slog.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewStockEngine creates a stock engine.
func NewStockEngine(repo storage.StockRepository, logger *slog.Logger) *StockEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &StockEngine{
		repo:   repo,
		logger: logger.With("system", "stock"),
		locks:  make(map[int64]*sync.Mutex),
	}
}

// Decrement subtracts quantity from the (product, channel) bucket and
// returns the new quantity. The result never goes below zero: an oversell is
// clamped, not rejected, so one bad order cannot stall the whole run. A
// missing bucket is created at zero: "no bucket yet" means nothing to
// decrement from, not an error.
func (e *StockEngine) Decrement(productID, channelID int64, quantity int) (int, error) {
	lock := e.productLock(productID)
	lock.Lock()
	defer lock.Unlock()

	bucket, err := e.repo.GetStockBucket(productID, channelID)
	if err != nil {
		return 0, fmt.Errorf("stock lookup failed: %w", err)
	}

	if bucket == nil {
		bucket = &storage.StockBucket{
			ProductID: productID,
			ChannelID: channelID,
			Quantity:  0,
		}
		if err := e.repo.SaveStockBucket(bucket); err != nil {
			return 0, fmt.Errorf("stock bucket create failed: %w", err)
		}
		e.logger.Debug("created empty stock bucket",
			slog.Int64("product_id", productID),
			slog.Int64("channel_id", channelID),
		)
		return 0, nil
	}

	newQuantity := bucket.Quantity - quantity
	if newQuantity < 0 {
		e.logger.Warn("decrement clamped at zero",
			slog.Int64("product_id", productID),
			slog.Int64("channel_id", channelID),
			slog.Int("had", bucket.Quantity),
			slog.Int("wanted", quantity),
		)
		newQuantity = 0
	}

	bucket.Quantity = newQuantity
	if err := e.repo.SaveStockBucket(bucket); err != nil {
		return 0, fmt.Errorf("stock bucket update failed: %w", err)
	}

	return newQuantity, nil
}

func (e *StockEngine) productLock(productID int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.locks[productID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[productID] = lock
	}
	return lock
}
