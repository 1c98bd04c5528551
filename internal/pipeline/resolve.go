package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/stockpilot/marketplace-sync/internal/infrastructure/storage"
)

// Resolver maps a remote SKU, scoped to one (provider, account) pair, to the
// internal product that owns stock. This is the only place stock identity is
// decided.
type Resolver struct {
	catalog storage.CatalogRepository
	logger  *slog.Logger
}

// NewResolver creates a resolver.
func NewResolver(catalog storage.CatalogRepository, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		catalog: catalog,
		logger:  logger.With("system", "resolver"),
	}
}

// Resolve returns the id of the product whose stock bucket the line targets,
// after parent substitution: a mirror product defers to its parent, a parent
// stands for itself. found is false when the SKU has no mapping on this
// account; the caller records the line as unmapped rather than retrying it
// forever.
func (r *Resolver) Resolve(account *storage.Account, sku string) (productID int64, found bool, err error) {
	mapping, err := r.catalog.FindSkuMapping(account.Provider, account.ID, sku)
	if err != nil {
		return 0, false, fmt.Errorf("mapping lookup failed: %w", err)
	}
	if mapping == nil {
		return 0, false, nil
	}

	product, err := r.catalog.GetProduct(mapping.ProductID)
	if err != nil {
		return 0, false, fmt.Errorf("product lookup failed: %w", err)
	}
	if product == nil {
		// Mapping points at a product that no longer exists. Treat as
		// unmapped so the line gets ledgered instead of retried.
		r.logger.Warn("sku mapping points at missing product",
			slog.String("sku", sku),
			slog.Int64("product_id", mapping.ProductID),
		)
		return 0, false, nil
	}

	if product.ParentID != nil {
		return *product.ParentID, true, nil
	}
	return product.ID, true, nil
}
