// Package catalog defines the read-only view of the product catalog and the
// inventory settings that the stock core consumes.
package catalog

import (
	"context"

	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
)

// Product is the catalog entity as seen by inventory.
// The catalog service owns it; inventory never writes it.
type Product struct {
	ID                    id.ID            `db:"id" json:"id"`
	Name                  string           `db:"name" json:"name"`
	SKU                   string           `db:"sku" json:"sku"`
	Price                 types.MinorUnits `db:"price" json:"price"`
	ReorderPoint          *int64           `db:"reorder_point" json:"reorderPoint,omitempty"`
	RequiresBatchTracking bool             `db:"requires_batch_tracking" json:"requiresBatchTracking"`
}

// ProductCatalog reads products.
type ProductCatalog interface {
	// GetProduct returns PRODUCT_NOT_FOUND when the id is unknown.
	GetProduct(ctx context.Context, productID id.ID) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

// Settings supplies stock policy values.
type Settings interface {
	AllowNegativeStock(ctx context.Context) bool
	LowStockThreshold(ctx context.Context) int64
}

// StaticSettings is a fixed Settings value.
type StaticSettings struct {
	NegativeStock bool
	Threshold     int64
}

func (s StaticSettings) AllowNegativeStock(context.Context) bool { return s.NegativeStock }

func (s StaticSettings) LowStockThreshold(context.Context) int64 { return s.Threshold }

// DefaultLowStockThreshold applies when a product has no reorder point and
// settings provide none.
const DefaultLowStockThreshold int64 = 20

// Threshold returns the low-stock threshold for p.
func Threshold(ctx context.Context, p *Product, settings Settings) int64 {
	if p.ReorderPoint != nil {
		return *p.ReorderPoint
	}
	if settings != nil {
		return settings.LowStockThreshold(ctx)
	}
	return DefaultLowStockThreshold
}
