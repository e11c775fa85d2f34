package ledger

import (
	"context"
	"time"

	"lotledger/internal/core/id"
)

// Repository stores ledger rows. There is deliberately no update or delete.
type Repository interface {
	// Append inserts rows in the transaction carried by ctx.
	Append(ctx context.Context, entries ...InventoryAdjustment) error

	// ListByProduct pages a product's rows in ledger order, optionally bounded by time.
	ListByProduct(ctx context.Context, productID id.ID, from, to *time.Time, after *Cursor, limit int) ([]InventoryAdjustment, error)

	// ListByReasonPrefix pages rows whose reason text starts with prefix.
	ListByReasonPrefix(ctx context.Context, prefix string, after *Cursor, limit int) ([]InventoryAdjustment, error)

	// ListSales pages subtract rows with a sale cause.
	ListSales(ctx context.Context, filter SaleFilter, after *Cursor, limit int) ([]InventoryAdjustment, error)

	// ProductsWithSales returns the distinct products that have sale rows in the window.
	ProductsWithSales(ctx context.Context, from, to *time.Time) ([]id.ID, error)
}
