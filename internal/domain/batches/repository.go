package batches

import (
	"context"
	"time"

	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
)

// Repository is the batch store.
// Every method joins the transaction carried by ctx when there is one.
type Repository interface {
	// Create inserts a batch. Returns DUPLICATE_BATCH_NUMBER when the product
	// already has a live batch with the same number.
	Create(ctx context.Context, batch *ProductBatch) error

	// GetByID returns BATCH_NOT_FOUND for unknown or deleted batches.
	GetByID(ctx context.Context, batchID id.ID) (*ProductBatch, error)

	// GetByNumber looks a live batch up by its product-scoped number.
	GetByNumber(ctx context.Context, productID id.ID, batchNumber string) (*ProductBatch, error)

	// ListByProduct returns up to limit live batches in FIFO order, starting
	// after the cursor when one is given.
	ListByProduct(ctx context.Context, productID id.ID, after *Cursor, limit int) ([]ProductBatch, error)

	// LockProduct locks every live batch of the product for the rest of the
	// transaction and returns them in FIFO order.
	LockProduct(ctx context.Context, productID id.ID) ([]ProductBatch, error)

	// UpdateQuantity sets quantity_on_hand if the stored version still equals
	// expectedVersion; otherwise CONCURRENT_MODIFICATION.
	UpdateQuantity(ctx context.Context, batchID id.ID, qty types.Quantity, expectedVersion int, at time.Time) (*ProductBatch, error)

	// Delete marks the batch as deleted. Callers check emptiness first.
	Delete(ctx context.Context, batchID id.ID, expectedVersion int, at time.Time) error

	// SumByProduct totals quantity_on_hand over live batches.
	SumByProduct(ctx context.Context, productID id.ID) (types.Quantity, error)

	// ListExpiring returns live batches with quantity > 0 and an expiration
	// date in [from, to], soonest first.
	ListExpiring(ctx context.Context, from, to time.Time, after *ExpiryCursor, limit int) ([]ProductBatch, error)

	// History returns every batch ever created for the product, deleted ones
	// included, in FIFO order.
	History(ctx context.Context, productID id.ID) ([]ProductBatch, error)
}
