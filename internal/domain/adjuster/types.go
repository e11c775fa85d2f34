// Package adjuster is the only writer of batch quantities. Every change it
// makes is journaled to the ledger in the same transaction.
package adjuster

import (
	"time"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/batches"
	"lotledger/internal/domain/fifo"
	"lotledger/internal/domain/ledger"
)

// NewBatch carries the attributes of a batch created as part of an adjustment.
type NewBatch struct {
	BatchNumber    string
	PurchaseCost   types.MinorUnits
	ExpirationDate *time.Time
}

// Journal is the reason and actor of an adjustment.
// Reason and Cause may be given alone or together; the missing one is derived.
type Journal struct {
	Reason string
	Cause  ledger.Cause
	// UserID overrides the actor found in the request context.
	UserID string
}

// CreateBatchRequest receives a new batch with its initial quantity.
type CreateBatchRequest struct {
	ProductID      id.ID
	BatchNumber    string
	PurchaseCost   types.MinorUnits
	Quantity       types.Quantity
	ExpirationDate *time.Time
	Journal
}

// AddRequest increases stock on an existing batch or on a new one.
type AddRequest struct {
	ProductID id.ID
	BatchID   *id.ID
	NewBatch  *NewBatch
	Quantity  types.Quantity
	Journal
}

func (r *AddRequest) validate() error {
	if !r.Quantity.IsPositive() {
		return apperror.NewInvalidArgument("quantity to add must be positive").
			WithDetail("quantity", int64(r.Quantity))
	}
	return validateTarget(r.BatchID, r.NewBatch)
}

// SubtractRequest decreases stock. Without BatchID the quantity is taken FIFO.
type SubtractRequest struct {
	ProductID id.ID
	BatchID   *id.ID
	Quantity  types.Quantity
	// AllowPartial commits the sourced part of a short subtract instead of
	// rejecting it. Ignored when negative stock is allowed.
	AllowPartial bool
	Journal
}

func (r *SubtractRequest) validate() error {
	if !r.Quantity.IsPositive() {
		return apperror.NewInvalidArgument("quantity to subtract must be positive").
			WithDetail("quantity", int64(r.Quantity))
	}
	return nil
}

// RecountRequest sets a batch to a counted absolute quantity.
type RecountRequest struct {
	ProductID id.ID
	BatchID   *id.ID
	NewBatch  *NewBatch
	Counted   types.Quantity
	Journal
}

func (r *RecountRequest) validate() error {
	if r.Counted.IsNegative() {
		return apperror.NewInvalidArgument("counted quantity must not be negative").
			WithDetail("counted", int64(r.Counted))
	}
	return validateTarget(r.BatchID, r.NewBatch)
}

func validateTarget(batchID *id.ID, nb *NewBatch) error {
	switch {
	case batchID == nil && nb == nil:
		return apperror.NewInvalidArgument("either batch id or new batch attributes are required")
	case batchID != nil && nb != nil:
		return apperror.NewInvalidArgument("batch id and new batch attributes are mutually exclusive")
	case nb != nil && nb.PurchaseCost.IsNegative():
		return apperror.NewInvalidArgument("purchase cost must not be negative")
	}
	return nil
}

// Result describes a committed adjustment.
type Result struct {
	OperationID id.ID `json:"operationId"`
	// Batches holds every touched batch in its committed state.
	Batches  []batches.ProductBatch       `json:"batches"`
	EntryIDs []id.ID                      `json:"entryIds"`
	Entries  []ledger.InventoryAdjustment `json:"-"`
	// Allocations lists the sourced parts of a subtract.
	Allocations []fifo.Allocation `json:"allocations,omitempty"`
	TotalCost   types.MinorUnits  `json:"totalCost"`
	Unfulfilled types.Quantity    `json:"unfulfilled"`
	// Overdrawn is the quantity charged below zero under the negative-stock override.
	Overdrawn     types.Quantity `json:"overdrawn,omitempty"`
	NegativeStock bool           `json:"negativeStock"`
}
