// Package ledger is the append-only journal of every stock quantity change.
package ledger

import (
	"time"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
)

// AdjustmentType is the kind of quantity change.
type AdjustmentType string

const (
	TypeAdd      AdjustmentType = "add"
	TypeSubtract AdjustmentType = "subtract"
	// TypeRecount records counted - previous, never the absolute count.
	TypeRecount AdjustmentType = "recount"
)

func (t AdjustmentType) Valid() bool {
	return t == TypeAdd || t == TypeSubtract || t == TypeRecount
}

// InventoryAdjustment is one ledger row. Rows are never updated or deleted.
type InventoryAdjustment struct {
	ID        id.ID  `db:"id" json:"id"`
	ProductID id.ID  `db:"product_id" json:"productId"`
	BatchID   *id.ID `db:"batch_id" json:"batchId,omitempty"`
	// OperationID groups the rows written by one adjuster call.
	OperationID      id.ID          `db:"operation_id" json:"operationId"`
	Type             AdjustmentType `db:"adjustment_type" json:"adjustmentType"`
	QuantityAdjusted types.Quantity `db:"quantity_adjusted" json:"quantityAdjusted"`
	Reason           string         `db:"reason" json:"reason"`
	Cause            Cause          `db:"-" json:"cause"`
	UserID           string         `db:"user_id" json:"userId,omitempty"`
	// NegativeStock marks rows that drove a batch below zero under the override.
	NegativeStock bool `db:"negative_stock" json:"negativeStock,omitempty"`
	// UnitCost is the batch cost at write time. Informational; reports derive cost from batches.
	UnitCost  types.MinorUnits `db:"unit_cost" json:"unitCost"`
	CreatedAt time.Time        `db:"created_at" json:"createdAt"`
}

// IsSale reports whether the row is a sale debit.
func (e *InventoryAdjustment) IsSale() bool {
	return e.Type == TypeSubtract && e.Cause.IsSale()
}

// Cursor returns the keyset position of e in ledger order.
func (e *InventoryAdjustment) Cursor() Cursor {
	return Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
}

// Validate checks the sign of QuantityAdjusted against Type.
func (e *InventoryAdjustment) Validate() error {
	if id.IsNil(e.ProductID) {
		return apperror.NewInvalidArgument("ledger entry requires a product id")
	}
	if id.IsNil(e.OperationID) {
		return apperror.NewInvalidArgument("ledger entry requires an operation id")
	}
	if !e.Cause.Kind.Valid() {
		return apperror.NewInvalidArgument("ledger entry has an unknown cause").
			WithDetail("cause", string(e.Cause.Kind))
	}
	switch e.Type {
	case TypeAdd:
		if e.QuantityAdjusted.IsNegative() {
			return apperror.NewInvalidArgument("add entries must not be negative")
		}
	case TypeSubtract:
		if e.QuantityAdjusted.IsPositive() {
			return apperror.NewInvalidArgument("subtract entries must not be positive")
		}
	case TypeRecount:
	default:
		return apperror.NewInvalidArgument("unknown adjustment type").
			WithDetail("adjustment_type", string(e.Type))
	}
	return nil
}

// Cursor is a keyset position in ledger order (created_at, id).
type Cursor struct {
	CreatedAt time.Time
	ID        id.ID
}

// Before reports whether the cursor position precedes e.
func (c Cursor) Before(e *InventoryAdjustment) bool {
	if !e.CreatedAt.Equal(c.CreatedAt) {
		return e.CreatedAt.After(c.CreatedAt)
	}
	return id.Compare(e.ID, c.ID) > 0
}

// Compare orders entries by created_at, then id.
func Compare(a, b InventoryAdjustment) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return id.Compare(a.ID, b.ID)
}

// SaleFilter narrows sale queries. Bounds are inclusive; nil means open.
type SaleFilter struct {
	From      *time.Time
	To        *time.Time
	ProductID *id.ID
}

// Matches reports whether a sale row falls inside the filter.
func (f SaleFilter) Matches(e *InventoryAdjustment) bool {
	if f.ProductID != nil && e.ProductID != *f.ProductID {
		return false
	}
	return InRange(e.CreatedAt, f.From, f.To)
}

// InRange reports whether t lies in the inclusive [from, to] window.
func InRange(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}
