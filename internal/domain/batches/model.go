// Package batches owns product batches (lots): their immutable cost attributes
// and their on-hand quantities.
package batches

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
)

// MaxBatchNumberLength bounds batch numbers, counted in runes.
const MaxBatchNumberLength = 64

// ProductBatch is a lot of one product received at a single unit cost.
// PurchaseCost, BatchNumber, ExpirationDate and CreatedAt never change after creation.
type ProductBatch struct {
	ID             id.ID            `db:"id" json:"id"`
	ProductID      id.ID            `db:"product_id" json:"productId"`
	BatchNumber    string           `db:"batch_number" json:"batchNumber"`
	PurchaseCost   types.MinorUnits `db:"purchase_cost" json:"purchaseCost"`
	QuantityOnHand types.Quantity   `db:"quantity_on_hand" json:"quantityOnHand"`
	ExpirationDate *time.Time       `db:"expiration_date" json:"expirationDate,omitempty"`
	Version        int              `db:"version" json:"version"`
	CreatedAt      time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updatedAt"`
	// DeletedAt marks a removed empty batch. The row is kept so historical
	// cost replay can still resolve it.
	DeletedAt *time.Time `db:"deleted_at" json:"-"`
}

// IsDeleted reports whether the batch was removed.
func (b *ProductBatch) IsDeleted() bool { return b.DeletedAt != nil }

// Cursor returns the keyset position of b in FIFO order.
func (b *ProductBatch) Cursor() Cursor {
	return Cursor{CreatedAt: b.CreatedAt, ID: b.ID}
}

// ExpiryCursor returns the keyset position of b in expiration order.
// Only meaningful for batches with an expiration date.
func (b *ProductBatch) ExpiryCursor() ExpiryCursor {
	c := ExpiryCursor{ID: b.ID}
	if b.ExpirationDate != nil {
		c.ExpirationDate = *b.ExpirationDate
	}
	return c
}

// Cursor is a keyset position in FIFO order (created_at, id).
type Cursor struct {
	CreatedAt time.Time
	ID        id.ID
}

// ExpiryCursor is a keyset position in expiration order (expiration_date, id).
type ExpiryCursor struct {
	ExpirationDate time.Time
	ID             id.ID
}

// FIFOLess orders batches oldest first; equal creation times fall back to id.
func FIFOLess(a, b *ProductBatch) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return id.Compare(a.ID, b.ID) < 0
}

// FIFOCompare is FIFOLess in slices.SortFunc form.
func FIFOCompare(a, b ProductBatch) int {
	switch {
	case FIFOLess(&a, &b):
		return -1
	case FIFOLess(&b, &a):
		return 1
	default:
		return 0
	}
}

// ExpiryCompare orders batches by soonest expiration, then id.
// Batches without expiration sort last.
func ExpiryCompare(a, b ProductBatch) int {
	switch {
	case a.ExpirationDate == nil && b.ExpirationDate == nil:
	case a.ExpirationDate == nil:
		return 1
	case b.ExpirationDate == nil:
		return -1
	case a.ExpirationDate.Before(*b.ExpirationDate):
		return -1
	case b.ExpirationDate.Before(*a.ExpirationDate):
		return 1
	}
	return id.Compare(a.ID, b.ID)
}

// Before reports whether the cursor position precedes b in FIFO order.
func (c Cursor) Before(b *ProductBatch) bool {
	if !b.CreatedAt.Equal(c.CreatedAt) {
		return b.CreatedAt.After(c.CreatedAt)
	}
	return id.Compare(b.ID, c.ID) > 0
}

// NormalizeBatchNumber trims and validates a batch number.
func NormalizeBatchNumber(raw string) (string, error) {
	n := strings.TrimSpace(raw)
	if n == "" {
		return "", apperror.NewInvalidArgument("batch number is required")
	}
	if utf8.RuneCountInString(n) > MaxBatchNumberLength {
		return "", apperror.NewInvalidArgument("batch number is too long").
			WithDetail("max_length", MaxBatchNumberLength)
	}
	for _, r := range n {
		if unicode.IsControl(r) {
			return "", apperror.NewInvalidArgument("batch number contains control characters")
		}
	}
	return n, nil
}

// CreateParams describes a batch to create.
type CreateParams struct {
	ProductID      id.ID
	BatchNumber    string
	PurchaseCost   types.MinorUnits
	QuantityOnHand types.Quantity
	ExpirationDate *time.Time
}

// Validate rejects malformed input before anything is written.
func (p *CreateParams) Validate() error {
	if id.IsNil(p.ProductID) {
		return apperror.NewInvalidArgument("product id is required")
	}
	n, err := NormalizeBatchNumber(p.BatchNumber)
	if err != nil {
		return err
	}
	p.BatchNumber = n
	if p.PurchaseCost.IsNegative() {
		return apperror.NewInvalidArgument("purchase cost must not be negative").
			WithDetail("purchase_cost", int64(p.PurchaseCost))
	}
	if p.QuantityOnHand.IsNegative() {
		return apperror.NewInvalidArgument("quantity on hand must not be negative").
			WithDetail("quantity_on_hand", int64(p.QuantityOnHand))
	}
	return nil
}
