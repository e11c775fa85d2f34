package dto

import (
	"time"

	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/adjuster"
	"lotledger/internal/domain/batches"
	"lotledger/internal/domain/fifo"
	"lotledger/internal/domain/ledger"
)

// CauseRequest is the structured reason of an adjustment.
type CauseRequest struct {
	Kind string `json:"kind" binding:"required"`
	Ref  string `json:"ref"`
}

// JournalRequest carries the reason of an adjustment. Either field may be
// omitted; the other is derived from it.
type JournalRequest struct {
	Reason string        `json:"reason" binding:"max=500"`
	Cause  *CauseRequest `json:"cause"`
}

func (r JournalRequest) toJournal() adjuster.Journal {
	j := adjuster.Journal{Reason: r.Reason}
	if r.Cause != nil {
		j.Cause = ledger.Cause{Kind: ledger.CauseKind(r.Cause.Kind), Ref: r.Cause.Ref}
	}
	return j
}

// NewBatchRequest describes a batch created by an add or recount.
type NewBatchRequest struct {
	BatchNumber    string     `json:"batchNumber" binding:"required"`
	PurchaseCost   int64      `json:"purchaseCost"`
	ExpirationDate *time.Time `json:"expirationDate"`
}

func (r *NewBatchRequest) toNewBatch() *adjuster.NewBatch {
	if r == nil {
		return nil
	}
	return &adjuster.NewBatch{
		BatchNumber:    r.BatchNumber,
		PurchaseCost:   types.MinorUnits(r.PurchaseCost),
		ExpirationDate: r.ExpirationDate,
	}
}

// CreateBatchRequest receives a new batch.
type CreateBatchRequest struct {
	ProductID      id.ID      `json:"productId" binding:"required"`
	BatchNumber    string     `json:"batchNumber" binding:"required"`
	PurchaseCost   int64      `json:"purchaseCost"`
	Quantity       int64      `json:"quantity"`
	ExpirationDate *time.Time `json:"expirationDate"`
	JournalRequest
}

// ToDomain converts to the adjuster request.
func (r *CreateBatchRequest) ToDomain() adjuster.CreateBatchRequest {
	return adjuster.CreateBatchRequest{
		ProductID:      r.ProductID,
		BatchNumber:    r.BatchNumber,
		PurchaseCost:   types.MinorUnits(r.PurchaseCost),
		Quantity:       types.Quantity(r.Quantity),
		ExpirationDate: r.ExpirationDate,
		Journal:        r.toJournal(),
	}
}

// AddStockRequest adds stock to an existing batch or a new one.
type AddStockRequest struct {
	BatchID  *id.ID           `json:"batchId"`
	NewBatch *NewBatchRequest `json:"newBatch"`
	Quantity int64            `json:"quantity"`
	JournalRequest
}

// ToDomain converts to the adjuster request.
func (r *AddStockRequest) ToDomain(productID id.ID) adjuster.AddRequest {
	return adjuster.AddRequest{
		ProductID: productID,
		BatchID:   r.BatchID,
		NewBatch:  r.NewBatch.toNewBatch(),
		Quantity:  types.Quantity(r.Quantity),
		Journal:   r.toJournal(),
	}
}

// SubtractStockRequest removes stock FIFO or from one batch.
type SubtractStockRequest struct {
	BatchID      *id.ID `json:"batchId"`
	Quantity     int64  `json:"quantity"`
	AllowPartial bool   `json:"allowPartial"`
	JournalRequest
}

// ToDomain converts to the adjuster request.
func (r *SubtractStockRequest) ToDomain(productID id.ID) adjuster.SubtractRequest {
	return adjuster.SubtractRequest{
		ProductID:    productID,
		BatchID:      r.BatchID,
		Quantity:     types.Quantity(r.Quantity),
		AllowPartial: r.AllowPartial,
		Journal:      r.toJournal(),
	}
}

// RecountRequest sets a batch to a counted quantity.
type RecountRequest struct {
	BatchID  *id.ID           `json:"batchId"`
	NewBatch *NewBatchRequest `json:"newBatch"`
	Counted  int64            `json:"counted"`
	JournalRequest
}

// ToDomain converts to the adjuster request.
func (r *RecountRequest) ToDomain(productID id.ID) adjuster.RecountRequest {
	return adjuster.RecountRequest{
		ProductID: productID,
		BatchID:   r.BatchID,
		NewBatch:  r.NewBatch.toNewBatch(),
		Counted:   types.Quantity(r.Counted),
		Journal:   r.toJournal(),
	}
}

// AdjustmentResponse reports a committed adjustment.
type AdjustmentResponse struct {
	OperationID   id.ID                  `json:"operationId"`
	Batches       []batches.ProductBatch `json:"batches"`
	EntryIDs      []id.ID                `json:"entryIds"`
	Allocations   []fifo.Allocation      `json:"allocations,omitempty"`
	TotalCost     types.MinorUnits       `json:"totalCost"`
	Unfulfilled   types.Quantity         `json:"unfulfilled"`
	Overdrawn     types.Quantity         `json:"overdrawn,omitempty"`
	NegativeStock bool                   `json:"negativeStock"`
}

// FromResult converts an adjuster result.
func FromResult(r *adjuster.Result) AdjustmentResponse {
	return AdjustmentResponse{
		OperationID:   r.OperationID,
		Batches:       r.Batches,
		EntryIDs:      r.EntryIDs,
		Allocations:   r.Allocations,
		TotalCost:     r.TotalCost,
		Unfulfilled:   r.Unfulfilled,
		Overdrawn:     r.Overdrawn,
		NegativeStock: r.NegativeStock,
	}
}

// LedgerQuery filters a product's ledger.
type LedgerQuery struct {
	From string `form:"from"`
	To   string `form:"to"`
	PageRequest
}

// ReasonQuery selects ledger rows by reason prefix.
type ReasonQuery struct {
	Prefix string `form:"prefix" binding:"required"`
	PageRequest
}

// LedgerCursor is the keyset accessor used with NewPage.
func LedgerCursor(e *ledger.InventoryAdjustment) (time.Time, id.ID) {
	return e.CreatedAt, e.ID
}

// BatchCursor is the keyset accessor used with NewPage.
func BatchCursor(b *batches.ProductBatch) (time.Time, id.ID) {
	return b.CreatedAt, b.ID
}
