// Package fifo allocates debits against batches oldest first.
package fifo

import (
	"context"
	"fmt"
	"slices"
	"time"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/batches"
)

// Allocation is the part of a debit sourced from one batch.
type Allocation struct {
	BatchID     id.ID            `json:"batchId"`
	BatchNumber string           `json:"batchNumber"`
	Quantity    types.Quantity   `json:"quantity"`
	UnitCost    types.MinorUnits `json:"unitCost"`
}

// Cost is Quantity * UnitCost.
func (a Allocation) Cost() types.MinorUnits {
	return a.UnitCost.Mul(a.Quantity)
}

// Result is the outcome of allocating one debit.
type Result struct {
	Allocations []Allocation     `json:"allocations"`
	TotalCost   types.MinorUnits `json:"totalCost"`
	// Unfulfilled is the part no batch could source. No cost is assigned to it.
	Unfulfilled types.Quantity `json:"unfulfilled"`
}

// Allocated is the sourced quantity.
func (r Result) Allocated() types.Quantity {
	var total types.Quantity
	for _, a := range r.Allocations {
		total += a.Quantity
	}
	return total
}

// FullyFulfilled reports whether the whole debit was sourced.
func (r Result) FullyFulfilled() bool { return r.Unfulfilled == 0 }

// Plan walks batches in FIFO order and sources qty from those with stock.
// The input is not modified and need not be sorted.
func Plan(snapshot []batches.ProductBatch, qty types.Quantity) Result {
	res := Result{Unfulfilled: qty}
	if qty <= 0 {
		res.Unfulfilled = 0
		return res
	}

	ordered := slices.Clone(snapshot)
	slices.SortStableFunc(ordered, batches.FIFOCompare)

	for i := range ordered {
		if res.Unfulfilled == 0 {
			break
		}
		b := &ordered[i]
		if b.QuantityOnHand <= 0 {
			continue
		}
		take := types.MinQuantity(res.Unfulfilled, b.QuantityOnHand)
		a := Allocation{
			BatchID:     b.ID,
			BatchNumber: b.BatchNumber,
			Quantity:    take,
			UnitCost:    b.PurchaseCost,
		}
		res.Allocations = append(res.Allocations, a)
		res.TotalCost += a.Cost()
		res.Unfulfilled -= take
	}
	return res
}

// Available totals the positive on-hand quantities.
func Available(snapshot []batches.ProductBatch) types.Quantity {
	var total types.Quantity
	for _, b := range snapshot {
		if b.QuantityOnHand > 0 {
			total += b.QuantityOnHand
		}
	}
	return total
}

// Consumption is what Consume changed.
type Consumption struct {
	Result
	// Updated holds the touched batches after decrement, in allocation order.
	Updated []batches.ProductBatch
	// Locked holds every live batch of the product after decrement, FIFO order.
	Locked []batches.ProductBatch
}

// Allocator applies FIFO plans to the batch store.
type Allocator struct {
	repo batches.Repository
}

// NewAllocator creates an allocator over the batch store.
func NewAllocator(repo batches.Repository) *Allocator {
	return &Allocator{repo: repo}
}

// Consume locks the product's batches, plans the debit and decrements the
// sourced batches. It must run inside a transaction; on a shortfall it still
// decrements what it could and reports Unfulfilled, leaving the decision to the caller.
// No batch is driven below zero.
func (a *Allocator) Consume(ctx context.Context, productID id.ID, qty types.Quantity, at time.Time) (*Consumption, error) {
	if qty <= 0 {
		return nil, apperror.NewInvalidArgument("quantity to consume must be positive").
			WithDetail("quantity", int64(qty))
	}

	locked, err := a.repo.LockProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("lock product batches: %w", err)
	}

	plan := Plan(locked, qty)
	out := &Consumption{Result: plan, Locked: locked}

	index := make(map[id.ID]int, len(locked))
	for i := range locked {
		index[locked[i].ID] = i
	}

	for _, alloc := range plan.Allocations {
		i := index[alloc.BatchID]
		current := locked[i]
		updated, err := a.repo.UpdateQuantity(ctx, current.ID, current.QuantityOnHand-alloc.Quantity, current.Version, at)
		if err != nil {
			return nil, err
		}
		locked[i] = *updated
		out.Updated = append(out.Updated, *updated)
	}
	return out, nil
}
