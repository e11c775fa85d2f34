package memory

import (
	"context"
	"slices"
	"time"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/batches"
)

// BatchRepo implements batches.Repository.
type BatchRepo struct {
	s *Store
}

var _ batches.Repository = (*BatchRepo)(nil)

func (r *BatchRepo) Create(ctx context.Context, batch *batches.ProductBatch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	tx, err := r.s.beginWrite(ctx)
	if err != nil {
		return err
	}
	for _, b := range r.s.batches {
		if b.ProductID == batch.ProductID && b.BatchNumber == batch.BatchNumber && !b.IsDeleted() {
			return apperror.NewDuplicateBatchNumber(batch.ProductID, batch.BatchNumber)
		}
	}

	r.s.batches[batch.ID] = *batch
	batchID := batch.ID
	tx.onRollback(func() { delete(r.s.batches, batchID) })
	return nil
}

func (r *BatchRepo) GetByID(_ context.Context, batchID id.ID) (*batches.ProductBatch, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	b, ok := r.s.batches[batchID]
	if !ok || b.IsDeleted() {
		return nil, apperror.NewBatchNotFound(batchID)
	}
	return &b, nil
}

func (r *BatchRepo) GetByNumber(_ context.Context, productID id.ID, batchNumber string) (*batches.ProductBatch, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, b := range r.s.batches {
		if b.ProductID == productID && b.BatchNumber == batchNumber && !b.IsDeleted() {
			return &b, nil
		}
	}
	return nil, apperror.NewBatchNotFound(batchNumber)
}

func (r *BatchRepo) ListByProduct(_ context.Context, productID id.ID, after *batches.Cursor, limit int) ([]batches.ProductBatch, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := r.s.productBatches(productID, false)
	if after != nil {
		out = slices.DeleteFunc(out, func(b batches.ProductBatch) bool { return !after.Before(&b) })
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *BatchRepo) LockProduct(_ context.Context, productID id.ID) ([]batches.ProductBatch, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.productBatches(productID, false), nil
}

func (r *BatchRepo) UpdateQuantity(ctx context.Context, batchID id.ID, qty types.Quantity, expectedVersion int, at time.Time) (*batches.ProductBatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	tx, err := r.s.beginWrite(ctx)
	if err != nil {
		return nil, err
	}
	prev, ok := r.s.batches[batchID]
	if !ok || prev.IsDeleted() {
		return nil, apperror.NewBatchNotFound(batchID)
	}
	if prev.Version != expectedVersion {
		return nil, apperror.NewConcurrentModification("product_batch", batchID)
	}

	next := prev
	next.QuantityOnHand = qty
	next.Version++
	next.UpdatedAt = at
	r.s.batches[batchID] = next
	tx.onRollback(func() { r.s.batches[batchID] = prev })
	return &next, nil
}

func (r *BatchRepo) Delete(ctx context.Context, batchID id.ID, expectedVersion int, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	tx, err := r.s.beginWrite(ctx)
	if err != nil {
		return err
	}
	prev, ok := r.s.batches[batchID]
	if !ok || prev.IsDeleted() {
		return apperror.NewBatchNotFound(batchID)
	}
	if prev.Version != expectedVersion {
		return apperror.NewConcurrentModification("product_batch", batchID)
	}

	next := prev
	next.DeletedAt = &at
	next.UpdatedAt = at
	next.Version++
	r.s.batches[batchID] = next
	tx.onRollback(func() { r.s.batches[batchID] = prev })
	return nil
}

func (r *BatchRepo) SumByProduct(_ context.Context, productID id.ID) (types.Quantity, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var total types.Quantity
	for _, b := range r.s.batches {
		if b.ProductID == productID && !b.IsDeleted() {
			total += b.QuantityOnHand
		}
	}
	return total, nil
}

func (r *BatchRepo) ListExpiring(_ context.Context, from, to time.Time, after *batches.ExpiryCursor, limit int) ([]batches.ProductBatch, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []batches.ProductBatch
	for _, b := range r.s.batches {
		if b.IsDeleted() || b.QuantityOnHand <= 0 || b.ExpirationDate == nil {
			continue
		}
		exp := *b.ExpirationDate
		if exp.Before(from) || exp.After(to) {
			continue
		}
		if after != nil {
			if exp.Before(after.ExpirationDate) ||
				(exp.Equal(after.ExpirationDate) && id.Compare(b.ID, after.ID) <= 0) {
				continue
			}
		}
		out = append(out, b)
	}
	slices.SortFunc(out, batches.ExpiryCompare)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *BatchRepo) History(_ context.Context, productID id.ID) ([]batches.ProductBatch, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.productBatches(productID, true), nil
}

// productBatches returns the product's batches in FIFO order. Callers hold s.mu.
func (s *Store) productBatches(productID id.ID, includeDeleted bool) []batches.ProductBatch {
	var out []batches.ProductBatch
	for _, b := range s.batches {
		if b.ProductID != productID || (b.IsDeleted() && !includeDeleted) {
			continue
		}
		out = append(out, b)
	}
	slices.SortFunc(out, batches.FIFOCompare)
	return out
}
