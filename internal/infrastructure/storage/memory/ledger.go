package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"lotledger/internal/core/id"
	"lotledger/internal/domain/ledger"
)

// LedgerRepo implements ledger.Repository.
type LedgerRepo struct {
	s *Store
}

var _ ledger.Repository = (*LedgerRepo)(nil)

func (r *LedgerRepo) Append(ctx context.Context, entries ...ledger.InventoryAdjustment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	tx, err := r.s.beginWrite(ctx)
	if err != nil {
		return err
	}

	appended := make(map[id.ID]struct{}, len(entries))
	for _, e := range entries {
		r.s.entries = append(r.s.entries, e)
		appended[e.ID] = struct{}{}
	}
	tx.onRollback(func() {
		r.s.entries = slices.DeleteFunc(r.s.entries, func(e ledger.InventoryAdjustment) bool {
			_, ok := appended[e.ID]
			return ok
		})
	})
	return nil
}

func (r *LedgerRepo) ListByProduct(_ context.Context, productID id.ID, from, to *time.Time, after *ledger.Cursor, limit int) ([]ledger.InventoryAdjustment, error) {
	return r.list(after, limit, func(e *ledger.InventoryAdjustment) bool {
		return e.ProductID == productID && ledger.InRange(e.CreatedAt, from, to)
	}), nil
}

func (r *LedgerRepo) ListByReasonPrefix(_ context.Context, prefix string, after *ledger.Cursor, limit int) ([]ledger.InventoryAdjustment, error) {
	return r.list(after, limit, func(e *ledger.InventoryAdjustment) bool {
		return strings.HasPrefix(e.Reason, prefix)
	}), nil
}

func (r *LedgerRepo) ListSales(_ context.Context, filter ledger.SaleFilter, after *ledger.Cursor, limit int) ([]ledger.InventoryAdjustment, error) {
	return r.list(after, limit, func(e *ledger.InventoryAdjustment) bool {
		return e.IsSale() && filter.Matches(e)
	}), nil
}

func (r *LedgerRepo) ProductsWithSales(_ context.Context, from, to *time.Time) ([]id.ID, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	seen := make(map[id.ID]struct{})
	var out []id.ID
	for i := range r.s.entries {
		e := &r.s.entries[i]
		if !e.IsSale() || !ledger.InRange(e.CreatedAt, from, to) {
			continue
		}
		if _, ok := seen[e.ProductID]; !ok {
			seen[e.ProductID] = struct{}{}
			out = append(out, e.ProductID)
		}
	}
	slices.SortFunc(out, id.Compare)
	return out, nil
}

// Entries returns a copy of the whole ledger in ledger order.
func (r *LedgerRepo) Entries() []ledger.InventoryAdjustment {
	return r.list(nil, 0, func(*ledger.InventoryAdjustment) bool { return true })
}

func (r *LedgerRepo) list(after *ledger.Cursor, limit int, keep func(*ledger.InventoryAdjustment) bool) []ledger.InventoryAdjustment {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []ledger.InventoryAdjustment
	for i := range r.s.entries {
		e := &r.s.entries[i]
		if after != nil && !after.Before(e) {
			continue
		}
		if keep(e) {
			out = append(out, *e)
		}
	}
	slices.SortStableFunc(out, ledger.Compare)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
