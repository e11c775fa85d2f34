package ledger

import (
	"context"
	"fmt"
	"iter"
	"time"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
)

// DefaultPageSize is the page size used when iterating the ledger.
const DefaultPageSize = 500

// Service appends to and reads the ledger.
type Service struct {
	repo     Repository
	now      func() time.Time
	pageSize int
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPageSize sets the page size of query sequences.
func WithPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// NewService creates a ledger service.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, now: time.Now, pageSize: DefaultPageSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append assigns ids and timestamps, reconciles reason with cause, and stores the rows.
// Rows keep their slice order in the ledger.
func (s *Service) Append(ctx context.Context, entries ...InventoryAdjustment) ([]InventoryAdjustment, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	now := s.now().UTC()
	out := make([]InventoryAdjustment, len(entries))
	for i, e := range entries {
		if id.IsNil(e.ID) {
			e.ID = id.New()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		if err := normalizeCause(&e); err != nil {
			return nil, err
		}
		if err := e.Validate(); err != nil {
			return nil, err
		}
		out[i] = e
	}

	if err := s.repo.Append(ctx, out...); err != nil {
		return nil, fmt.Errorf("append ledger entries: %w", err)
	}
	return out, nil
}

// normalizeCause derives the missing half of (Reason, Cause).
func normalizeCause(e *InventoryAdjustment) error {
	reason, cause, err := ResolveCause(e.Reason, e.Cause)
	if err != nil {
		return err
	}
	e.Reason, e.Cause = reason, cause
	return nil
}

// ResolveCause fills in whichever of reason and cause is missing and rejects
// pairs that disagree on the kind.
func ResolveCause(reason string, cause Cause) (string, Cause, error) {
	switch {
	case cause.IsZero() && reason == "":
		return "", Cause{}, apperror.NewInvalidArgument("adjustment reason is required")
	case cause.IsZero():
		return reason, ParseCause(reason), nil
	case !cause.Kind.Valid():
		return "", Cause{}, apperror.NewInvalidArgument("unknown adjustment cause").
			WithDetail("cause", string(cause.Kind))
	case reason == "":
		return cause.Reason(), cause, nil
	}
	if parsed := ParseCause(reason); parsed.Kind != cause.Kind {
		return "", Cause{}, apperror.NewInvalidArgument("reason text does not match cause").
			WithDetail("reason", reason).
			WithDetail("cause", string(cause.Kind))
	}
	return reason, cause, nil
}

// QueryByProduct yields a product's rows in ledger order within [from, to].
func (s *Service) QueryByProduct(ctx context.Context, productID id.ID, from, to *time.Time) iter.Seq2[InventoryAdjustment, error] {
	return s.paginate(func(after *Cursor) ([]InventoryAdjustment, error) {
		return s.repo.ListByProduct(ctx, productID, from, to, after, s.pageSize)
	})
}

// QueryByReasonPrefix yields rows whose reason starts with prefix, in ledger order.
func (s *Service) QueryByReasonPrefix(ctx context.Context, prefix string) iter.Seq2[InventoryAdjustment, error] {
	return s.paginate(func(after *Cursor) ([]InventoryAdjustment, error) {
		return s.repo.ListByReasonPrefix(ctx, prefix, after, s.pageSize)
	})
}

// QuerySales yields sale rows matching the filter, in ledger order.
func (s *Service) QuerySales(ctx context.Context, filter SaleFilter) iter.Seq2[InventoryAdjustment, error] {
	return s.paginate(func(after *Cursor) ([]InventoryAdjustment, error) {
		return s.repo.ListSales(ctx, filter, after, s.pageSize)
	})
}

// ProductsWithSales lists the products that sold in the window.
func (s *Service) ProductsWithSales(ctx context.Context, from, to *time.Time) ([]id.ID, error) {
	return s.repo.ProductsWithSales(ctx, from, to)
}

// ListByProduct returns one page of a product's rows.
func (s *Service) ListByProduct(ctx context.Context, productID id.ID, from, to *time.Time, after *Cursor, limit int) ([]InventoryAdjustment, error) {
	if limit <= 0 || limit > s.pageSize {
		limit = s.pageSize
	}
	return s.repo.ListByProduct(ctx, productID, from, to, after, limit)
}

// ListByReasonPrefix returns one page of rows with the reason prefix.
func (s *Service) ListByReasonPrefix(ctx context.Context, prefix string, after *Cursor, limit int) ([]InventoryAdjustment, error) {
	if limit <= 0 || limit > s.pageSize {
		limit = s.pageSize
	}
	return s.repo.ListByReasonPrefix(ctx, prefix, after, limit)
}

func (s *Service) paginate(fetch func(after *Cursor) ([]InventoryAdjustment, error)) iter.Seq2[InventoryAdjustment, error] {
	pageSize := s.pageSize
	return func(yield func(InventoryAdjustment, error) bool) {
		var after *Cursor
		for {
			page, err := fetch(after)
			if err != nil {
				yield(InventoryAdjustment{}, err)
				return
			}
			for i := range page {
				if !yield(page[i], nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			c := page[len(page)-1].Cursor()
			after = &c
		}
	}
}

// Balances maps batch ids to replayed quantities.
type Balances map[id.ID]types.Quantity

// Apply adds the row's delta to its batch. Rows without a batch are ignored
// and reported as false.
func (b Balances) Apply(e *InventoryAdjustment) bool {
	if e.BatchID == nil {
		return false
	}
	b[*e.BatchID] += e.QuantityAdjusted
	return true
}

// Replay rebuilds batch quantities from an ordered sequence of rows,
// starting from empty state.
func Replay(entries iter.Seq2[InventoryAdjustment, error]) (Balances, error) {
	balances := make(Balances)
	for e, err := range entries {
		if err != nil {
			return nil, err
		}
		balances.Apply(&e)
	}
	return balances, nil
}

// Replay rebuilds the product's batch quantities from its full ledger.
func (s *Service) Replay(ctx context.Context, productID id.ID) (Balances, error) {
	return Replay(s.QueryByProduct(ctx, productID, nil, nil))
}
