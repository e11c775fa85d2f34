package batches

import (
	"context"
	"fmt"
	"iter"
	"time"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/domain/catalog"
	"lotledger/pkg/logger"
)

// DefaultPageSize is the page size used when iterating batches.
const DefaultPageSize = 100

// Auditor receives batch lifecycle events.
type Auditor interface {
	LogChange(ctx context.Context, entityType string, entityID id.ID, action string, changes map[string]any) error
}

// Service is the batch store facade used by the adjuster and by readers.
// It never changes quantities of existing batches; that is the adjuster's job.
type Service struct {
	repo     Repository
	products catalog.ProductCatalog
	auditor  Auditor
	now      func() time.Time
	pageSize int
}

// Option configures a Service.
type Option func(*Service)

// WithAuditor records batch creation and deletion.
func WithAuditor(a Auditor) Option {
	return func(s *Service) { s.auditor = a }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPageSize sets the page size used by BatchesForProduct.
func WithPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// NewService creates a batch service.
func NewService(repo Repository, products catalog.ProductCatalog, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		products: products,
		now:      time.Now,
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the service clock reading in UTC.
func (s *Service) Now() time.Time {
	return s.now().UTC()
}

// CreateBatch validates params and stores a new batch.
// The initial quantity is not journaled here; the adjuster pairs it with a ledger entry.
func (s *Service) CreateBatch(ctx context.Context, params CreateParams) (*ProductBatch, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.products.GetProduct(ctx, params.ProductID); err != nil {
		return nil, err
	}

	if existing, err := s.repo.GetByNumber(ctx, params.ProductID, params.BatchNumber); err == nil && existing != nil {
		return nil, apperror.NewDuplicateBatchNumber(params.ProductID, params.BatchNumber)
	} else if err != nil && !apperror.IsNotFound(err) {
		return nil, fmt.Errorf("check batch number: %w", err)
	}

	now := s.Now()
	batch := &ProductBatch{
		ID:             id.New(),
		ProductID:      params.ProductID,
		BatchNumber:    params.BatchNumber,
		PurchaseCost:   params.PurchaseCost,
		QuantityOnHand: params.QuantityOnHand,
		ExpirationDate: params.ExpirationDate,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if batch.ExpirationDate != nil {
		exp := batch.ExpirationDate.UTC()
		batch.ExpirationDate = &exp
	}

	if err := s.repo.Create(ctx, batch); err != nil {
		return nil, err
	}

	if err := s.audit(ctx, batch, "create", map[string]any{
		"batch_number":     batch.BatchNumber,
		"purchase_cost":    int64(batch.PurchaseCost),
		"quantity_on_hand": int64(batch.QuantityOnHand),
		"expiration_date":  batch.ExpirationDate,
	}); err != nil {
		return nil, err
	}

	logger.Info(ctx, "batch created",
		"product_id", batch.ProductID,
		"batch_id", batch.ID,
		"batch_number", batch.BatchNumber,
		"quantity", batch.QuantityOnHand,
	)
	return batch, nil
}

// GetBatch returns a live batch.
func (s *Service) GetBatch(ctx context.Context, batchID id.ID) (*ProductBatch, error) {
	return s.repo.GetByID(ctx, batchID)
}

// BatchesForProduct yields the product's live batches in FIFO order.
// Pages are fetched lazily; ranging over the sequence again re-reads the store.
func (s *Service) BatchesForProduct(ctx context.Context, productID id.ID) iter.Seq2[ProductBatch, error] {
	return Paginate(func(after *Cursor) ([]ProductBatch, error) {
		return s.repo.ListByProduct(ctx, productID, after, s.pageSize)
	}, (*ProductBatch).Cursor, s.pageSize)
}

// ListBatches returns one page of the product's batches in FIFO order.
func (s *Service) ListBatches(ctx context.Context, productID id.ID, after *Cursor, limit int) ([]ProductBatch, error) {
	if limit <= 0 || limit > s.pageSize*10 {
		limit = s.pageSize
	}
	return s.repo.ListByProduct(ctx, productID, after, limit)
}

// DeleteBatch removes an empty batch. Non-empty batches fail with BATCH_NOT_EMPTY.
// It must run inside a transaction so a failed audit write undoes the delete;
// adjuster.Adjuster.DeleteBatch provides that along with the product lock.
func (s *Service) DeleteBatch(ctx context.Context, batchID id.ID) error {
	batch, err := s.repo.GetByID(ctx, batchID)
	if err != nil {
		return err
	}
	if !batch.QuantityOnHand.IsZero() {
		return apperror.NewBatchNotEmpty(batchID, int64(batch.QuantityOnHand))
	}

	if err := s.repo.Delete(ctx, batchID, batch.Version, s.Now()); err != nil {
		return err
	}

	if err := s.audit(ctx, batch, "delete", map[string]any{"batch_number": batch.BatchNumber}); err != nil {
		return err
	}
	logger.Info(ctx, "batch deleted", "product_id", batch.ProductID, "batch_id", batch.ID)
	return nil
}

// audit writes through the caller's transaction.
func (s *Service) audit(ctx context.Context, batch *ProductBatch, action string, changes map[string]any) error {
	if s.auditor == nil {
		return nil
	}
	changes["product_id"] = batch.ProductID
	if err := s.auditor.LogChange(ctx, "product_batch", batch.ID, action, changes); err != nil {
		return fmt.Errorf("audit batch %s: %w", action, err)
	}
	return nil
}

// Paginate turns a keyset page fetcher into a lazy sequence.
// cursor derives the next keyset position from the last row of a page.
// Iteration stops at the first error, which is yielded once.
func Paginate[C any](fetch func(after *C) ([]ProductBatch, error), cursor func(*ProductBatch) C, pageSize int) iter.Seq2[ProductBatch, error] {
	return func(yield func(ProductBatch, error) bool) {
		var after *C
		for {
			page, err := fetch(after)
			if err != nil {
				yield(ProductBatch{}, err)
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
			c := cursor(&page[len(page)-1])
			after = &c
		}
	}
}

// Collect drains a batch sequence into a slice.
func Collect(seq iter.Seq2[ProductBatch, error]) ([]ProductBatch, error) {
	var out []ProductBatch
	for b, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
