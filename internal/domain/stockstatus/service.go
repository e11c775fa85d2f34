// Package stockstatus derives read-only stock views: status levels, expiring
// batches and the reorder list.
package stockstatus

import (
	"context"
	"fmt"
	"iter"
	"time"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/batches"
	"lotledger/internal/domain/catalog"
	"lotledger/pkg/logger"
)

// Level is the stock status of a product.
type Level string

const (
	InStock    Level = "in_stock"
	LowStock   Level = "low_stock"
	OutOfStock Level = "out_of_stock"
)

// Status is the derived stock state of one product.
type Status struct {
	ProductID    id.ID          `json:"productId"`
	CurrentStock types.Quantity `json:"currentStock"`
	Threshold    int64          `json:"threshold"`
	Level        Level          `json:"level"`
}

// ReorderItem is one line of the reorder list.
type ReorderItem struct {
	Product      catalog.Product `json:"product"`
	CurrentStock types.Quantity  `json:"currentStock"`
	ReorderPoint int64           `json:"reorderPoint"`
	// DefaultThreshold is set when the product has no reorder point of its own.
	DefaultThreshold  bool           `json:"defaultThreshold"`
	SuggestedQuantity types.Quantity `json:"suggestedQuantity"`
}

// StockCache caches per-product stock totals.
// Every Invalidate moves the product to a new generation. Set stores a total
// only while the generation passed in is still current, so a total summed
// before a concurrent write and invalidation is dropped instead of cached.
type StockCache interface {
	Get(ctx context.Context, productID id.ID) (types.Quantity, bool, error)
	Generation(ctx context.Context, productID id.ID) (uint64, error)
	Set(ctx context.Context, productID id.ID, qty types.Quantity, generation uint64) error
	Invalidate(ctx context.Context, productID id.ID) error
}

// Classify maps a stock total to a level.
func Classify(total types.Quantity, threshold int64) Level {
	switch {
	case total <= 0:
		return OutOfStock
	case int64(total) <= threshold:
		return LowStock
	default:
		return InStock
	}
}

// SuggestedQuantity brings stock to twice the reorder point, at least one unit.
func SuggestedQuantity(current types.Quantity, reorderPoint int64) types.Quantity {
	return max(types.Quantity(2*reorderPoint)-current, 1)
}

// Service computes stock views.
type Service struct {
	repo     batches.Repository
	products catalog.ProductCatalog
	settings catalog.Settings
	cache    StockCache
	now      func() time.Time
	pageSize int
}

// Option configures a Service.
type Option func(*Service)

// WithCache reads totals through a cache.
func WithCache(c StockCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a stock status service.
func NewService(repo batches.Repository, products catalog.ProductCatalog, settings catalog.Settings, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		products: products,
		settings: settings,
		now:      time.Now,
		pageSize: batches.DefaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CurrentStock returns the sum of the product's batch quantities.
func (s *Service) CurrentStock(ctx context.Context, productID id.ID) (types.Quantity, error) {
	cacheable := false
	var generation uint64
	if s.cache != nil {
		qty, ok, err := s.cache.Get(ctx, productID)
		switch {
		case err != nil:
			logger.Warn(ctx, "stock cache read failed", "product_id", productID, "error", err)
		case ok:
			return qty, nil
		default:
			// The generation must be read before summing.
			generation, err = s.cache.Generation(ctx, productID)
			if err != nil {
				logger.Warn(ctx, "stock cache generation read failed", "product_id", productID, "error", err)
			} else {
				cacheable = true
			}
		}
	}

	total, err := s.repo.SumByProduct(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("sum batches: %w", err)
	}

	if cacheable {
		if err := s.cache.Set(ctx, productID, total, generation); err != nil {
			logger.Warn(ctx, "stock cache write failed", "product_id", productID, "error", err)
		}
	}
	return total, nil
}

// StockStatus classifies a product against its reorder point, or the
// default threshold when it has none.
func (s *Service) StockStatus(ctx context.Context, productID id.ID) (*Status, error) {
	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	total, err := s.CurrentStock(ctx, productID)
	if err != nil {
		return nil, err
	}

	threshold := catalog.Threshold(ctx, product, s.settings)
	return &Status{
		ProductID:    productID,
		CurrentStock: total,
		Threshold:    threshold,
		Level:        Classify(total, threshold),
	}, nil
}

// ExpiringBatches yields stocked batches expiring between now and now+withinDays,
// soonest first.
func (s *Service) ExpiringBatches(ctx context.Context, withinDays int) iter.Seq2[batches.ProductBatch, error] {
	if withinDays < 0 {
		return func(yield func(batches.ProductBatch, error) bool) {
			yield(batches.ProductBatch{}, apperror.NewInvalidArgument("within days must not be negative"))
		}
	}

	from := s.now().UTC()
	to := from.AddDate(0, 0, withinDays)
	return batches.Paginate(func(after *batches.ExpiryCursor) ([]batches.ProductBatch, error) {
		return s.repo.ListExpiring(ctx, from, to, after, s.pageSize)
	}, (*batches.ProductBatch).ExpiryCursor, s.pageSize)
}

// ReorderList returns every product whose stock is below its reorder point.
func (s *Service) ReorderList(ctx context.Context) ([]ReorderItem, error) {
	products, err := s.products.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	var items []ReorderItem
	for _, p := range products {
		total, err := s.CurrentStock(ctx, p.ID)
		if err != nil {
			return nil, err
		}

		point := catalog.Threshold(ctx, &p, s.settings)
		if int64(total) >= point {
			continue
		}
		items = append(items, ReorderItem{
			Product:           p,
			CurrentStock:      total,
			ReorderPoint:      point,
			DefaultThreshold:  p.ReorderPoint == nil,
			SuggestedQuantity: SuggestedQuantity(total, point),
		})
	}
	return items, nil
}
