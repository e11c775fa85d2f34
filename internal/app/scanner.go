package app

import (
	"context"
	"fmt"
	"time"

	"lotledger/internal/domain/batches"
	"lotledger/pkg/logger"
)

// ScanReport summarizes one maintenance pass.
type ScanReport struct {
	Expiring          int
	Reorder           int
	Products          int
	Inconsistent      int
	IdempotencyPurged int64
}

// Scanner runs the periodic maintenance pass: expiring batches, the reorder
// list, ledger reconciliation and idempotency cleanup.
type Scanner struct {
	app *App
	log *logger.Logger
}

func NewScanner(a *App) *Scanner {
	return &Scanner{app: a, log: a.Log.WithComponent("scanner")}
}

// Run scans immediately and then on every interval until ctx is done.
func (s *Scanner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.ScanOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Errorw("scan failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ScanOnce performs a single pass. Reconciliation failures of one product do
// not stop the others.
func (s *Scanner) ScanOnce(ctx context.Context) (*ScanReport, error) {
	var report ScanReport

	expiring, err := batches.Collect(s.app.Stock.ExpiringBatches(ctx, s.app.Config.Inventory.DefaultExpiryWindowDays))
	if err != nil {
		return nil, fmt.Errorf("expiring batches: %w", err)
	}
	report.Expiring = len(expiring)
	for _, b := range expiring {
		s.log.Infow("batch expiring",
			"product_id", b.ProductID,
			"batch_id", b.ID,
			"batch_number", b.BatchNumber,
			"expiration_date", b.ExpirationDate,
			"quantity", b.QuantityOnHand,
		)
	}

	reorder, err := s.app.Stock.ReorderList(ctx)
	if err != nil {
		return nil, fmt.Errorf("reorder list: %w", err)
	}
	report.Reorder = len(reorder)
	for _, item := range reorder {
		s.log.Infow("product below reorder point",
			"product_id", item.Product.ID,
			"current_stock", item.CurrentStock,
			"reorder_point", item.ReorderPoint,
			"suggested_quantity", item.SuggestedQuantity,
		)
	}

	products, err := s.app.Products.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	report.Products = len(products)
	for _, p := range products {
		rec, err := s.app.Reports.Reconcile(ctx, p.ID)
		if err != nil {
			s.log.Errorw("reconciliation failed", "product_id", p.ID, "error", err)
			continue
		}
		if !rec.Consistent() {
			report.Inconsistent++
			s.log.Errorw("ledger does not reproduce batch quantities",
				"product_id", p.ID,
				"mismatches", len(rec.Mismatches),
			)
		}
	}

	purged, err := s.app.Idempotency.CleanupExpired(ctx)
	if err != nil {
		s.log.Warnw("idempotency cleanup failed", "error", err)
	}
	report.IdempotencyPurged = purged

	if s.app.Pool != nil {
		s.app.Pool.LogStats(ctx)
	}

	s.log.Infow("scan complete",
		"expiring", report.Expiring,
		"reorder", report.Reorder,
		"products", report.Products,
		"inconsistent", report.Inconsistent,
		"idempotency_purged", report.IdempotencyPurged,
	)
	return &report, nil
}
