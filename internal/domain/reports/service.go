package reports

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/tx"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/batches"
	"lotledger/internal/domain/catalog"
	"lotledger/internal/domain/fifo"
	"lotledger/internal/domain/ledger"
	"lotledger/pkg/logger"
)

var tracer = otel.Tracer("lotledger/reports")

// Service builds profit-margin reports.
// It never reads live batch quantities for costing: the state before each
// sale is rebuilt from the ledger, batches only contribute their immutable cost.
type Service struct {
	txm      tx.Manager
	ledger   *ledger.Service
	batches  batches.Repository
	products catalog.ProductCatalog
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a reporting service.
func NewService(txm tx.Manager, ledgerSvc *ledger.Service, batchRepo batches.Repository, products catalog.ProductCatalog, opts ...Option) *Service {
	s := &Service{
		txm:      txm,
		ledger:   ledgerSvc,
		batches:  batchRepo,
		products: products,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProfitMarginReport costs every sale matching the filter.
// An empty window yields zero totals, not an error.
func (s *Service) ProfitMarginReport(ctx context.Context, filter Filter) (*ProfitMarginReport, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "reports.profit_margin")
	defer span.End()

	report := &ProfitMarginReport{
		From:        filter.From,
		To:          filter.To,
		Sales:       []SaleLine{},
		Products:    []ProductSummary{},
		Warnings:    []DataQualityWarning{},
		GeneratedAt: s.now().UTC(),
	}

	err := tx.ReadOnly(ctx, s.txm, func(ctx context.Context) error {
		productIDs, err := s.productsInScope(ctx, filter)
		if err != nil {
			return err
		}
		for _, productID := range productIDs {
			pr, err := s.costProduct(ctx, productID, filter)
			if err != nil {
				return err
			}
			if len(pr.Sales) == 0 && len(pr.Warnings) == 0 {
				continue
			}
			report.Sales = append(report.Sales, pr.Sales...)
			report.Warnings = append(report.Warnings, pr.Warnings...)
			report.Products = append(report.Products, pr.ProductSummary)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("profit margin report: %w", err)
	}

	slices.SortStableFunc(report.Sales, func(a, b SaleLine) int {
		if c := a.SoldAt.Compare(b.SoldAt); c != 0 {
			return c
		}
		return id.Compare(a.OperationID, b.OperationID)
	})
	slices.SortStableFunc(report.Products, func(a, b ProductSummary) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return id.Compare(a.ProductID, b.ProductID)
	})

	var totals Totals
	for i := range report.Sales {
		totals.add(&report.Sales[i])
	}
	report.TotalRevenue = totals.Revenue
	report.TotalCOGS = totals.COGS
	report.TotalProfit = totals.Profit
	report.AverageMargin = totals.MarginPct

	span.SetAttributes(
		attribute.Int("sales", len(report.Sales)),
		attribute.Int("warnings", len(report.Warnings)),
	)
	if len(report.Warnings) > 0 {
		logger.Warn(ctx, "profit margin report has data quality warnings", "warnings", len(report.Warnings))
	}
	return report, nil
}

// ProductProfitMargin costs every sale of one product.
func (s *Service) ProductProfitMargin(ctx context.Context, productID id.ID) (*ProductProfitMargin, error) {
	ctx, span := tracer.Start(ctx, "reports.product_profit_margin",
		trace.WithAttributes(attribute.String("product_id", productID.String())))
	defer span.End()

	var out *ProductProfitMargin
	err := tx.ReadOnly(ctx, s.txm, func(ctx context.Context) error {
		if _, err := s.products.GetProduct(ctx, productID); err != nil {
			return err
		}
		pr, err := s.costProduct(ctx, productID, Filter{ProductID: &productID})
		if err != nil {
			return err
		}
		out = pr
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

// Reconcile replays the product's ledger and compares the result with the
// live batch quantities.
func (s *Service) Reconcile(ctx context.Context, productID id.ID) (*Reconciliation, error) {
	ctx, span := tracer.Start(ctx, "reports.reconcile",
		trace.WithAttributes(attribute.String("product_id", productID.String())))
	defer span.End()

	rec := &Reconciliation{ProductID: productID, Mismatches: []Mismatch{}}
	err := tx.ReadOnly(ctx, s.txm, func(ctx context.Context) error {
		history, err := s.batches.History(ctx, productID)
		if err != nil {
			return fmt.Errorf("load batch history: %w", err)
		}
		balances, err := s.ledger.Replay(ctx, productID)
		if err != nil {
			return fmt.Errorf("replay ledger: %w", err)
		}

		rec.Batches = len(history)
		for _, b := range history {
			replayed := balances[b.ID]
			delete(balances, b.ID)
			if replayed != b.QuantityOnHand {
				rec.Mismatches = append(rec.Mismatches, Mismatch{
					BatchID:     b.ID,
					BatchNumber: b.BatchNumber,
					Live:        b.QuantityOnHand,
					Replayed:    replayed,
				})
			}
		}
		// Ledger rows pointing at batches the store does not know.
		orphans := make([]id.ID, 0, len(balances))
		for batchID := range balances {
			orphans = append(orphans, batchID)
		}
		slices.SortFunc(orphans, id.Compare)
		for _, batchID := range orphans {
			rec.Mismatches = append(rec.Mismatches, Mismatch{BatchID: batchID, Replayed: balances[batchID]})
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if !rec.Consistent() {
		logger.Warn(ctx, "ledger replay does not match batch quantities",
			"product_id", productID,
			"mismatches", len(rec.Mismatches),
		)
	}
	return rec, nil
}

func (s *Service) productsInScope(ctx context.Context, filter Filter) ([]id.ID, error) {
	if filter.ProductID != nil {
		return []id.ID{*filter.ProductID}, nil
	}
	ids, err := s.ledger.ProductsWithSales(ctx, filter.From, filter.To)
	if err != nil {
		return nil, fmt.Errorf("list products with sales: %w", err)
	}
	return ids, nil
}

// costProduct walks the product's ledger up to filter.To, operation by
// operation, costing each sale against the balances replayed so far.
func (s *Service) costProduct(ctx context.Context, productID id.ID, filter Filter) (*ProductProfitMargin, error) {
	out := &ProductProfitMargin{
		ProductSummary: ProductSummary{ProductID: productID},
		Sales:          []SaleLine{},
		Warnings:       []DataQualityWarning{},
	}

	var price types.MinorUnits
	product, err := s.products.GetProduct(ctx, productID)
	switch {
	case err == nil:
		price = product.Price
		out.Name = product.Name
		out.SKU = product.SKU
	case apperror.IsNotFound(err):
		out.Warnings = append(out.Warnings, DataQualityWarning{
			Code:      WarningUnknownProduct,
			ProductID: productID,
			Message:   "product is not in the catalog, revenue reported as zero",
		})
	default:
		return nil, fmt.Errorf("get product: %w", err)
	}

	history, err := s.batches.History(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("load batch history: %w", err)
	}
	known := make(map[id.ID]batches.ProductBatch, len(history))
	for _, b := range history {
		known[b.ID] = b
	}

	r := &replay{
		productID: productID,
		price:     price,
		known:     known,
		balances:  make(ledger.Balances),
		filter:    filter,
		out:       out,
	}

	var group []ledger.InventoryAdjustment
	for e, err := range s.ledger.QueryByProduct(ctx, productID, nil, filter.To) {
		if err != nil {
			return nil, fmt.Errorf("read ledger: %w", err)
		}
		if len(group) > 0 && group[0].OperationID != e.OperationID {
			r.operation(group)
			group = group[:0]
		}
		group = append(group, e)
	}
	if len(group) > 0 {
		r.operation(group)
	}

	for i := range out.Sales {
		out.add(&out.Sales[i])
	}
	return out, nil
}

type replay struct {
	productID id.ID
	price     types.MinorUnits
	known     map[id.ID]batches.ProductBatch
	balances  ledger.Balances
	filter    Filter
	out       *ProductProfitMargin
}

// operation costs the group when it is a sale inside the window, then
// applies its rows to the balances.
func (r *replay) operation(group []ledger.InventoryAdjustment) {
	var (
		sold     types.Quantity
		isSale   bool
		negative bool
		orderRef string
	)
	for i := range group {
		e := &group[i]
		if !e.IsSale() {
			continue
		}
		isSale = true
		sold += e.QuantityAdjusted.Neg()
		negative = negative || e.NegativeStock
		if orderRef == "" {
			orderRef = e.Cause.Ref
		}
	}

	soldAt := group[0].CreatedAt
	opID := group[0].OperationID
	if isSale && ledger.InRange(soldAt, r.filter.From, r.filter.To) {
		r.out.Sales = append(r.out.Sales, r.costSale(opID, soldAt, orderRef, sold, negative))
	}

	for i := range group {
		e := &group[i]
		if e.BatchID == nil {
			continue
		}
		if _, ok := r.known[*e.BatchID]; !ok {
			batchID := *e.BatchID
			r.out.Warnings = append(r.out.Warnings, DataQualityWarning{
				Code:        WarningUnknownBatch,
				ProductID:   r.productID,
				OperationID: &opID,
				BatchID:     &batchID,
				Message:     "ledger row references an unknown batch and was skipped",
			})
			continue
		}
		r.balances.Apply(e)
	}
}

func (r *replay) costSale(opID id.ID, soldAt time.Time, orderRef string, qty types.Quantity, negative bool) SaleLine {
	snapshot := make([]batches.ProductBatch, 0, len(r.known))
	for batchID, b := range r.known {
		b.QuantityOnHand = r.balances[batchID]
		snapshot = append(snapshot, b)
	}
	plan := fifo.Plan(snapshot, qty)

	line := SaleLine{
		OperationID:       opID,
		ProductID:         r.productID,
		OrderRef:          orderRef,
		SoldAt:            soldAt,
		Quantity:          qty,
		UnitPrice:         r.price,
		Revenue:           r.price.Mul(qty),
		COGS:              plan.TotalCost,
		Allocations:       plan.Allocations,
		UnsourcedQuantity: plan.Unfulfilled,
	}
	line.Profit = line.Revenue - line.COGS
	line.MarginPct = types.PercentOf(line.Profit, line.Revenue)
	if line.Allocations == nil {
		line.Allocations = []fifo.Allocation{}
	}

	if plan.Unfulfilled > 0 {
		w := DataQualityWarning{
			Code:              WarningUnsourcedCOGS,
			ProductID:         r.productID,
			OperationID:       &opID,
			UnsourcedQuantity: plan.Unfulfilled,
			Message:           fmt.Sprintf("%s units sold without batch stock, COGS understated", plan.Unfulfilled),
		}
		if negative {
			w.Code = WarningNegativeStock
			w.Message = fmt.Sprintf("%s units sold below zero stock, COGS understated", plan.Unfulfilled)
		}
		line.Warnings = append(line.Warnings, w)
		r.out.Warnings = append(r.out.Warnings, w)
	}
	return line
}
