// Package testutil wires the inventory core over the in-memory store so
// package tests can drive real operations end to end.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/adjuster"
	"lotledger/internal/domain/batches"
	"lotledger/internal/domain/catalog"
	"lotledger/internal/domain/ledger"
	"lotledger/internal/domain/reports"
	"lotledger/internal/domain/stockstatus"
	"lotledger/internal/infrastructure/storage/memory"
)

// Epoch is the default start of the test clock.
var Epoch = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

// Clock is a manual clock. Every reading advances it by Step so that
// consecutive operations never share a timestamp.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	Step time.Duration
}

// NewClock starts a clock at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t, Step: time.Millisecond}
}

// Now returns the current reading and advances the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.Step)
	return t
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Inventory is a fully wired core over one memory store.
type Inventory struct {
	Store    *memory.Store
	Clock    *Clock
	Settings *catalog.StaticSettings

	Batches  *batches.Service
	Ledger   *ledger.Service
	Adjuster *adjuster.Adjuster
	Stock    *stockstatus.Service
	Reports  *reports.Service
}

type options struct {
	wrapRepo   func(batches.Repository) batches.Repository
	wrapLedger func(ledger.Repository) ledger.Repository
	auditor    batches.Auditor
	cfg        adjuster.Config
	cache      stockstatus.StockCache
	pageSize   int
}

// Option tweaks the wiring.
type Option func(*options)

// WithBatchRepo wraps the batch repository seen by the adjuster.
func WithBatchRepo(wrap func(batches.Repository) batches.Repository) Option {
	return func(o *options) { o.wrapRepo = wrap }
}

// WithLedgerRepo wraps the ledger repository behind the ledger service.
func WithLedgerRepo(wrap func(ledger.Repository) ledger.Repository) Option {
	return func(o *options) { o.wrapLedger = wrap }
}

// WithAuditor records batch lifecycle events through a.
func WithAuditor(a batches.Auditor) Option {
	return func(o *options) { o.auditor = a }
}

// WithAdjusterConfig replaces the adjuster configuration.
func WithAdjusterConfig(cfg adjuster.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithStockCache puts a cache in front of stock totals.
func WithStockCache(c stockstatus.StockCache) Option {
	return func(o *options) { o.cache = c }
}

// WithPageSize shrinks the page size of paged reads.
func WithPageSize(n int) Option {
	return func(o *options) { o.pageSize = n }
}

// NewInventory builds an Inventory with negative stock disabled and a
// low-stock threshold of catalog.DefaultLowStockThreshold.
func NewInventory(tb testing.TB, opts ...Option) *Inventory {
	tb.Helper()

	o := options{
		cfg: adjuster.Config{
			LockTimeout:  time.Second,
			MaxRetries:   3,
			RetryBackoff: time.Millisecond,
		},
		pageSize: batches.DefaultPageSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	store := memory.New()
	clock := NewClock(Epoch)
	settings := &catalog.StaticSettings{Threshold: catalog.DefaultLowStockThreshold}

	var repo batches.Repository = store.Batches()
	if o.wrapRepo != nil {
		repo = o.wrapRepo(repo)
	}

	var ledgerRepo ledger.Repository = store.Ledger()
	if o.wrapLedger != nil {
		ledgerRepo = o.wrapLedger(ledgerRepo)
	}

	batchOpts := []batches.Option{
		batches.WithClock(clock.Now),
		batches.WithPageSize(o.pageSize),
	}
	if o.auditor != nil {
		batchOpts = append(batchOpts, batches.WithAuditor(o.auditor))
	}
	batchSvc := batches.NewService(repo, store.Catalog(), batchOpts...)
	ledgerSvc := ledger.NewService(ledgerRepo,
		ledger.WithClock(clock.Now),
		ledger.WithPageSize(o.pageSize),
	)

	stockOpts := []stockstatus.Option{stockstatus.WithClock(clock.Now)}
	var invalidator adjuster.StockInvalidator
	if o.cache != nil {
		stockOpts = append(stockOpts, stockstatus.WithCache(o.cache))
		invalidator = o.cache
	}

	return &Inventory{
		Store:    store,
		Clock:    clock,
		Settings: settings,
		Batches:  batchSvc,
		Ledger:   ledgerSvc,
		Adjuster: adjuster.New(adjuster.Deps{
			TxManager: store.TxManager(),
			Batches:   batchSvc,
			BatchRepo: repo,
			Ledger:    ledgerSvc,
			Products:  store.Catalog(),
			Settings:  settings,
			Cache:     invalidator,
		}, o.cfg),
		Stock:   stockstatus.NewService(store.Batches(), store.Catalog(), settings, stockOpts...),
		Reports: reports.NewService(store.TxManager(), ledgerSvc, store.Batches(), store.Catalog(), reports.WithClock(clock.Now)),
	}
}

// Product registers a catalog product.
func (inv *Inventory) Product(name string, price types.MinorUnits, reorderPoint *int64) catalog.Product {
	return inv.Store.Catalog().PutProduct(catalog.Product{
		Name:                  name,
		SKU:                   name,
		Price:                 price,
		ReorderPoint:          reorderPoint,
		RequiresBatchTracking: true,
	})
}

// Receive creates a batch through the adjuster and returns it.
func (inv *Inventory) Receive(tb testing.TB, productID id.ID, number string, cost types.MinorUnits, qty int64) batches.ProductBatch {
	tb.Helper()
	res, err := inv.Adjuster.CreateBatch(context.Background(), adjuster.CreateBatchRequest{
		ProductID:    productID,
		BatchNumber:  number,
		PurchaseCost: cost,
		Quantity:     types.Quantity(qty),
	})
	require.NoError(tb, err)
	require.Len(tb, res.Batches, 1)
	return res.Batches[0]
}

// Sell subtracts qty FIFO as a sale of order.
func (inv *Inventory) Sell(ctx context.Context, productID id.ID, order string, qty int64) (*adjuster.Result, error) {
	return inv.Adjuster.Subtract(ctx, adjuster.SubtractRequest{
		ProductID: productID,
		Quantity:  types.Quantity(qty),
		Journal:   adjuster.Journal{Cause: ledger.Sale(order)},
	})
}

// Quantity reads a live batch quantity.
func (inv *Inventory) Quantity(tb testing.TB, batchID id.ID) types.Quantity {
	tb.Helper()
	b, err := inv.Store.Batches().GetByID(context.Background(), batchID)
	require.NoError(tb, err)
	return b.QuantityOnHand
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
