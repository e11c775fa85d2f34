package adjuster

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lotledger/internal/core/apperror"
	appctx "lotledger/internal/core/context"
	"lotledger/internal/core/id"
	"lotledger/internal/core/lock"
	"lotledger/internal/core/tx"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/batches"
	"lotledger/internal/domain/catalog"
	"lotledger/internal/domain/fifo"
	"lotledger/internal/domain/ledger"
	"lotledger/pkg/logger"
)

var tracer = otel.Tracer("lotledger/adjuster")

// StockInvalidator drops cached stock figures after a commit.
type StockInvalidator interface {
	Invalidate(ctx context.Context, productID id.ID) error
}

// Config holds the concurrency knobs.
type Config struct {
	LockTimeout  time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		LockTimeout:  5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 50 * time.Millisecond,
	}
}

// Deps are the collaborators of an Adjuster.
type Deps struct {
	TxManager tx.Manager
	Batches   *batches.Service
	BatchRepo batches.Repository
	Ledger    *ledger.Service
	Products  catalog.ProductCatalog
	Settings  catalog.Settings
	// Locker defaults to an in-process KeyedMutex.
	Locker lock.Locker
	// Cache may be nil.
	Cache StockInvalidator
}

// Adjuster executes add, subtract and recount operations.
type Adjuster struct {
	txm       tx.Manager
	batches   *batches.Service
	repo      batches.Repository
	ledger    *ledger.Service
	allocator *fifo.Allocator
	products  catalog.ProductCatalog
	settings  catalog.Settings
	locker    lock.Locker
	cache     StockInvalidator
	cfg       Config
}

// New creates an Adjuster.
func New(deps Deps, cfg Config) *Adjuster {
	locker := deps.Locker
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	return &Adjuster{
		txm:       deps.TxManager,
		batches:   deps.Batches,
		repo:      deps.BatchRepo,
		ledger:    deps.Ledger,
		allocator: fifo.NewAllocator(deps.BatchRepo),
		products:  deps.Products,
		settings:  deps.Settings,
		locker:    locker,
		cache:     deps.Cache,
		cfg:       cfg,
	}
}

// operation accumulates the effects of one attempt.
type operation struct {
	productID id.ID
	at        time.Time
	journal   Journal
	entries   []ledger.InventoryAdjustment
	res       Result
}

func (op *operation) touch(b batches.ProductBatch) {
	for i := range op.res.Batches {
		if op.res.Batches[i].ID == b.ID {
			op.res.Batches[i] = b
			return
		}
	}
	op.res.Batches = append(op.res.Batches, b)
}

func (op *operation) journalEntry(b *batches.ProductBatch, typ ledger.AdjustmentType, delta types.Quantity) *ledger.InventoryAdjustment {
	batchID := b.ID
	op.entries = append(op.entries, ledger.InventoryAdjustment{
		ProductID:        op.productID,
		BatchID:          &batchID,
		OperationID:      op.res.OperationID,
		Type:             typ,
		QuantityAdjusted: delta,
		Reason:           op.journal.Reason,
		Cause:            op.journal.Cause,
		UserID:           op.journal.UserID,
		UnitCost:         b.PurchaseCost,
		CreatedAt:        op.at,
	})
	return &op.entries[len(op.entries)-1]
}

// CreateBatch receives a new batch and journals its initial quantity as an add.
func (a *Adjuster) CreateBatch(ctx context.Context, req CreateBatchRequest) (*Result, error) {
	if req.Quantity.IsNegative() {
		return nil, apperror.NewInvalidArgument("quantity on hand must not be negative")
	}
	journal := withDefaultCause(req.Journal, ledger.Receiving(""))

	return a.execute(ctx, "create_batch", req.ProductID, journal, func(ctx context.Context, op *operation) error {
		b, err := a.batches.CreateBatch(ctx, batches.CreateParams{
			ProductID:      req.ProductID,
			BatchNumber:    req.BatchNumber,
			PurchaseCost:   req.PurchaseCost,
			QuantityOnHand: req.Quantity,
			ExpirationDate: req.ExpirationDate,
		})
		if err != nil {
			return err
		}
		op.touch(*b)
		op.journalEntry(b, ledger.TypeAdd, req.Quantity)
		return nil
	})
}

// Add increases a batch by req.Quantity, creating the batch when NewBatch is given.
func (a *Adjuster) Add(ctx context.Context, req AddRequest) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	productID, err := a.resolveProduct(ctx, req.ProductID, req.BatchID)
	if err != nil {
		return nil, err
	}
	journal := withDefaultCause(req.Journal, ledger.Receiving(""))

	return a.execute(ctx, "add", productID, journal, func(ctx context.Context, op *operation) error {
		if req.NewBatch != nil {
			b, err := a.batches.CreateBatch(ctx, batches.CreateParams{
				ProductID:      productID,
				BatchNumber:    req.NewBatch.BatchNumber,
				PurchaseCost:   req.NewBatch.PurchaseCost,
				QuantityOnHand: req.Quantity,
				ExpirationDate: req.NewBatch.ExpirationDate,
			})
			if err != nil {
				return err
			}
			op.touch(*b)
			op.journalEntry(b, ledger.TypeAdd, req.Quantity)
			return nil
		}

		b, err := a.targetBatch(ctx, productID, *req.BatchID)
		if err != nil {
			return err
		}
		updated, err := a.repo.UpdateQuantity(ctx, b.ID, b.QuantityOnHand+req.Quantity, b.Version, op.at)
		if err != nil {
			return err
		}
		op.touch(*updated)
		op.journalEntry(updated, ledger.TypeAdd, req.Quantity)
		return nil
	})
}

// Subtract decreases stock, from one batch when BatchID is set or FIFO across
// the product's batches otherwise.
func (a *Adjuster) Subtract(ctx context.Context, req SubtractRequest) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	productID, err := a.resolveProduct(ctx, req.ProductID, req.BatchID)
	if err != nil {
		return nil, err
	}
	journal := withDefaultCause(req.Journal, ledger.Other(""))

	return a.execute(ctx, "subtract", productID, journal, func(ctx context.Context, op *operation) error {
		if req.BatchID != nil {
			return a.subtractFromBatch(ctx, op, *req.BatchID, req)
		}
		return a.subtractFIFO(ctx, op, req)
	})
}

func (a *Adjuster) subtractFIFO(ctx context.Context, op *operation, req SubtractRequest) error {
	cons, err := a.allocator.Consume(ctx, op.productID, req.Quantity, op.at)
	if err != nil {
		return err
	}

	op.res.Allocations = cons.Allocations
	op.res.TotalCost = cons.TotalCost
	for _, b := range cons.Updated {
		op.touch(b)
	}
	for _, alloc := range cons.Allocations {
		for _, b := range cons.Locked {
			if b.ID == alloc.BatchID {
				op.journalEntry(&b, ledger.TypeSubtract, -alloc.Quantity)
				break
			}
		}
	}

	if cons.FullyFulfilled() {
		return nil
	}

	allocated := cons.Allocated()
	switch {
	case a.settings.AllowNegativeStock(ctx) && len(cons.Locked) > 0:
		newest := cons.Locked[len(cons.Locked)-1]
		updated, err := a.repo.UpdateQuantity(ctx, newest.ID, newest.QuantityOnHand-cons.Unfulfilled, newest.Version, op.at)
		if err != nil {
			return err
		}
		op.touch(*updated)
		op.journalEntry(updated, ledger.TypeSubtract, -cons.Unfulfilled).NegativeStock = true
		op.res.Overdrawn = cons.Unfulfilled
		op.res.NegativeStock = true
		logger.Warn(ctx, "stock driven negative by override",
			"batch_id", updated.ID,
			"overdrawn", cons.Unfulfilled,
		)
		return nil

	case req.AllowPartial && allocated > 0:
		op.res.Unfulfilled = cons.Unfulfilled
		return nil
	}

	logger.Warn(ctx, "subtract rejected: insufficient stock",
		"requested", req.Quantity,
		"available", allocated,
	)
	return apperror.NewInsufficientStock(op.productID.String(), int64(req.Quantity), int64(allocated), int64(cons.Unfulfilled))
}

func (a *Adjuster) subtractFromBatch(ctx context.Context, op *operation, batchID id.ID, req SubtractRequest) error {
	b, err := a.targetBatch(ctx, op.productID, batchID)
	if err != nil {
		return err
	}

	available := max(b.QuantityOnHand, 0)
	take := req.Quantity
	if take > available {
		switch {
		case a.settings.AllowNegativeStock(ctx):
			op.res.Overdrawn = take - available
			op.res.NegativeStock = true
		case req.AllowPartial && available > 0:
			take = available
			op.res.Unfulfilled = req.Quantity - available
		default:
			logger.Warn(ctx, "subtract rejected: insufficient stock",
				"batch_id", b.ID,
				"requested", req.Quantity,
				"available", available,
			)
			return apperror.NewInsufficientStock(op.productID.String(), int64(req.Quantity), int64(available), int64(req.Quantity-available))
		}
	}

	updated, err := a.repo.UpdateQuantity(ctx, b.ID, b.QuantityOnHand-take, b.Version, op.at)
	if err != nil {
		return err
	}
	op.touch(*updated)
	op.journalEntry(updated, ledger.TypeSubtract, -take).NegativeStock = updated.QuantityOnHand.IsNegative()

	if sourced := min(take, available); sourced > 0 {
		alloc := fifo.Allocation{BatchID: b.ID, BatchNumber: b.BatchNumber, Quantity: sourced, UnitCost: b.PurchaseCost}
		op.res.Allocations = []fifo.Allocation{alloc}
		op.res.TotalCost = alloc.Cost()
	}
	return nil
}

// Recount sets a batch to the counted quantity and journals the delta.
// Recounting to the current value still writes a zero-delta entry.
func (a *Adjuster) Recount(ctx context.Context, req RecountRequest) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	productID, err := a.resolveProduct(ctx, req.ProductID, req.BatchID)
	if err != nil {
		return nil, err
	}
	journal := withDefaultCause(req.Journal, ledger.Recount())

	return a.execute(ctx, "recount", productID, journal, func(ctx context.Context, op *operation) error {
		if req.NewBatch != nil {
			b, err := a.batches.CreateBatch(ctx, batches.CreateParams{
				ProductID:      productID,
				BatchNumber:    req.NewBatch.BatchNumber,
				PurchaseCost:   req.NewBatch.PurchaseCost,
				QuantityOnHand: req.Counted,
				ExpirationDate: req.NewBatch.ExpirationDate,
			})
			if err != nil {
				return err
			}
			op.touch(*b)
			op.journalEntry(b, ledger.TypeRecount, req.Counted)
			return nil
		}

		b, err := a.targetBatch(ctx, productID, *req.BatchID)
		if err != nil {
			return err
		}
		delta := req.Counted - b.QuantityOnHand
		if delta != 0 {
			if b, err = a.repo.UpdateQuantity(ctx, b.ID, req.Counted, b.Version, op.at); err != nil {
				return err
			}
		}
		op.touch(*b)
		op.journalEntry(b, ledger.TypeRecount, delta)
		return nil
	})
}

// execute runs fn under the product lock and a transaction, journals the
// collected entries and retries on concurrent modification.
func (a *Adjuster) execute(ctx context.Context, name string, productID id.ID, journal Journal, fn func(context.Context, *operation) error) (*Result, error) {
	if id.IsNil(productID) {
		return nil, apperror.NewInvalidArgument("product id is required")
	}
	reason, cause, err := ledger.ResolveCause(journal.Reason, journal.Cause)
	if err != nil {
		return nil, err
	}
	journal.Reason, journal.Cause = reason, cause
	if journal.UserID == "" {
		journal.UserID = appctx.GetUserID(ctx)
	}

	ctx, span := tracer.Start(ctx, "adjuster."+name,
		trace.WithAttributes(attribute.String("product_id", productID.String())))
	defer span.End()
	ctx = logger.WithFields(ctx, "operation", name, "product_id", productID)

	var res *Result
	err = a.retry(ctx, name, func() error {
		var err error
		res, err = a.attempt(ctx, productID, journal, fn)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if a.cache != nil {
		if err := a.cache.Invalidate(ctx, productID); err != nil {
			logger.Warn(ctx, "failed to invalidate stock cache", "error", err)
		}
	}

	span.SetAttributes(attribute.String("operation_id", res.OperationID.String()))
	logger.Info(ctx, "stock adjusted",
		"operation_id", res.OperationID,
		"entries", len(res.EntryIDs),
		"unfulfilled", res.Unfulfilled,
		"negative_stock", res.NegativeStock,
	)
	return res, nil
}

// DeleteBatch removes an empty batch under the product lock. The delete and
// its audit record commit together.
func (a *Adjuster) DeleteBatch(ctx context.Context, batchID id.ID) error {
	b, err := a.repo.GetByID(ctx, batchID)
	if err != nil {
		return err
	}
	productID := b.ProductID

	ctx, span := tracer.Start(ctx, "adjuster.delete_batch",
		trace.WithAttributes(
			attribute.String("product_id", productID.String()),
			attribute.String("batch_id", batchID.String()),
		))
	defer span.End()
	ctx = logger.WithFields(ctx, "operation", "delete_batch", "product_id", productID)

	err = a.retry(ctx, "delete_batch", func() error {
		release, err := a.locker.Acquire(ctx, lock.ProductKey(productID.String()), a.cfg.LockTimeout)
		if err != nil {
			return err
		}
		defer release()

		return a.txm.RunInTransaction(ctx, func(ctx context.Context) error {
			return a.batches.DeleteBatch(ctx, batchID)
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// retry reruns fn with a linear backoff while it fails with a concurrent modification.
func (a *Adjuster) retry(ctx context.Context, name string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !apperror.IsConcurrentModification(err) || attempt >= a.cfg.MaxRetries {
			return err
		}

		backoff := a.cfg.RetryBackoff * time.Duration(attempt+1)
		logger.Warn(ctx, "concurrent modification, retrying",
			"attempt", attempt+1,
			"backoff", backoff,
		)
		select {
		case <-ctx.Done():
			return apperror.NewTimeout("retry of " + name).WithCause(ctx.Err())
		case <-time.After(backoff):
		}
	}
}

func (a *Adjuster) attempt(ctx context.Context, productID id.ID, journal Journal, fn func(context.Context, *operation) error) (*Result, error) {
	release, err := a.locker.Acquire(ctx, lock.ProductKey(productID.String()), a.cfg.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	op := &operation{
		productID: productID,
		at:        a.batches.Now(),
		journal:   journal,
		res:       Result{OperationID: id.New()},
	}
	ctx = logger.WithFields(ctx, "operation_id", op.res.OperationID)

	err = a.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if _, err := a.products.GetProduct(ctx, productID); err != nil {
			return err
		}
		if err := fn(ctx, op); err != nil {
			return err
		}
		written, err := a.ledger.Append(ctx, op.entries...)
		if err != nil {
			return err
		}
		op.res.Entries = written
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, e := range op.res.Entries {
		op.res.EntryIDs = append(op.res.EntryIDs, e.ID)
	}
	return &op.res, nil
}

// resolveProduct infers the product from the batch when only the batch is given.
func (a *Adjuster) resolveProduct(ctx context.Context, productID id.ID, batchID *id.ID) (id.ID, error) {
	if !id.IsNil(productID) || batchID == nil {
		return productID, nil
	}
	b, err := a.repo.GetByID(ctx, *batchID)
	if err != nil {
		return id.Nil(), err
	}
	return b.ProductID, nil
}

func (a *Adjuster) targetBatch(ctx context.Context, productID, batchID id.ID) (*batches.ProductBatch, error) {
	b, err := a.repo.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b.ProductID != productID {
		return nil, apperror.NewInvalidArgument(fmt.Sprintf("batch %s does not belong to product %s", batchID, productID))
	}
	return b, nil
}

func withDefaultCause(j Journal, def ledger.Cause) Journal {
	if j.Reason == "" && j.Cause.IsZero() {
		j.Cause = def
	}
	return j
}
