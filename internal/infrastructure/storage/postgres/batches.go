package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/batches"
)

const (
	batchTable        = "product_batches"
	batchNumberIndex  = "product_batches_number_uq"
	productForeignKey = "product_batches_product_id_fkey"
)

var (
	_            batches.Repository = (*BatchRepo)(nil)
	batchColumns                    = Columns[batches.ProductBatch]()
)

// builder returns a squirrel builder with PostgreSQL placeholders.
func builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

// BatchRepo stores product batches.
type BatchRepo struct {
	txm *TxManager
}

// NewBatchRepo creates a batch repository.
func NewBatchRepo(txm *TxManager) *BatchRepo {
	return &BatchRepo{txm: txm}
}

func liveBatches() sq.SelectBuilder {
	return builder().Select(batchColumns...).From(batchTable).Where(sq.Eq{"deleted_at": nil})
}

func listByProductQuery(productID id.ID, after *batches.Cursor, limit int) sq.SelectBuilder {
	q := liveBatches().
		Where(sq.Eq{"product_id": productID}).
		OrderBy("created_at", "id")
	if after != nil {
		q = q.Where(sq.Expr("(created_at, id) > (?, ?)", after.CreatedAt, after.ID))
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return q
}

func listExpiringQuery(from, to time.Time, after *batches.ExpiryCursor, limit int) sq.SelectBuilder {
	q := liveBatches().
		Where(sq.Gt{"quantity_on_hand": 0}).
		Where(sq.GtOrEq{"expiration_date": from}).
		Where(sq.LtOrEq{"expiration_date": to}).
		OrderBy("expiration_date", "id")
	if after != nil {
		q = q.Where(sq.Expr("(expiration_date, id) > (?, ?)", after.ExpirationDate, after.ID))
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return q
}

func updateQuantityQuery(batchID id.ID, qty types.Quantity, expectedVersion int, at time.Time) sq.UpdateBuilder {
	return builder().Update(batchTable).
		Set("quantity_on_hand", qty).
		Set("version", sq.Expr("version + 1")).
		Set("updated_at", at).
		Where(sq.Eq{"id": batchID, "version": expectedVersion, "deleted_at": nil}).
		Suffix("RETURNING " + joinColumns(batchColumns))
}

// Create implements batches.Repository.
func (r *BatchRepo) Create(ctx context.Context, batch *batches.ProductBatch) error {
	sql, args, err := builder().Insert(batchTable).SetMap(ToMap(batch)).ToSql()
	if err != nil {
		return fmt.Errorf("build batch insert: %w", err)
	}

	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		switch {
		case isUniqueViolation(err, batchNumberIndex):
			return apperror.NewDuplicateBatchNumber(batch.ProductID, batch.BatchNumber)
		case isConstraintViolation(err, pgForeignKeyViolation, productForeignKey):
			return apperror.NewProductNotFound(batch.ProductID)
		}
		return mapError(fmt.Errorf("insert batch: %w", err))
	}
	return nil
}

// GetByID implements batches.Repository.
func (r *BatchRepo) GetByID(ctx context.Context, batchID id.ID) (*batches.ProductBatch, error) {
	b, err := r.getOne(ctx, liveBatches().Where(sq.Eq{"id": batchID}))
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewBatchNotFound(batchID)
		}
		return nil, mapError(fmt.Errorf("get batch: %w", err))
	}
	return b, nil
}

// GetByNumber implements batches.Repository.
func (r *BatchRepo) GetByNumber(ctx context.Context, productID id.ID, batchNumber string) (*batches.ProductBatch, error) {
	b, err := r.getOne(ctx, liveBatches().Where(sq.Eq{"product_id": productID, "batch_number": batchNumber}))
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewBatchNotFound(batchNumber)
		}
		return nil, mapError(fmt.Errorf("get batch by number: %w", err))
	}
	return b, nil
}

// ListByProduct implements batches.Repository.
func (r *BatchRepo) ListByProduct(ctx context.Context, productID id.ID, after *batches.Cursor, limit int) ([]batches.ProductBatch, error) {
	return r.selectMany(ctx, listByProductQuery(productID, after, limit), "list batches")
}

// LockProduct implements batches.Repository with SELECT ... FOR UPDATE in FIFO order,
// so concurrent lockers of one product queue up instead of deadlocking.
func (r *BatchRepo) LockProduct(ctx context.Context, productID id.ID) ([]batches.ProductBatch, error) {
	if r.txm.GetTx(ctx) == nil {
		return nil, errors.New("lock product batches: no transaction in context")
	}
	return r.selectMany(ctx, listByProductQuery(productID, nil, 0).Suffix("FOR UPDATE"), "lock batches")
}

// UpdateQuantity implements batches.Repository.
func (r *BatchRepo) UpdateQuantity(ctx context.Context, batchID id.ID, qty types.Quantity, expectedVersion int, at time.Time) (*batches.ProductBatch, error) {
	sql, args, err := updateQuantityQuery(batchID, qty, expectedVersion, at).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build quantity update: %w", err)
	}

	var b batches.ProductBatch
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &b, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, r.conflict(ctx, batchID)
		}
		return nil, mapError(fmt.Errorf("update batch quantity: %w", err))
	}
	return &b, nil
}

// Delete implements batches.Repository.
func (r *BatchRepo) Delete(ctx context.Context, batchID id.ID, expectedVersion int, at time.Time) error {
	sql, args, err := builder().Update(batchTable).
		Set("deleted_at", at).
		Set("updated_at", at).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"id": batchID, "version": expectedVersion, "deleted_at": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build batch delete: %w", err)
	}

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return mapError(fmt.Errorf("delete batch: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return r.conflict(ctx, batchID)
	}
	return nil
}

// SumByProduct implements batches.Repository.
func (r *BatchRepo) SumByProduct(ctx context.Context, productID id.ID) (types.Quantity, error) {
	sql, args, err := builder().
		Select("COALESCE(SUM(quantity_on_hand), 0)").
		From(batchTable).
		Where(sq.Eq{"product_id": productID, "deleted_at": nil}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build stock sum: %w", err)
	}

	var total int64
	if err := r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&total); err != nil {
		return 0, mapError(fmt.Errorf("sum stock: %w", err))
	}
	return types.Quantity(total), nil
}

// ListExpiring implements batches.Repository.
func (r *BatchRepo) ListExpiring(ctx context.Context, from, to time.Time, after *batches.ExpiryCursor, limit int) ([]batches.ProductBatch, error) {
	return r.selectMany(ctx, listExpiringQuery(from, to, after, limit), "list expiring batches")
}

// History implements batches.Repository.
func (r *BatchRepo) History(ctx context.Context, productID id.ID) ([]batches.ProductBatch, error) {
	q := builder().Select(batchColumns...).
		From(batchTable).
		Where(sq.Eq{"product_id": productID}).
		OrderBy("created_at", "id")
	return r.selectMany(ctx, q, "load batch history")
}

// conflict tells a missing batch apart from a stale version.
func (r *BatchRepo) conflict(ctx context.Context, batchID id.ID) error {
	if _, err := r.GetByID(ctx, batchID); err != nil {
		return err
	}
	return apperror.NewConcurrentModification("product_batch", batchID)
}

func (r *BatchRepo) getOne(ctx context.Context, q sq.SelectBuilder) (*batches.ProductBatch, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build batch query: %w", err)
	}
	var b batches.ProductBatch
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &b, sql, args...); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BatchRepo) selectMany(ctx context.Context, q sq.SelectBuilder, op string) ([]batches.ProductBatch, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", op, err)
	}
	var out []batches.ProductBatch
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, mapError(fmt.Errorf("%s: %w", op, err))
	}
	return out, nil
}
