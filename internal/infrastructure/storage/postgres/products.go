package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/domain/catalog"
)

const productTable = "products"

var (
	_              catalog.ProductCatalog = (*ProductRepo)(nil)
	productColumns                        = Columns[catalog.Product]()
)

// ProductRepo is the read side of the product catalog. The catalog service
// owns the table; Upsert exists for seeding and tests.
type ProductRepo struct {
	txm *TxManager
}

// NewProductRepo creates a product repository.
func NewProductRepo(txm *TxManager) *ProductRepo {
	return &ProductRepo{txm: txm}
}

// GetProduct implements catalog.ProductCatalog.
func (r *ProductRepo) GetProduct(ctx context.Context, productID id.ID) (*catalog.Product, error) {
	sql, args, err := builder().Select(productColumns...).From(productTable).
		Where(sq.Eq{"id": productID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build product query: %w", err)
	}

	var p catalog.Product
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &p, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewProductNotFound(productID)
		}
		return nil, mapError(fmt.Errorf("get product: %w", err))
	}
	return &p, nil
}

// ListProducts implements catalog.ProductCatalog.
func (r *ProductRepo) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	sql, args, err := builder().Select(productColumns...).From(productTable).
		OrderBy("name", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build product list: %w", err)
	}

	var out []catalog.Product
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, mapError(fmt.Errorf("list products: %w", err))
	}
	return out, nil
}

// Upsert inserts or replaces a product. A nil id is assigned.
func (r *ProductRepo) Upsert(ctx context.Context, p catalog.Product) (catalog.Product, error) {
	if id.IsNil(p.ID) {
		p.ID = id.New()
	}
	sql, args, err := builder().Insert(productTable).
		SetMap(ToMap(p)).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			sku = EXCLUDED.sku,
			price = EXCLUDED.price,
			reorder_point = EXCLUDED.reorder_point,
			requires_batch_tracking = EXCLUDED.requires_batch_tracking`).
		ToSql()
	if err != nil {
		return p, fmt.Errorf("build product upsert: %w", err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return p, mapError(fmt.Errorf("upsert product: %w", err))
	}
	return p, nil
}
