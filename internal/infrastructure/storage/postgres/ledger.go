package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"lotledger/internal/core/id"
	"lotledger/internal/domain/ledger"
)

const ledgerTable = "inventory_adjustments"

// copyThreshold is the row count from which Append switches to COPY.
const copyThreshold = 64

var (
	_             ledger.Repository = (*LedgerRepo)(nil)
	ledgerColumns                   = Columns[ledgerRow]()
)

// ledgerRow is the stored form of a ledger entry: the cause is kept in its
// own columns next to the rendered reason.
type ledgerRow struct {
	ledger.InventoryAdjustment
	CauseKind ledger.CauseKind `db:"cause_kind"`
	CauseRef  string           `db:"cause_ref"`
}

func toLedgerRow(e ledger.InventoryAdjustment) ledgerRow {
	return ledgerRow{InventoryAdjustment: e, CauseKind: e.Cause.Kind, CauseRef: e.Cause.Ref}
}

func (r ledgerRow) entry() ledger.InventoryAdjustment {
	e := r.InventoryAdjustment
	e.Cause = ledger.Cause{Kind: r.CauseKind, Ref: r.CauseRef}
	return e
}

// LedgerRepo stores the append-only adjustment ledger. The table rejects
// UPDATE and DELETE with a trigger.
type LedgerRepo struct {
	txm *TxManager
}

// NewLedgerRepo creates a ledger repository.
func NewLedgerRepo(txm *TxManager) *LedgerRepo {
	return &LedgerRepo{txm: txm}
}

func saleCondition() sq.Sqlizer {
	return sq.And{
		sq.Eq{"adjustment_type": string(ledger.TypeSubtract)},
		sq.Eq{"cause_kind": string(ledger.CauseSale)},
	}
}

// escapeLike escapes LIKE wildcards in a literal prefix.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func ledgerPage(q sq.SelectBuilder, from, to *time.Time, after *ledger.Cursor, limit int) sq.SelectBuilder {
	if from != nil {
		q = q.Where(sq.GtOrEq{"created_at": *from})
	}
	if to != nil {
		q = q.Where(sq.LtOrEq{"created_at": *to})
	}
	if after != nil {
		q = q.Where(sq.Expr("(created_at, id) > (?, ?)", after.CreatedAt, after.ID))
	}
	q = q.OrderBy("created_at", "id")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return q
}

func ledgerSelect() sq.SelectBuilder {
	return builder().Select(ledgerColumns...).From(ledgerTable)
}

func listSalesQuery(filter ledger.SaleFilter, after *ledger.Cursor, limit int) sq.SelectBuilder {
	q := ledgerSelect().Where(saleCondition())
	if filter.ProductID != nil {
		q = q.Where(sq.Eq{"product_id": *filter.ProductID})
	}
	return ledgerPage(q, filter.From, filter.To, after, limit)
}

// Append implements ledger.Repository. Large appends use COPY when a
// transaction is open.
func (r *LedgerRepo) Append(ctx context.Context, entries ...ledger.InventoryAdjustment) error {
	if len(entries) == 0 {
		return nil
	}

	if t := r.txm.GetTx(ctx); t != nil && len(entries) >= copyThreshold {
		rows := make([][]any, len(entries))
		for i := range entries {
			rows[i] = values(ToMap(toLedgerRow(entries[i])), ledgerColumns)
		}
		if _, err := t.CopyFrom(ctx, pgx.Identifier{ledgerTable}, ledgerColumns, pgx.CopyFromRows(rows)); err != nil {
			return mapError(fmt.Errorf("copy ledger entries: %w", err))
		}
		return nil
	}

	q := builder().Insert(ledgerTable).Columns(ledgerColumns...)
	for i := range entries {
		q = q.Values(values(ToMap(toLedgerRow(entries[i])), ledgerColumns)...)
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build ledger insert: %w", err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return mapError(fmt.Errorf("insert ledger entries: %w", err))
	}
	return nil
}

// ListByProduct implements ledger.Repository.
func (r *LedgerRepo) ListByProduct(ctx context.Context, productID id.ID, from, to *time.Time, after *ledger.Cursor, limit int) ([]ledger.InventoryAdjustment, error) {
	q := ledgerPage(ledgerSelect().Where(sq.Eq{"product_id": productID}), from, to, after, limit)
	return r.selectMany(ctx, q, "list product ledger")
}

// ListByReasonPrefix implements ledger.Repository.
func (r *LedgerRepo) ListByReasonPrefix(ctx context.Context, prefix string, after *ledger.Cursor, limit int) ([]ledger.InventoryAdjustment, error) {
	q := ledgerPage(ledgerSelect().Where(sq.Like{"reason": escapeLike(prefix) + "%"}), nil, nil, after, limit)
	return r.selectMany(ctx, q, "list ledger by reason")
}

// ListSales implements ledger.Repository.
func (r *LedgerRepo) ListSales(ctx context.Context, filter ledger.SaleFilter, after *ledger.Cursor, limit int) ([]ledger.InventoryAdjustment, error) {
	return r.selectMany(ctx, listSalesQuery(filter, after, limit), "list sales")
}

// ProductsWithSales implements ledger.Repository.
func (r *LedgerRepo) ProductsWithSales(ctx context.Context, from, to *time.Time) ([]id.ID, error) {
	q := builder().Select("DISTINCT product_id").From(ledgerTable).Where(saleCondition())
	if from != nil {
		q = q.Where(sq.GtOrEq{"created_at": *from})
	}
	if to != nil {
		q = q.Where(sq.LtOrEq{"created_at": *to})
	}
	sql, args, err := q.OrderBy("product_id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build products with sales: %w", err)
	}

	var ids []id.ID
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &ids, sql, args...); err != nil {
		return nil, mapError(fmt.Errorf("products with sales: %w", err))
	}
	return ids, nil
}

func (r *LedgerRepo) selectMany(ctx context.Context, q sq.SelectBuilder, op string) ([]ledger.InventoryAdjustment, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", op, err)
	}
	var rows []ledgerRow
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, mapError(fmt.Errorf("%s: %w", op, err))
	}
	out := make([]ledger.InventoryAdjustment, len(rows))
	for i := range rows {
		out[i] = rows[i].entry()
	}
	return out, nil
}
