package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/batches"
	"lotledger/internal/domain/ledger"
)

var t0 = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

// Equality conditions pass ids through driver.Valuer, so they bind as strings;
// keyset expressions bind them unchanged.
func TestBatchQueries(t *testing.T) {
	productID, batchID := id.New(), id.New()
	cols := joinColumns(batchColumns)

	tests := []struct {
		name     string
		build    func() (string, []any, error)
		wantSQL  string
		wantArgs []any
	}{
		{
			name: "first FIFO page",
			build: func() (string, []any, error) {
				return listByProductQuery(productID, nil, 2).ToSql()
			},
			wantSQL:  "SELECT " + cols + " FROM product_batches WHERE deleted_at IS NULL AND product_id = $1 ORDER BY created_at, id LIMIT 2",
			wantArgs: []any{productID.String()},
		},
		{
			name: "next FIFO page",
			build: func() (string, []any, error) {
				return listByProductQuery(productID, &batches.Cursor{CreatedAt: t0, ID: batchID}, 2).ToSql()
			},
			wantSQL:  "SELECT " + cols + " FROM product_batches WHERE deleted_at IS NULL AND product_id = $1 AND (created_at, id) > ($2, $3) ORDER BY created_at, id LIMIT 2",
			wantArgs: []any{productID.String(), t0, batchID},
		},
		{
			name: "lock product",
			build: func() (string, []any, error) {
				return listByProductQuery(productID, nil, 0).Suffix("FOR UPDATE").ToSql()
			},
			wantSQL:  "SELECT " + cols + " FROM product_batches WHERE deleted_at IS NULL AND product_id = $1 ORDER BY created_at, id FOR UPDATE",
			wantArgs: []any{productID.String()},
		},
		{
			name: "expiring",
			build: func() (string, []any, error) {
				return listExpiringQuery(t0, t0.AddDate(0, 0, 30), &batches.ExpiryCursor{ExpirationDate: t0, ID: batchID}, 10).ToSql()
			},
			wantSQL: "SELECT " + cols + " FROM product_batches WHERE deleted_at IS NULL AND quantity_on_hand > $1" +
				" AND expiration_date >= $2 AND expiration_date <= $3 AND (expiration_date, id) > ($4, $5)" +
				" ORDER BY expiration_date, id LIMIT 10",
			wantArgs: []any{0, t0, t0.AddDate(0, 0, 30), t0, batchID},
		},
		{
			name: "versioned quantity update",
			build: func() (string, []any, error) {
				return updateQuantityQuery(batchID, 5, 3, t0).ToSql()
			},
			wantSQL: "UPDATE product_batches SET quantity_on_hand = $1, version = version + 1, updated_at = $2" +
				" WHERE deleted_at IS NULL AND id = $3 AND version = $4 RETURNING " + cols,
			wantArgs: []any{types.Quantity(5), t0, batchID.String(), 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := tt.build()
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestLedgerQueries(t *testing.T) {
	productID := id.New()
	cols := joinColumns(ledgerColumns)

	sql, args, err := listSalesQuery(ledger.SaleFilter{ProductID: &productID, From: &t0}, nil, 50).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT "+cols+" FROM inventory_adjustments WHERE (adjustment_type = $1 AND cause_kind = $2)"+
		" AND product_id = $3 AND created_at >= $4 ORDER BY created_at, id LIMIT 50", sql)
	assert.Equal(t, []any{"subtract", "sale", productID.String(), t0}, args)

	assert.Equal(t, `50\%\_off\\`, escapeLike(`50%_off\`))
}

func TestColumnsAndToMap(t *testing.T) {
	assert.Equal(t, []string{
		"id", "product_id", "batch_id", "operation_id", "adjustment_type", "quantity_adjusted",
		"reason", "user_id", "negative_stock", "unit_cost", "created_at", "cause_kind", "cause_ref",
	}, ledgerColumns)
	assert.Contains(t, batchColumns, "deleted_at")

	batchID := id.New()
	m := ToMap(toLedgerRow(ledger.InventoryAdjustment{
		BatchID:          &batchID,
		Type:             ledger.TypeSubtract,
		QuantityAdjusted: -2,
		Cause:            ledger.Sale("1"),
	}))
	assert.NotContains(t, m, "cause")
	assert.Equal(t, ledger.CauseSale, m["cause_kind"])
	assert.Equal(t, "1", m["cause_ref"])
	assert.Equal(t, &batchID, m["batch_id"])
	assert.Equal(t, types.Quantity(-2), m["quantity_adjusted"])
	assert.Len(t, values(m, ledgerColumns), len(ledgerColumns))

	assert.Nil(t, ToMap(42))
}

func TestLedgerRow_KeepsStructuredCause(t *testing.T) {
	causes := []ledger.Cause{
		ledger.Other(""),
		ledger.Other("Other"),
		ledger.Sale("SO-(1)"),
		ledger.Transfer("a) b"),
	}
	for _, c := range causes {
		t.Run(c.Reason(), func(t *testing.T) {
			row := toLedgerRow(ledger.InventoryAdjustment{Reason: c.Reason(), Cause: c})
			// As scanned: the embedded entry has no cause of its own.
			row.InventoryAdjustment.Cause = ledger.Cause{}
			assert.Equal(t, c, row.entry().Cause)
		})
	}
}

func TestMigrations_EmbeddedSource(t *testing.T) {
	src, err := iofs.New(migrationFS, "migrations")
	require.NoError(t, err)
	defer src.Close()

	first, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)

	for version := first; ; {
		up, name, err := src.ReadUp(version)
		require.NoError(t, err, "up migration %d", version)
		body, err := io.ReadAll(up)
		up.Close()
		require.NoError(t, err)
		assert.NotContains(t, string(body), "goose", name)

		down, _, err := src.ReadDown(version)
		require.NoError(t, err, "down migration %d", version)
		down.Close()

		next, err := src.Next(version)
		if errors.Is(err, fs.ErrNotExist) {
			assert.Equal(t, uint(2), version)
			break
		}
		require.NoError(t, err)
		version = next
	}
}

func TestMapError(t *testing.T) {
	pgErr := func(code string) error {
		return fmt.Errorf("exec: %w", &pgconn.PgError{Code: code})
	}

	assert.True(t, apperror.IsConcurrentModification(mapError(pgErr(pgSerializationFailure))))
	assert.True(t, apperror.IsConcurrentModification(mapError(pgErr(pgDeadlockDetected))))
	assert.True(t, apperror.IsTimeout(mapError(pgErr(pgQueryCanceled))))
	assert.True(t, apperror.IsTimeout(mapError(pgErr(pgLockNotAvailable))))
	assert.True(t, apperror.HasCode(mapError(pgErr("XX000")), apperror.CodeDatabase))
	assert.True(t, apperror.IsTimeout(mapError(fmt.Errorf("query: %w", context.DeadlineExceeded))))

	notFound := apperror.NewBatchNotFound("x")
	assert.Same(t, notFound, mapError(notFound))

	plain := errors.New("plain")
	assert.Equal(t, plain, mapError(plain))
	assert.NoError(t, mapError(nil))

	unique := &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: batchNumberIndex}
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", unique), batchNumberIndex))
	assert.False(t, isUniqueViolation(unique, "other"))
}
