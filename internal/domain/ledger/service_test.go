package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/ledger"
	"lotledger/internal/infrastructure/storage/memory"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func entry(productID, batchID id.ID, typ ledger.AdjustmentType, qty int64, cause ledger.Cause, at time.Time) ledger.InventoryAdjustment {
	return ledger.InventoryAdjustment{
		ProductID:        productID,
		BatchID:          &batchID,
		OperationID:      id.New(),
		Type:             typ,
		QuantityAdjusted: types.Quantity(qty),
		Cause:            cause,
		CreatedAt:        at,
	}
}

func TestService_AppendAssignsIdentity(t *testing.T) {
	store := memory.New()
	svc := ledger.NewService(store.Ledger(), ledger.WithClock(func() time.Time { return t0 }))
	productID, batchID := id.New(), id.New()

	e := entry(productID, batchID, ledger.TypeAdd, 5, ledger.Receiving("PO-1"), time.Time{})
	written, err := svc.Append(context.Background(), e)
	require.NoError(t, err)
	require.Len(t, written, 1)
	assert.False(t, id.IsNil(written[0].ID))
	assert.Equal(t, t0, written[0].CreatedAt)
	assert.Equal(t, "Receiving (PO: PO-1)", written[0].Reason)

	bad := entry(productID, batchID, ledger.TypeAdd, -5, ledger.Receiving(""), t0)
	_, err = svc.Append(context.Background(), bad)
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidArgument))

	bad = entry(productID, batchID, ledger.TypeSubtract, 1, ledger.Sale(""), t0)
	_, err = svc.Append(context.Background(), bad)
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidArgument))

	assert.Len(t, store.Ledger().Entries(), 1)
}

func TestService_QueriesAndReplay(t *testing.T) {
	store := memory.New()
	svc := ledger.NewService(store.Ledger(), ledger.WithPageSize(2))
	ctx := context.Background()
	p1, p2 := id.New(), id.New()
	b1, b2, b3 := id.New(), id.New(), id.New()

	_, err := svc.Append(ctx,
		entry(p1, b1, ledger.TypeAdd, 10, ledger.Receiving(""), t0),
		entry(p1, b2, ledger.TypeAdd, 4, ledger.Receiving(""), t0.Add(time.Minute)),
		entry(p2, b3, ledger.TypeAdd, 7, ledger.Receiving(""), t0.Add(2*time.Minute)),
		entry(p1, b1, ledger.TypeSubtract, -6, ledger.Sale("S1"), t0.Add(3*time.Minute)),
		entry(p1, b2, ledger.TypeRecount, -1, ledger.Recount(), t0.Add(4*time.Minute)),
		entry(p2, b3, ledger.TypeSubtract, -2, ledger.Sale("S2"), t0.Add(5*time.Minute)),
		entry(p1, b1, ledger.TypeSubtract, -1, ledger.Damage(), t0.Add(6*time.Minute)),
	)
	require.NoError(t, err)

	balances, err := svc.Replay(ctx, p1)
	require.NoError(t, err)
	assert.Equal(t, ledger.Balances{b1: 3, b2: 3}, balances)

	var kinds []ledger.CauseKind
	for e, err := range svc.QueryByProduct(ctx, p1, nil, nil) {
		require.NoError(t, err)
		kinds = append(kinds, e.Cause.Kind)
	}
	assert.Equal(t, []ledger.CauseKind{
		ledger.CauseReceiving, ledger.CauseReceiving, ledger.CauseSale, ledger.CauseRecount, ledger.CauseDamage,
	}, kinds)

	from, to := t0.Add(time.Minute), t0.Add(4*time.Minute)
	var windowed int
	for _, err := range svc.QueryByProduct(ctx, p1, &from, &to) {
		require.NoError(t, err)
		windowed++
	}
	assert.Equal(t, 3, windowed)

	var sales []string
	for e, err := range svc.QueryByReasonPrefix(ctx, ledger.SalePrefix) {
		require.NoError(t, err)
		sales = append(sales, e.Cause.Ref)
	}
	assert.Equal(t, []string{"S1", "S2"}, sales)

	var p2Sales int
	for e, err := range svc.QuerySales(ctx, ledger.SaleFilter{ProductID: &p2}) {
		require.NoError(t, err)
		assert.Equal(t, p2, e.ProductID)
		p2Sales++
	}
	assert.Equal(t, 1, p2Sales)

	products, err := svc.ProductsWithSales(ctx, nil, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []id.ID{p1, p2}, products)

	late := t0.Add(4 * time.Minute)
	products, err = svc.ProductsWithSales(ctx, &late, nil)
	require.NoError(t, err)
	assert.Equal(t, []id.ID{p2}, products)
}
