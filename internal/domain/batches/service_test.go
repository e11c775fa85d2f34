package batches_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/domain/batches"
	"lotledger/internal/testutil"
)

type recordingAuditor struct {
	actions []string
	err     error
}

func (a *recordingAuditor) LogChange(_ context.Context, entityType string, _ id.ID, action string, _ map[string]any) error {
	a.actions = append(a.actions, entityType+":"+action)
	return a.err
}

func TestService_CreateAndDelete(t *testing.T) {
	inv := testutil.NewInventory(t)
	ctx := context.Background()
	p := inv.Product("widget", 100, nil)
	auditor := &recordingAuditor{}
	svc := batches.NewService(inv.Store.Batches(), inv.Store.Catalog(), batches.WithAuditor(auditor), batches.WithClock(inv.Clock.Now))

	b, err := svc.CreateBatch(ctx, batches.CreateParams{ProductID: p.ID, BatchNumber: "B1", PurchaseCost: 10, QuantityOnHand: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, b.Version)

	_, err = svc.CreateBatch(ctx, batches.CreateParams{ProductID: p.ID, BatchNumber: "B1"})
	assert.True(t, apperror.HasCode(err, apperror.CodeDuplicateBatchNumber))

	_, err = svc.CreateBatch(ctx, batches.CreateParams{ProductID: id.New(), BatchNumber: "B2"})
	assert.True(t, apperror.HasCode(err, apperror.CodeProductNotFound))

	err = svc.DeleteBatch(ctx, b.ID)
	assert.True(t, apperror.HasCode(err, apperror.CodeBatchNotEmpty))

	_, err = inv.Store.Batches().UpdateQuantity(ctx, b.ID, 0, b.Version, inv.Clock.Now())
	require.NoError(t, err)
	require.NoError(t, svc.DeleteBatch(ctx, b.ID))

	_, err = svc.GetBatch(ctx, b.ID)
	assert.True(t, apperror.IsNotFound(err))
	assert.Equal(t, []string{"product_batch:create", "product_batch:delete"}, auditor.actions)
}

func TestService_AuditFailureAbortsCreate(t *testing.T) {
	inv := testutil.NewInventory(t)
	ctx := context.Background()
	p := inv.Product("widget", 100, nil)
	boom := errors.New("audit down")
	svc := batches.NewService(inv.Store.Batches(), inv.Store.Catalog(), batches.WithAuditor(&recordingAuditor{err: boom}))

	err := inv.Store.TxManager().RunInTransaction(ctx, func(ctx context.Context) error {
		_, err := svc.CreateBatch(ctx, batches.CreateParams{ProductID: p.ID, BatchNumber: "B1"})
		return err
	})
	require.ErrorIs(t, err, boom)

	list, err := svc.ListBatches(ctx, p.ID, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestService_BatchesForProductPagesLazily(t *testing.T) {
	inv := testutil.NewInventory(t, testutil.WithPageSize(2))
	p := inv.Product("widget", 100, nil)
	want := []string{"A", "B", "C", "D", "E"}
	for _, n := range want {
		inv.Receive(t, p.ID, n, 10, 1)
	}

	all, err := batches.Collect(inv.Batches.BatchesForProduct(context.Background(), p.ID))
	require.NoError(t, err)
	got := make([]string, len(all))
	for i, b := range all {
		got[i] = b.BatchNumber
	}
	assert.Equal(t, want, got)

	var first []string
	for b, err := range inv.Batches.BatchesForProduct(context.Background(), p.ID) {
		require.NoError(t, err)
		first = append(first, b.BatchNumber)
		if len(first) == 3 {
			break
		}
	}
	assert.Equal(t, want[:3], first)
}
