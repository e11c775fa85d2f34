package reports_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/adjuster"
	"lotledger/internal/domain/ledger"
	"lotledger/internal/domain/reports"
	"lotledger/internal/testutil"
)

func day(n int) time.Time {
	return testutil.Epoch.AddDate(0, 0, n)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestProfitMarginReport_EndToEnd(t *testing.T) {
	inv := testutil.NewInventory(t)
	ctx := context.Background()
	p := inv.Product("P", 1000, nil)

	inv.Clock.Set(day(1))
	a := inv.Receive(t, p.ID, "BATCH-A", 400, 20)
	inv.Clock.Set(day(2))
	b := inv.Receive(t, p.ID, "BATCH-B", 500, 20)
	inv.Clock.Set(day(3))
	_, err := inv.Sell(ctx, p.ID, "1042", 25)
	require.NoError(t, err)

	report, err := inv.Reports.ProfitMarginReport(ctx, reports.Filter{})
	require.NoError(t, err)
	require.Len(t, report.Sales, 1)

	line := report.Sales[0]
	assert.Equal(t, "1042", line.OrderRef)
	assert.Equal(t, types.Quantity(25), line.Quantity)
	require.Len(t, line.Allocations, 2)
	assert.Equal(t, a.ID, line.Allocations[0].BatchID)
	assert.Equal(t, types.Quantity(20), line.Allocations[0].Quantity)
	assert.Equal(t, types.MinorUnits(400), line.Allocations[0].UnitCost)
	assert.Equal(t, b.ID, line.Allocations[1].BatchID)
	assert.Equal(t, types.Quantity(5), line.Allocations[1].Quantity)
	assert.Equal(t, types.MinorUnits(500), line.Allocations[1].UnitCost)

	assert.Equal(t, "105.00", line.COGS.String())
	assert.Equal(t, "250.00", line.Revenue.String())
	assert.Equal(t, "145.00", line.Profit.String())
	assertDecimal(t, "58", line.MarginPct)
	assert.Empty(t, line.Warnings)

	assert.Equal(t, types.MinorUnits(25000), report.TotalRevenue)
	assert.Equal(t, types.MinorUnits(10500), report.TotalCOGS)
	assert.Equal(t, types.MinorUnits(14500), report.TotalProfit)
	assertDecimal(t, "58", report.AverageMargin)

	require.Len(t, report.Products, 1)
	assert.Equal(t, "P", report.Products[0].Name)
	assert.Equal(t, types.Quantity(25), report.Products[0].QuantitySold)
	assert.Empty(t, report.Warnings)
}

func TestProfitMarginReport_CostsAgainstHistoricalState(t *testing.T) {
	inv := testutil.NewInventory(t)
	ctx := context.Background()
	p := inv.Product("P", 1000, nil)

	inv.Clock.Set(day(1))
	a := inv.Receive(t, p.ID, "A", 400, 10)
	inv.Clock.Set(day(2))
	inv.Receive(t, p.ID, "B", 500, 10)

	inv.Clock.Set(day(3))
	_, err := inv.Sell(ctx, p.ID, "first", 6)
	require.NoError(t, err)

	// Later events must not change the cost of the first sale.
	inv.Clock.Set(day(4))
	_, err = inv.Adjuster.Recount(ctx, adjuster.RecountRequest{ProductID: p.ID, BatchID: &a.ID, Counted: 1})
	require.NoError(t, err)
	inv.Clock.Set(day(5))
	_, err = inv.Sell(ctx, p.ID, "second", 3)
	require.NoError(t, err)

	report, err := inv.Reports.ProfitMarginReport(ctx, reports.Filter{})
	require.NoError(t, err)
	require.Len(t, report.Sales, 2)
	assert.Equal(t, types.MinorUnits(2400), report.Sales[0].COGS)
	// 1 unit left in A after the recount, 2 from B.
	assert.Equal(t, types.MinorUnits(400+2*500), report.Sales[1].COGS)

	from := day(5)
	windowed, err := inv.Reports.ProfitMarginReport(ctx, reports.Filter{From: &from})
	require.NoError(t, err)
	require.Len(t, windowed.Sales, 1)
	assert.Equal(t, "second", windowed.Sales[0].OrderRef)
	assert.Equal(t, report.Sales[1].COGS, windowed.Sales[0].COGS)

	to := day(3)
	early, err := inv.Reports.ProfitMarginReport(ctx, reports.Filter{To: &to})
	require.NoError(t, err)
	require.Len(t, early.Sales, 1)
	assert.Equal(t, "first", early.Sales[0].OrderRef)
}

func TestProfitMarginReport_IgnoresNonSaleDebits(t *testing.T) {
	inv := testutil.NewInventory(t)
	ctx := context.Background()
	p := inv.Product("P", 1000, nil)
	inv.Receive(t, p.ID, "A", 400, 10)
	inv.Receive(t, p.ID, "B", 500, 10)

	_, err := inv.Adjuster.Subtract(ctx, adjuster.SubtractRequest{
		ProductID: p.ID,
		Quantity:  10,
		Journal:   adjuster.Journal{Cause: ledger.Damage()},
	})
	require.NoError(t, err)
	_, err = inv.Sell(ctx, p.ID, "SO", 2)
	require.NoError(t, err)

	report, err := inv.Reports.ProfitMarginReport(ctx, reports.Filter{})
	require.NoError(t, err)
	require.Len(t, report.Sales, 1)
	// Damage drained batch A, so the sale is costed from B.
	assert.Equal(t, types.MinorUnits(1000), report.Sales[0].COGS)
}

func TestProfitMarginReport_AggregatesAreRevenueWeighted(t *testing.T) {
	inv := testutil.NewInventory(t)
	ctx := context.Background()
	cheap := inv.Product("cheap", 100, nil)
	dear := inv.Product("dear", 10000, nil)
	inv.Receive(t, cheap.ID, "C", 90, 100)
	inv.Receive(t, dear.ID, "D", 5000, 10)

	for _, sale := range []struct {
		productID id.ID
		qty       int64
	}{
		{cheap.ID, 10},
		{dear.ID, 2},
		{cheap.ID, 5},
	} {
		_, err := inv.Sell(ctx, sale.productID, "SO", sale.qty)
		require.NoError(t, err)
	}

	report, err := inv.Reports.ProfitMarginReport(ctx, reports.Filter{})
	require.NoError(t, err)
	require.Len(t, report.Sales, 3)

	var revenue, cogs types.MinorUnits
	for _, line := range report.Sales {
		assert.Equal(t, line.Revenue-line.COGS, line.Profit)
		assert.True(t, types.PercentOf(line.Profit, line.Revenue).Equal(line.MarginPct))
		revenue += line.Revenue
		cogs += line.COGS
	}
	assert.Equal(t, revenue, report.TotalRevenue)
	assert.Equal(t, cogs, report.TotalCOGS)
	assert.Equal(t, report.TotalRevenue-report.TotalCOGS, report.TotalProfit)
	// (1500 - 1350 + 20000 - 10000) / 21500
	assertDecimal(t, "47.21", report.AverageMargin)

	require.Len(t, report.Products, 2)
	assert.Equal(t, "cheap", report.Products[0].Name)
	assertDecimal(t, "10", report.Products[0].MarginPct)
	assertDecimal(t, "50", report.Products[1].MarginPct)

	only, err := inv.Reports.ProfitMarginReport(ctx, reports.Filter{ProductID: &dear.ID})
	require.NoError(t, err)
	require.Len(t, only.Sales, 1)
	assert.Equal(t, types.MinorUnits(20000), only.TotalRevenue)
}

func TestProfitMarginReport_EmptyWindow(t *testing.T) {
	inv := testutil.NewInventory(t)
	from, to := day(10), day(11)

	report, err := inv.Reports.ProfitMarginReport(context.Background(), reports.Filter{From: &from, To: &to})
	require.NoError(t, err)
	assert.Empty(t, report.Sales)
	assert.Zero(t, report.TotalRevenue)
	assert.Zero(t, report.TotalCOGS)
	assert.Zero(t, report.TotalProfit)
	assert.True(t, report.AverageMargin.IsZero())
}

func TestProfitMarginReport_RejectsInvertedWindow(t *testing.T) {
	inv := testutil.NewInventory(t)
	from, to := day(2), day(1)

	_, err := inv.Reports.ProfitMarginReport(context.Background(), reports.Filter{From: &from, To: &to})
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidArgument))
}

func TestProfitMarginReport_ZeroPriceHasZeroMargin(t *testing.T) {
	inv := testutil.NewInventory(t)
	ctx := context.Background()
	p := inv.Product("sample", 0, nil)
	inv.Receive(t, p.ID, "A", 300, 5)
	_, err := inv.Sell(ctx, p.ID, "giveaway", 2)
	require.NoError(t, err)

	report, err := inv.Reports.ProfitMarginReport(ctx, reports.Filter{})
	require.NoError(t, err)
	require.Len(t, report.Sales, 1)
	assert.Equal(t, types.MinorUnits(-600), report.Sales[0].Profit)
	assert.True(t, report.Sales[0].MarginPct.IsZero())
	assert.True(t, report.AverageMargin.IsZero())
}

func TestProfitMarginReport_FlagsNegativeStockSales(t *testing.T) {
	inv := testutil.NewInventory(t)
	inv.Settings.NegativeStock = true
	ctx := context.Background()
	p := inv.Product("P", 1000, nil)
	inv.Receive(t, p.ID, "A", 400, 10)

	_, err := inv.Sell(ctx, p.ID, "SO", 12)
	require.NoError(t, err)

	report, err := inv.Reports.ProfitMarginReport(ctx, reports.Filter{})
	require.NoError(t, err)
	require.Len(t, report.Sales, 1)

	line := report.Sales[0]
	assert.Equal(t, types.MinorUnits(4000), line.COGS)
	assert.Equal(t, types.MinorUnits(12000), line.Revenue)
	assert.Equal(t, types.Quantity(2), line.UnsourcedQuantity)
	require.Len(t, line.Warnings, 1)
	assert.Equal(t, reports.WarningNegativeStock, line.Warnings[0].Code)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, types.Quantity(2), report.Warnings[0].UnsourcedQuantity)
}

func TestProfitMarginReport_FlagsUnsourcedAndUnknownBatches(t *testing.T) {
	inv := testutil.NewInventory(t)
	ctx := context.Background()
	p := inv.Product("P", 1000, nil)

	// Imported history: a sale recorded without any batch stock behind it.
	_, err := inv.Ledger.Append(ctx, ledger.InventoryAdjustment{
		ProductID:        p.ID,
		OperationID:      id.New(),
		Type:             ledger.TypeSubtract,
		QuantityAdjusted: -3,
		Cause:            ledger.Sale("legacy"),
		CreatedAt:        day(1),
	})
	require.NoError(t, err)

	ghost := id.New()
	_, err = inv.Ledger.Append(ctx, ledger.InventoryAdjustment{
		ProductID:        p.ID,
		BatchID:          &ghost,
		OperationID:      id.New(),
		Type:             ledger.TypeAdd,
		QuantityAdjusted: 5,
		Cause:            ledger.InitialLoad(),
		CreatedAt:        day(2),
	})
	require.NoError(t, err)

	report, err := inv.Reports.ProfitMarginReport(ctx, reports.Filter{})
	require.NoError(t, err)
	require.Len(t, report.Sales, 1)
	assert.Zero(t, report.Sales[0].COGS)
	assert.Equal(t, types.Quantity(3), report.Sales[0].UnsourcedQuantity)

	codes := make([]reports.WarningCode, 0, len(report.Warnings))
	for _, w := range report.Warnings {
		codes = append(codes, w.Code)
	}
	assert.ElementsMatch(t, []reports.WarningCode{reports.WarningUnsourcedCOGS, reports.WarningUnknownBatch}, codes)

	rec, err := inv.Reports.Reconcile(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, rec.Mismatches, 1)
	assert.Equal(t, ghost, rec.Mismatches[0].BatchID)
	assert.Equal(t, types.Quantity(5), rec.Mismatches[0].Replayed)
}

func TestProductProfitMargin(t *testing.T) {
	inv := testutil.NewInventory(t)
	ctx := context.Background()
	p := inv.Product("P", 1000, nil)
	inv.Receive(t, p.ID, "A", 400, 10)
	_, err := inv.Sell(ctx, p.ID, "SO-1", 4)
	require.NoError(t, err)
	_, err = inv.Sell(ctx, p.ID, "SO-2", 1)
	require.NoError(t, err)

	pm, err := inv.Reports.ProductProfitMargin(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, pm.Sales, 2)
	assert.Equal(t, types.Quantity(5), pm.QuantitySold)
	assert.Equal(t, types.MinorUnits(5000), pm.Revenue)
	assert.Equal(t, types.MinorUnits(2000), pm.COGS)
	assertDecimal(t, "60", pm.MarginPct)

	quiet := inv.Product("Q", 1000, nil)
	pm, err = inv.Reports.ProductProfitMargin(ctx, quiet.ID)
	require.NoError(t, err)
	assert.Empty(t, pm.Sales)
	assert.Zero(t, pm.Revenue)

	_, err = inv.Reports.ProductProfitMargin(ctx, id.New())
	assert.True(t, apperror.IsNotFound(err))
}

func TestReconcile_DeletedBatchStillReplays(t *testing.T) {
	inv := testutil.NewInventory(t)
	ctx := context.Background()
	p := inv.Product("P", 1000, nil)
	a := inv.Receive(t, p.ID, "A", 400, 3)
	inv.Receive(t, p.ID, "B", 500, 3)

	_, err := inv.Sell(ctx, p.ID, "SO", 3)
	require.NoError(t, err)
	require.NoError(t, inv.Batches.DeleteBatch(ctx, a.ID))

	rec, err := inv.Reports.Reconcile(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent())
	assert.Equal(t, 2, rec.Batches)

	report, err := inv.Reports.ProductProfitMargin(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, report.Sales, 1)
	assert.Equal(t, types.MinorUnits(1200), report.Sales[0].COGS)
}
