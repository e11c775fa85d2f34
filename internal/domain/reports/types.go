// Package reports computes revenue, COGS, profit and margin for sales by
// replaying the ledger against immutable batch costs.
package reports

import (
	"time"

	"github.com/shopspring/decimal"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/fifo"
)

// Filter selects sales by time window and product. Bounds are inclusive.
type Filter struct {
	From      *time.Time
	To        *time.Time
	ProductID *id.ID
}

// Validate rejects inverted windows.
func (f Filter) Validate() error {
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return apperror.NewInvalidArgument("from must not be after to")
	}
	return nil
}

// WarningCode classifies a data-quality problem found while costing a sale.
type WarningCode string

const (
	// WarningUnsourcedCOGS: part of a sale could not be matched to batch stock.
	WarningUnsourcedCOGS WarningCode = "UNSOURCED_COGS"
	// WarningNegativeStock: the sale overdrew a batch under the negative-stock override.
	WarningNegativeStock WarningCode = "NEGATIVE_STOCK"
	// WarningUnknownBatch: a ledger row references a batch that no longer resolves.
	WarningUnknownBatch WarningCode = "UNKNOWN_BATCH"
	// WarningUnknownProduct: the catalog no longer knows the product; revenue is reported as zero.
	WarningUnknownProduct WarningCode = "UNKNOWN_PRODUCT"
)

// DataQualityWarning flags reported figures that are not fully backed by batch data.
// It is part of the result, never an error.
type DataQualityWarning struct {
	Code              WarningCode    `json:"code"`
	ProductID         id.ID          `json:"productId"`
	OperationID       *id.ID         `json:"operationId,omitempty"`
	BatchID           *id.ID         `json:"batchId,omitempty"`
	UnsourcedQuantity types.Quantity `json:"unsourcedQuantity,omitempty"`
	Message           string         `json:"message"`
}

// SaleLine is the costing of one sale operation.
type SaleLine struct {
	OperationID id.ID            `json:"operationId"`
	ProductID   id.ID            `json:"productId"`
	OrderRef    string           `json:"orderRef,omitempty"`
	SoldAt      time.Time        `json:"soldAt"`
	Quantity    types.Quantity   `json:"quantity"`
	UnitPrice   types.MinorUnits `json:"unitPrice"`
	Revenue     types.MinorUnits `json:"revenue"`
	COGS        types.MinorUnits `json:"cogs"`
	Profit      types.MinorUnits `json:"profit"`
	MarginPct   decimal.Decimal  `json:"marginPct"`
	// Allocations are the FIFO batch draws recomputed from the replay snapshot.
	Allocations       []fifo.Allocation    `json:"allocations"`
	UnsourcedQuantity types.Quantity       `json:"unsourcedQuantity,omitempty"`
	Warnings          []DataQualityWarning `json:"warnings,omitempty"`
}

// Totals aggregates sale lines.
type Totals struct {
	QuantitySold types.Quantity   `json:"quantitySold"`
	Revenue      types.MinorUnits `json:"revenue"`
	COGS         types.MinorUnits `json:"cogs"`
	Profit       types.MinorUnits `json:"profit"`
	// MarginPct is total profit over total revenue, i.e. revenue weighted.
	MarginPct decimal.Decimal `json:"marginPct"`
}

func (t *Totals) add(line *SaleLine) {
	t.QuantitySold += line.Quantity
	t.Revenue += line.Revenue
	t.COGS += line.COGS
	t.Profit = t.Revenue - t.COGS
	t.MarginPct = types.PercentOf(t.Profit, t.Revenue)
}

// ProductSummary is the per-product roll-up.
type ProductSummary struct {
	ProductID id.ID  `json:"productId"`
	Name      string `json:"name"`
	SKU       string `json:"sku"`
	Totals
}

// ProfitMarginReport is the result of a report run.
type ProfitMarginReport struct {
	From        *time.Time           `json:"from,omitempty"`
	To          *time.Time           `json:"to,omitempty"`
	Sales       []SaleLine           `json:"sales"`
	Products    []ProductSummary     `json:"products"`
	Warnings    []DataQualityWarning `json:"warnings"`
	GeneratedAt time.Time            `json:"generatedAt"`

	TotalRevenue  types.MinorUnits `json:"totalRevenue"`
	TotalCOGS     types.MinorUnits `json:"totalCogs"`
	TotalProfit   types.MinorUnits `json:"totalProfit"`
	AverageMargin decimal.Decimal  `json:"averageMargin"`
}

// ProductProfitMargin is the report of a single product.
type ProductProfitMargin struct {
	ProductSummary
	Sales    []SaleLine           `json:"sales"`
	Warnings []DataQualityWarning `json:"warnings"`
}

// Mismatch is a batch whose live quantity differs from its ledger replay.
type Mismatch struct {
	BatchID     id.ID          `json:"batchId"`
	BatchNumber string         `json:"batchNumber,omitempty"`
	Live        types.Quantity `json:"live"`
	Replayed    types.Quantity `json:"replayed"`
}

// Reconciliation compares live batch quantities with the ledger.
type Reconciliation struct {
	ProductID  id.ID      `json:"productId"`
	Batches    int        `json:"batches"`
	Mismatches []Mismatch `json:"mismatches"`
}

// Consistent reports whether the ledger reproduces every live quantity.
func (r *Reconciliation) Consistent() bool { return len(r.Mismatches) == 0 }
