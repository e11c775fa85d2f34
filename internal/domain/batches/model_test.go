package batches

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
)

func TestNormalizeBatchNumber(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "trims", raw: "  LOT-7 ", want: "LOT-7"},
		{name: "unicode", raw: "ПАРТИЯ-1", want: "ПАРТИЯ-1"},
		{name: "max length", raw: strings.Repeat("x", MaxBatchNumberLength), want: strings.Repeat("x", MaxBatchNumberLength)},
		{name: "empty", raw: "   ", wantErr: true},
		{name: "too long", raw: strings.Repeat("x", MaxBatchNumberLength+1), wantErr: true},
		{name: "control", raw: "LOT\x007", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeBatchNumber(tt.raw)
			if tt.wantErr {
				assert.True(t, apperror.HasCode(err, apperror.CodeInvalidArgument))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCreateParams_Validate(t *testing.T) {
	valid := func() CreateParams {
		return CreateParams{ProductID: id.New(), BatchNumber: " A ", PurchaseCost: 100, QuantityOnHand: 1}
	}

	p := valid()
	require.NoError(t, p.Validate())
	assert.Equal(t, "A", p.BatchNumber)

	tests := map[string]func(*CreateParams){
		"missing product": func(p *CreateParams) { p.ProductID = id.Nil() },
		"negative cost":   func(p *CreateParams) { p.PurchaseCost = -1 },
		"negative qty":    func(p *CreateParams) { p.QuantityOnHand = -1 },
		"blank number":    func(p *CreateParams) { p.BatchNumber = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			p := valid()
			mutate(&p)
			assert.True(t, apperror.HasCode(p.Validate(), apperror.CodeInvalidArgument))
		})
	}
}

func TestFIFOAndExpiryOrdering(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	lo := id.MustParse("00000000-0000-7000-8000-000000000001")
	hi := id.MustParse("00000000-0000-7000-8000-000000000002")
	soon := t0.AddDate(0, 1, 0)
	late := t0.AddDate(0, 2, 0)

	list := []ProductBatch{
		{ID: hi, BatchNumber: "tie-hi", CreatedAt: t0},
		{ID: id.New(), BatchNumber: "newest", CreatedAt: t0.Add(time.Hour), ExpirationDate: &soon},
		{ID: lo, BatchNumber: "tie-lo", CreatedAt: t0, ExpirationDate: &late},
	}

	fifo := slices.Clone(list)
	slices.SortFunc(fifo, FIFOCompare)
	assert.Equal(t, []string{"tie-lo", "tie-hi", "newest"}, numbers(fifo))

	expiry := slices.Clone(list)
	slices.SortFunc(expiry, ExpiryCompare)
	assert.Equal(t, []string{"newest", "tie-lo", "tie-hi"}, numbers(expiry))

	c := fifo[0].Cursor()
	assert.False(t, c.Before(&fifo[0]))
	assert.True(t, c.Before(&fifo[1]))
	assert.True(t, c.Before(&fifo[2]))
}

func numbers(list []ProductBatch) []string {
	out := make([]string, len(list))
	for i, b := range list {
		out[i] = b.BatchNumber
	}
	return out
}
