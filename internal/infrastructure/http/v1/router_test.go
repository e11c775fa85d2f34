package v1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/batches"
	"lotledger/internal/domain/ledger"
	"lotledger/internal/domain/stockstatus"
	"lotledger/internal/infrastructure/http/v1"
	"lotledger/internal/infrastructure/http/v1/dto"
	"lotledger/internal/infrastructure/http/v1/handlers"
	"lotledger/internal/infrastructure/http/v1/middleware"
	"lotledger/internal/infrastructure/storage/memory"
	"lotledger/internal/testutil"
	"lotledger/pkg/logger"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type apiEnv struct {
	inv    *testutil.Inventory
	router *gin.Engine
}

func newAPI(t *testing.T, checks map[string]handlers.Check) *apiEnv {
	t.Helper()
	inv := testutil.NewInventory(t)
	router := v1.NewRouter(v1.RouterConfig{
		Logger:                  logger.Nop(),
		Batches:                 inv.Batches,
		Adjuster:                inv.Adjuster,
		Ledger:                  inv.Ledger,
		Stock:                   inv.Stock,
		Reports:                 inv.Reports,
		Idempotency:             memory.NewIdempotencyStore(time.Hour, nil),
		HealthChecks:            checks,
		DefaultExpiryWindowDays: 30,
	})
	return &apiEnv{inv: inv, router: router}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

func (e *apiEnv) createBatch(t *testing.T, productID id.ID, number string, cost, qty int64) dto.AdjustmentResponse {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/batches", map[string]any{
		"productId":    productID,
		"batchNumber":  number,
		"purchaseCost": cost,
		"quantity":     qty,
		"cause":        map[string]string{"kind": "receiving", "ref": "PO-" + number},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[dto.AdjustmentResponse](t, w)
}

func TestAPI_ReceiveSellAndReport(t *testing.T) {
	e := newAPI(t, nil)
	p := e.inv.Product("widget", 1000, nil)

	a := e.createBatch(t, p.ID, "A", 400, 50)
	require.Len(t, a.Batches, 1)
	e.createBatch(t, p.ID, "B", 500, 50)

	w := e.do(t, http.MethodPost, "/api/v1/products/"+p.ID.String()+"/stock/subtract", map[string]any{
		"quantity": 60,
		"cause":    map[string]string{"kind": "sale", "ref": "SO-1"},
	}, middleware.HeaderUserID, "clerk-7")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decode[dto.AdjustmentResponse](t, w)
	require.Len(t, res.Allocations, 2)
	assert.Equal(t, types.Quantity(50), res.Allocations[0].Quantity)
	assert.Equal(t, types.Quantity(10), res.Allocations[1].Quantity)
	assert.Equal(t, types.MinorUnits(50*400+10*500), res.TotalCost)

	w = e.do(t, http.MethodGet, "/api/v1/products/"+p.ID.String()+"/stock", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[stockstatus.Status](t, w)
	assert.Equal(t, types.Quantity(40), status.CurrentStock)
	assert.Equal(t, stockstatus.InStock, status.Level)

	w = e.do(t, http.MethodGet, "/api/v1/adjustments?prefix=Sale", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sales := decode[dto.Page[ledger.InventoryAdjustment]](t, w)
	require.Len(t, sales.Items, 2)
	for _, row := range sales.Items {
		assert.Equal(t, "clerk-7", row.UserID)
		assert.Equal(t, "Sale (Order: SO-1)", row.Reason)
	}

	w = e.do(t, http.MethodGet, "/api/v1/reports/profit-margin", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report struct {
		TotalRevenue int64  `json:"totalRevenue"`
		TotalCOGS    int64  `json:"totalCogs"`
		TotalProfit  int64  `json:"totalProfit"`
		Sales        []any  `json:"sales"`
		Warnings     []any  `json:"warnings"`
		Average      string `json:"averageMargin"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, int64(60_000), report.TotalRevenue)
	assert.Equal(t, int64(25_000), report.TotalCOGS)
	assert.Equal(t, int64(35_000), report.TotalProfit)
	assert.Len(t, report.Sales, 1)
	assert.Empty(t, report.Warnings)

	w = e.do(t, http.MethodGet, "/api/v1/products/"+p.ID.String()+"/reconciliation", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]any](t, w)["consistent"])
}

func TestAPI_ErrorMapping(t *testing.T) {
	e := newAPI(t, nil)
	p := e.inv.Product("widget", 1000, nil)
	b := e.createBatch(t, p.ID, "A", 400, 5).Batches[0]

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{
			name:   "insufficient stock",
			method: http.MethodPost,
			path:   "/api/v1/products/" + p.ID.String() + "/stock/subtract",
			body:   map[string]any{"quantity": 6, "reason": "Damage"},
			status: http.StatusUnprocessableEntity,
			code:   apperror.CodeInsufficientStock,
		},
		{
			name:   "malformed product id",
			method: http.MethodGet,
			path:   "/api/v1/products/not-a-uuid/stock",
			status: http.StatusBadRequest,
			code:   apperror.CodeInvalidArgument,
		},
		{
			name:   "unknown batch",
			method: http.MethodGet,
			path:   "/api/v1/batches/" + id.New().String(),
			status: http.StatusNotFound,
			code:   apperror.CodeBatchNotFound,
		},
		{
			name:   "non-empty batch delete",
			method: http.MethodDelete,
			path:   "/api/v1/batches/" + b.ID.String(),
			status: http.StatusUnprocessableEntity,
			code:   apperror.CodeBatchNotEmpty,
		},
		{
			name:   "duplicate batch number",
			method: http.MethodPost,
			path:   "/api/v1/batches",
			body:   map[string]any{"productId": p.ID, "batchNumber": " A ", "purchaseCost": 1, "quantity": 1},
			status: http.StatusConflict,
			code:   apperror.CodeDuplicateBatchNumber,
		},
		{
			name:   "inverted report window",
			method: http.MethodGet,
			path:   "/api/v1/reports/profit-margin?from=2024-02-01&to=2024-01-01",
			status: http.StatusBadRequest,
			code:   apperror.CodeInvalidArgument,
		},
		{
			name:   "bad cursor",
			method: http.MethodGet,
			path:   "/api/v1/products/" + p.ID.String() + "/batches?cursor=bm90LWEtY3Vyc29y",
			status: http.StatusBadRequest,
			code:   apperror.CodeInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decode[errorBody](t, w).Code)
		})
	}

	assert.Equal(t, types.Quantity(5), e.inv.Quantity(t, b.ID))
}

func TestAPI_IdempotentSubtract(t *testing.T) {
	e := newAPI(t, nil)
	p := e.inv.Product("widget", 1000, nil)
	b := e.createBatch(t, p.ID, "A", 400, 10).Batches[0]
	path := "/api/v1/products/" + p.ID.String() + "/stock/subtract"
	body := map[string]any{"quantity": 4, "cause": map[string]string{"kind": "sale", "ref": "SO-9"}}

	first := e.do(t, http.MethodPost, path, body, middleware.HeaderIdempotencyKey, "key-1")
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())

	second := e.do(t, http.MethodPost, path, body, middleware.HeaderIdempotencyKey, "key-1")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get(middleware.HeaderIdempotentReplay))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, types.Quantity(6), e.inv.Quantity(t, b.ID))

	body["quantity"] = 5
	reused := e.do(t, http.MethodPost, path, body, middleware.HeaderIdempotencyKey, "key-1")
	assert.Equal(t, http.StatusUnprocessableEntity, reused.Code)
	assert.Equal(t, apperror.CodeIdempotencyMismatch, decode[errorBody](t, reused).Code)

	// Business errors replay too, so a retried short sale stays rejected.
	body["quantity"] = 50
	short := e.do(t, http.MethodPost, path, body, middleware.HeaderIdempotencyKey, "key-2")
	require.Equal(t, http.StatusUnprocessableEntity, short.Code)
	again := e.do(t, http.MethodPost, path, body, middleware.HeaderIdempotencyKey, "key-2")
	assert.Equal(t, http.StatusUnprocessableEntity, again.Code)
	assert.Equal(t, "true", again.Header().Get(middleware.HeaderIdempotentReplay))
	assert.Equal(t, types.Quantity(6), e.inv.Quantity(t, b.ID))
}

func TestAPI_AddRecountAndDelete(t *testing.T) {
	e := newAPI(t, nil)
	p := e.inv.Product("widget", 1000, nil)
	b := e.createBatch(t, p.ID, "A", 400, 3).Batches[0]
	base := "/api/v1/products/" + p.ID.String()

	w := e.do(t, http.MethodPost, base+"/stock/add", map[string]any{
		"newBatch": map[string]any{"batchNumber": "B", "purchaseCost": 450},
		"quantity": 7,
		"reason":   "Receiving (PO: PO-2)",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(t, http.MethodPost, base+"/stock/recount", map[string]any{
		"batchId": b.ID,
		"counted": 0,
		"cause":   map[string]string{"kind": "recount"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(t, http.MethodDelete, "/api/v1/batches/"+b.ID.String(), nil)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = e.do(t, http.MethodGet, base+"/batches?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[dto.Page[batches.ProductBatch]](t, w)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "B", page.Items[0].BatchNumber)
	require.NotEmpty(t, page.NextCursor)

	w = e.do(t, http.MethodGet, base+"/batches?limit=1&cursor="+page.NextCursor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[dto.Page[batches.ProductBatch]](t, w)
	assert.Empty(t, page.Items)
	assert.Empty(t, page.NextCursor)

	w = e.do(t, http.MethodGet, base+"/adjustments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rows := decode[dto.Page[ledger.InventoryAdjustment]](t, w)
	require.Len(t, rows.Items, 3)
	assert.Equal(t, ledger.CauseReceiving, rows.Items[1].Cause.Kind)
	assert.Equal(t, types.Quantity(-3), rows.Items[2].QuantityAdjusted)
}

func TestAPI_StockViews(t *testing.T) {
	e := newAPI(t, nil)
	reorderAt := int64(10)
	p := e.inv.Product("widget", 1000, &reorderAt)
	e.createBatch(t, p.ID, "A", 400, 4)

	w := e.do(t, http.MethodGet, "/api/v1/stock/reorder", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var reorder struct {
		Items []stockstatus.ReorderItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reorder))
	require.Len(t, reorder.Items, 1)
	assert.Equal(t, types.Quantity(16), reorder.Items[0].SuggestedQuantity)

	w = e.do(t, http.MethodGet, "/api/v1/stock/expiring", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"withinDays":30,"items":[]}`, w.Body.String())

	w = e.do(t, http.MethodGet, "/api/v1/stock/expiring?withinDays=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_Health(t *testing.T) {
	e := newAPI(t, map[string]handlers.Check{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	w := e.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "healthy", body["checks"].(map[string]any)["database"])
}

func TestAPI_TraceHeaders(t *testing.T) {
	e := newAPI(t, nil)
	w := e.do(t, http.MethodGet, "/health/live", nil, middleware.HeaderRequestID, "req-1")
	assert.Equal(t, "req-1", w.Header().Get(middleware.HeaderRequestID))
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderTraceID))
}
