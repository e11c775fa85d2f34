package handlers

import (
	"github.com/gin-gonic/gin"

	"lotledger/internal/domain/adjuster"
	"lotledger/internal/domain/ledger"
	"lotledger/internal/infrastructure/http/v1/dto"
)

// AdjustmentsHandler serves stock mutations and ledger queries.
type AdjustmentsHandler struct {
	*BaseHandler
	adjuster *adjuster.Adjuster
	ledger   *ledger.Service
}

// NewAdjustmentsHandler creates an adjustments handler.
func NewAdjustmentsHandler(base *BaseHandler, adj *adjuster.Adjuster, ledgerSvc *ledger.Service) *AdjustmentsHandler {
	return &AdjustmentsHandler{BaseHandler: base, adjuster: adj, ledger: ledgerSvc}
}

// RegisterRoutes mounts the handler.
func (h *AdjustmentsHandler) RegisterRoutes(api *gin.RouterGroup) {
	products := api.Group("/products/:productId")
	products.POST("/stock/add", h.Add)
	products.POST("/stock/subtract", h.Subtract)
	products.POST("/stock/recount", h.Recount)
	products.GET("/adjustments", h.ProductLedger)

	api.GET("/adjustments", h.ByReason)
}

// Add handles POST /products/:productId/stock/add.
func (h *AdjustmentsHandler) Add(c *gin.Context) {
	productID, ok := h.ParamID(c, "productId")
	if !ok {
		return
	}
	var req dto.AddStockRequest
	if !h.BindJSON(c, &req) {
		return
	}

	res, err := h.adjuster.Add(c.Request.Context(), req.ToDomain(productID))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromResult(res))
}

// Subtract handles POST /products/:productId/stock/subtract.
func (h *AdjustmentsHandler) Subtract(c *gin.Context) {
	productID, ok := h.ParamID(c, "productId")
	if !ok {
		return
	}
	var req dto.SubtractStockRequest
	if !h.BindJSON(c, &req) {
		return
	}

	res, err := h.adjuster.Subtract(c.Request.Context(), req.ToDomain(productID))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromResult(res))
}

// Recount handles POST /products/:productId/stock/recount.
func (h *AdjustmentsHandler) Recount(c *gin.Context) {
	productID, ok := h.ParamID(c, "productId")
	if !ok {
		return
	}
	var req dto.RecountRequest
	if !h.BindJSON(c, &req) {
		return
	}

	res, err := h.adjuster.Recount(c.Request.Context(), req.ToDomain(productID))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromResult(res))
}

// ProductLedger handles GET /products/:productId/adjustments in ledger order.
func (h *AdjustmentsHandler) ProductLedger(c *gin.Context) {
	productID, ok := h.ParamID(c, "productId")
	if !ok {
		return
	}
	var q dto.LedgerQuery
	if !h.BindQuery(c, &q) {
		return
	}

	from, err := dto.ParseBound("from", q.From, false)
	if err != nil {
		h.Error(c, err)
		return
	}
	to, err := dto.ParseBound("to", q.To, true)
	if err != nil {
		h.Error(c, err)
		return
	}
	after, err := ledgerCursor(q.Cursor)
	if err != nil {
		h.Error(c, err)
		return
	}

	limit := pageLimit(q.Limit)
	rows, err := h.ledger.ListByProduct(c.Request.Context(), productID, from, to, after, limit)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewPage(rows, limit, dto.LedgerCursor))
}

// ByReason handles GET /adjustments?prefix=...
func (h *AdjustmentsHandler) ByReason(c *gin.Context) {
	var q dto.ReasonQuery
	if !h.BindQuery(c, &q) {
		return
	}
	after, err := ledgerCursor(q.Cursor)
	if err != nil {
		h.Error(c, err)
		return
	}

	limit := pageLimit(q.Limit)
	rows, err := h.ledger.ListByReasonPrefix(c.Request.Context(), q.Prefix, after, limit)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewPage(rows, limit, dto.LedgerCursor))
}

func ledgerCursor(token string) (*ledger.Cursor, error) {
	at, last, ok, err := dto.DecodeCursor(token)
	if err != nil || !ok {
		return nil, err
	}
	return &ledger.Cursor{CreatedAt: at, ID: last}, nil
}

// pageLimit caps ledger pages at the service page size.
func pageLimit(n int) int {
	if n <= 0 || n > ledger.DefaultPageSize {
		return ledger.DefaultPageSize
	}
	return n
}
