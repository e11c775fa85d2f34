package handlers

import (
	"github.com/gin-gonic/gin"

	"lotledger/internal/domain/batches"
	"lotledger/internal/domain/stockstatus"
	"lotledger/internal/infrastructure/http/v1/dto"
)

// StockHandler serves derived stock views.
type StockHandler struct {
	*BaseHandler
	stock             *stockstatus.Service
	defaultWithinDays int
}

// NewStockHandler creates a stock handler. defaultWithinDays applies when
// the expiring query omits withinDays.
func NewStockHandler(base *BaseHandler, svc *stockstatus.Service, defaultWithinDays int) *StockHandler {
	return &StockHandler{BaseHandler: base, stock: svc, defaultWithinDays: defaultWithinDays}
}

// RegisterRoutes mounts the handler.
func (h *StockHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/products/:productId/stock", h.Status)
	api.GET("/stock/expiring", h.Expiring)
	api.GET("/stock/reorder", h.Reorder)
}

// Status handles GET /products/:productId/stock.
func (h *StockHandler) Status(c *gin.Context) {
	productID, ok := h.ParamID(c, "productId")
	if !ok {
		return
	}

	status, err := h.stock.StockStatus(c.Request.Context(), productID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, status)
}

// Expiring handles GET /stock/expiring?withinDays=N.
func (h *StockHandler) Expiring(c *gin.Context) {
	var q dto.ExpiringQuery
	if !h.BindQuery(c, &q) {
		return
	}
	within := h.defaultWithinDays
	if q.WithinDays != nil {
		within = *q.WithinDays
	}

	list, err := batches.Collect(h.stock.ExpiringBatches(c.Request.Context(), within))
	if err != nil {
		h.Error(c, err)
		return
	}
	if list == nil {
		list = []batches.ProductBatch{}
	}
	h.OK(c, gin.H{"withinDays": within, "items": list})
}

// Reorder handles GET /stock/reorder.
func (h *StockHandler) Reorder(c *gin.Context) {
	items, err := h.stock.ReorderList(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	if items == nil {
		items = []stockstatus.ReorderItem{}
	}
	h.OK(c, gin.H{"items": items})
}
