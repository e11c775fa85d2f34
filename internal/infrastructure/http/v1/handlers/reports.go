package handlers

import (
	"github.com/gin-gonic/gin"

	"lotledger/internal/domain/reports"
	"lotledger/internal/infrastructure/http/v1/dto"
)

// ReportsHandler serves profitability and reconciliation reports.
type ReportsHandler struct {
	*BaseHandler
	service *reports.Service
}

// NewReportsHandler creates a reports handler.
func NewReportsHandler(base *BaseHandler, service *reports.Service) *ReportsHandler {
	return &ReportsHandler{BaseHandler: base, service: service}
}

// RegisterRoutes mounts the handler.
func (h *ReportsHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/reports/profit-margin", h.ProfitMargin)
	api.GET("/products/:productId/profit-margin", h.ProductProfitMargin)
	api.GET("/products/:productId/reconciliation", h.Reconcile)
}

// ProfitMargin handles GET /reports/profit-margin?from=&to=&productId=
func (h *ReportsHandler) ProfitMargin(c *gin.Context) {
	var q dto.ProfitMarginQuery
	if !h.BindQuery(c, &q) {
		return
	}
	filter, err := q.ToFilter()
	if err != nil {
		h.Error(c, err)
		return
	}

	report, err := h.service.ProfitMarginReport(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, report)
}

// ProductProfitMargin handles GET /products/:productId/profit-margin over all history.
func (h *ReportsHandler) ProductProfitMargin(c *gin.Context) {
	productID, ok := h.ParamID(c, "productId")
	if !ok {
		return
	}

	report, err := h.service.ProductProfitMargin(c.Request.Context(), productID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, report)
}

// Reconcile handles GET /products/:productId/reconciliation.
func (h *ReportsHandler) Reconcile(c *gin.Context) {
	productID, ok := h.ParamID(c, "productId")
	if !ok {
		return
	}

	rec, err := h.service.Reconcile(c.Request.Context(), productID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, gin.H{
		"productId":  rec.ProductID,
		"batches":    rec.Batches,
		"mismatches": rec.Mismatches,
		"consistent": rec.Consistent(),
	})
}
