package handlers

import (
	"github.com/gin-gonic/gin"

	"lotledger/internal/domain/adjuster"
	"lotledger/internal/domain/batches"
	"lotledger/internal/infrastructure/http/v1/dto"
)

// BatchesHandler serves batch lifecycle endpoints.
type BatchesHandler struct {
	*BaseHandler
	adjuster *adjuster.Adjuster
	batches  *batches.Service
}

// NewBatchesHandler creates a batches handler.
func NewBatchesHandler(base *BaseHandler, adj *adjuster.Adjuster, svc *batches.Service) *BatchesHandler {
	return &BatchesHandler{BaseHandler: base, adjuster: adj, batches: svc}
}

// RegisterRoutes mounts the handler.
func (h *BatchesHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/batches", h.Create)
	api.GET("/batches/:batchId", h.Get)
	api.DELETE("/batches/:batchId", h.Delete)
	api.GET("/products/:productId/batches", h.ListByProduct)
}

// Create handles POST /batches. The initial quantity is journaled.
func (h *BatchesHandler) Create(c *gin.Context) {
	var req dto.CreateBatchRequest
	if !h.BindJSON(c, &req) {
		return
	}

	res, err := h.adjuster.CreateBatch(c.Request.Context(), req.ToDomain())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromResult(res))
}

// Get handles GET /batches/:batchId.
func (h *BatchesHandler) Get(c *gin.Context) {
	batchID, ok := h.ParamID(c, "batchId")
	if !ok {
		return
	}

	b, err := h.batches.GetBatch(c.Request.Context(), batchID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, b)
}

// Delete handles DELETE /batches/:batchId. Only empty batches can be deleted.
func (h *BatchesHandler) Delete(c *gin.Context) {
	batchID, ok := h.ParamID(c, "batchId")
	if !ok {
		return
	}

	if err := h.adjuster.DeleteBatch(c.Request.Context(), batchID); err != nil {
		h.Error(c, err)
		return
	}
	h.NoContent(c)
}

// ListByProduct handles GET /products/:productId/batches in FIFO order.
func (h *BatchesHandler) ListByProduct(c *gin.Context) {
	productID, ok := h.ParamID(c, "productId")
	if !ok {
		return
	}
	var page dto.PageRequest
	if !h.BindQuery(c, &page) {
		return
	}

	at, last, hasCursor, err := dto.DecodeCursor(page.Cursor)
	if err != nil {
		h.Error(c, err)
		return
	}
	var after *batches.Cursor
	if hasCursor {
		after = &batches.Cursor{CreatedAt: at, ID: last}
	}

	limit := page.Limit
	if limit == 0 {
		limit = batches.DefaultPageSize
	}
	list, err := h.batches.ListBatches(c.Request.Context(), productID, after, limit)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewPage(list, limit, dto.BatchCursor))
}
