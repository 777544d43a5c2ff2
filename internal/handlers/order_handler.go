package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/novadex/swap-engine/internal/domain/audit"
	"github.com/novadex/swap-engine/internal/domain/job"
	"github.com/novadex/swap-engine/internal/domain/order"
)

// OrderService is the slice of the order service the REST handlers
// consume.
type OrderService interface {
	Create(ctx context.Context, in order.CreateInput) (*order.Order, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	List(ctx context.Context, filter order.Filter) ([]*order.Order, int64, error)
	Count(ctx context.Context, filter order.Filter) (int64, error)
	Cancel(ctx context.Context, id string) (*order.Order, error)
	History(ctx context.Context, id string) ([]*audit.Record, error)
	QueueStats(ctx context.Context) (job.Counts, error)
}

// OrderHandler handles the order REST endpoints.
type OrderHandler struct {
	orders OrderService
	logger *zap.Logger
}

// NewOrderHandler creates an order handler.
func NewOrderHandler(orders OrderService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger}
}

// Create handles POST /api/orders.
func (h *OrderHandler) Create(c *gin.Context) {
	var in order.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", err.Error())
		return
	}

	o, err := h.orders.Create(c.Request.Context(), in)
	if err != nil {
		h.logCreateFailure(in, err)
		respondDomainError(c, err)
		return
	}

	respondData(c, http.StatusCreated, o)
}

func (h *OrderHandler) logCreateFailure(in order.CreateInput, err error) {
	h.logger.Warn("order creation rejected",
		zap.String("token_in", in.TokenIn),
		zap.String("token_out", in.TokenOut),
		zap.Error(err),
	)
}

// Get handles GET /api/orders/:id.
func (h *OrderHandler) Get(c *gin.Context) {
	o, err := h.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondData(c, http.StatusOK, o)
}

// ListOrdersResponse carries one page of orders plus the total count
// of orders matching the filter.
type ListOrdersResponse struct {
	Success bool           `json:"success"`
	Data    []*order.Order `json:"data"`
	Count   int64          `json:"count"`
}

// List handles GET /api/orders.
func (h *OrderHandler) List(c *gin.Context) {
	filter, ok := h.parseFilter(c)
	if !ok {
		return
	}

	orders, total, err := h.orders.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("order listing failed", zap.Error(err))
		respondDomainError(c, err)
		return
	}
	if orders == nil {
		orders = []*order.Order{}
	}

	c.JSON(http.StatusOK, ListOrdersResponse{Success: true, Data: orders, Count: total})
}

// CountResponse reports how many orders match a filter.
type CountResponse struct {
	Count int64 `json:"count"`
}

// Count handles GET /api/orders/count.
func (h *OrderHandler) Count(c *gin.Context) {
	filter, ok := h.parseFilter(c)
	if !ok {
		return
	}

	count, err := h.orders.Count(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("order count failed", zap.Error(err))
		respondDomainError(c, err)
		return
	}

	respondData(c, http.StatusOK, CountResponse{Count: count})
}

// History handles GET /api/orders/:id/history.
func (h *OrderHandler) History(c *gin.Context) {
	records, err := h.orders.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondDomainError(c, err)
		return
	}
	if records == nil {
		records = []*audit.Record{}
	}
	respondData(c, http.StatusOK, records)
}

// Cancel handles DELETE /api/orders/:id. Cancelling an already
// cancelled order succeeds; completed or failed orders conflict.
func (h *OrderHandler) Cancel(c *gin.Context) {
	o, err := h.orders.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    o,
		Message: "Order cancelled",
	})
}

func (h *OrderHandler) parseFilter(c *gin.Context) (order.Filter, bool) {
	var filter order.Filter

	if raw := c.Query("status"); raw != "" {
		status := order.Status(raw)
		if !status.Valid() {
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown status", raw)
			return filter, false
		}
		filter.Status = &status
	}
	filter.TokenIn = c.Query("tokenIn")
	filter.TokenOut = c.Query("tokenOut")

	limit, ok := parseIntQuery(c, "limit")
	if !ok {
		return filter, false
	}
	offset, ok := parseIntQuery(c, "offset")
	if !ok {
		return filter, false
	}
	filter.Limit = limit
	filter.Offset = offset

	return filter, true
}

func parseIntQuery(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid "+name, raw)
		return 0, false
	}
	return v, true
}
