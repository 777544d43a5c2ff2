package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/novadex/swap-engine/internal/config"
	"github.com/novadex/swap-engine/internal/domain/venue"
)

// componentTimeout bounds each dependency ping so a wedged backend
// cannot stall the health endpoint.
const componentTimeout = 2 * time.Second

// Pinger reports whether a backing component is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

// Ping calls f.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// VenueDirectory lists the configured venues with health state.
type VenueDirectory interface {
	VenueInfos(ctx context.Context) []venue.Info
}

// SystemHandler serves health and observability endpoints.
type SystemHandler struct {
	cfg    *config.Config
	db     Pinger
	redis  Pinger
	venues VenueDirectory
	orders OrderService
	logger *zap.Logger
}

// NewSystemHandler creates a system handler.
func NewSystemHandler(cfg *config.Config, db, redis Pinger, venues VenueDirectory, orders OrderService, logger *zap.Logger) *SystemHandler {
	return &SystemHandler{
		cfg:    cfg,
		db:     db,
		redis:  redis,
		venues: venues,
		orders: orders,
		logger: logger,
	}
}

// Health handles GET /health. Reports 200 while every component
// responds, 503 as soon as one does not.
func (h *SystemHandler) Health(c *gin.Context) {
	components := gin.H{
		"database": h.componentState(c.Request.Context(), "database", h.db),
		"redis":    h.componentState(c.Request.Context(), "redis", h.redis),
	}

	status := http.StatusOK
	overall := "healthy"
	for _, state := range components {
		if state != "up" {
			status = http.StatusServiceUnavailable
			overall = "degraded"
		}
	}

	c.JSON(status, gin.H{
		"status":     overall,
		"version":    h.cfg.Version,
		"uptime":     time.Since(h.cfg.StartTime).Seconds(),
		"components": components,
		"timestamp":  time.Now().UTC(),
	})
}

func (h *SystemHandler) componentState(ctx context.Context, name string, p Pinger) string {
	pingCtx, cancel := context.WithTimeout(ctx, componentTimeout)
	defer cancel()

	if err := p.Ping(pingCtx); err != nil {
		h.logger.Warn("component ping failed", zap.String("component", name), zap.Error(err))
		return "down"
	}
	return "up"
}

// Venues handles GET /api/venues.
func (h *SystemHandler) Venues(c *gin.Context) {
	respondData(c, http.StatusOK, h.venues.VenueInfos(c.Request.Context()))
}

// QueueStats handles GET /api/queue/stats.
func (h *SystemHandler) QueueStats(c *gin.Context) {
	counts, err := h.orders.QueueStats(c.Request.Context())
	if err != nil {
		h.logger.Error("queue stats failed", zap.Error(err))
		respondDomainError(c, err)
		return
	}
	respondData(c, http.StatusOK, counts)
}
