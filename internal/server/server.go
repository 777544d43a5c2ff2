// Package server assembles the gin engine: middleware chain, REST and
// WebSocket routes, and the graceful-shutdown HTTP runner.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/novadex/swap-engine/internal/config"
	"github.com/novadex/swap-engine/internal/domain/ratelimit"
	"github.com/novadex/swap-engine/internal/handlers"
	"github.com/novadex/swap-engine/internal/metrics"
	"github.com/novadex/swap-engine/internal/middleware"
)

// shutdownTimeout bounds the HTTP drain once a termination signal
// arrives.
const shutdownTimeout = 30 * time.Second

// orderCreateBudget throttles order submission harder than reads; one
// client spraying creates must not exhaust the shared venue capacity.
var orderCreateBudget = ratelimit.Tier{Limit: 30, Window: time.Minute}

// Server is the HTTP front of the engine.
type Server interface {
	Setup()
	Start() error
	Router() *gin.Engine
}

// HTTPServer implements Server on gin.
type HTTPServer struct {
	router   *gin.Engine
	config   *config.Config
	logger   *zap.Logger
	services *Services
}

// Services holds the wired handlers and cross-cutting dependencies the
// router needs.
type Services struct {
	OrderHandler  *handlers.OrderHandler
	SystemHandler *handlers.SystemHandler
	WSHandler     *handlers.WSHandler

	// Limiter may be nil, which disables request throttling (tests).
	Limiter    ratelimit.Limiter
	RateLimits *ratelimit.Config

	Metrics *metrics.Metrics
}

// New creates a server instance.
func New(cfg *config.Config, svcs *Services, logger *zap.Logger) *HTTPServer {
	return &HTTPServer{
		config:   cfg,
		services: svcs,
		logger:   logger,
	}
}

// Setup initializes the router, middleware and routes.
func (s *HTTPServer) Setup() {
	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()
}

func (s *HTTPServer) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.RequestLogger(s.logger))

	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
}

func (s *HTTPServer) setupRoutes() {
	// Health and metrics stay outside the throttled group so load
	// balancer probes and scrapes never burn client budget.
	s.router.GET("/health", s.services.SystemHandler.Health)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		s.services.Metrics.Registry,
		promhttp.HandlerOpts{},
	)))

	api := s.router.Group("/api")
	if s.services.Limiter != nil {
		api.Use(middleware.RateLimit(s.services.Limiter, s.services.RateLimits))
		api.Use(middleware.PerRouteRateLimit(s.services.Limiter, map[string]ratelimit.Tier{
			"POST /api/orders": orderCreateBudget,
		}))
	}

	orders := api.Group("/orders")
	{
		orders.POST("", s.services.OrderHandler.Create)
		orders.GET("", s.services.OrderHandler.List)
		orders.GET("/count", s.services.OrderHandler.Count)
		orders.GET("/execute", s.services.WSHandler.Execute)
		orders.GET("/:id", s.services.OrderHandler.Get)
		orders.GET("/:id/history", s.services.OrderHandler.History)
		orders.DELETE("/:id", s.services.OrderHandler.Cancel)
	}

	api.GET("/venues", s.services.SystemHandler.Venues)
	api.GET("/queue/stats", s.services.SystemHandler.QueueStats)
}

// Start runs the listener until SIGINT or SIGTERM, then drains in-flight
// requests. The caller tears down the execution pipeline after Start
// returns, so workers keep settling jobs while the HTTP side closes.
func (s *HTTPServer) Start() error {
	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", s.config.Port),
		Handler:        s.router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		s.logger.Info("Starting server",
			zap.Int("port", s.config.Port),
			zap.String("environment", s.config.Environment),
		)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	s.logger.Info("Shutting down HTTP server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server drained")
	return nil
}

// Router returns the gin engine for testing.
func (s *HTTPServer) Router() *gin.Engine {
	return s.router
}
