package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// slowRequestThreshold marks requests worth a warning even when they
// succeed.
const slowRequestThreshold = time.Second

// RequestLogger logs one line per request: method, route, status,
// latency, client IP and correlation ID. Server errors log at error
// level, slow requests at warn.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Int64("latency_ms", latency.Milliseconds()),
			zap.String("ip", c.ClientIP()),
		}
		if query != "" {
			fields = append(fields, zap.String("query", query))
		}
		if id, ok := c.Get(RequestIDKey); ok {
			fields = append(fields, zap.Any(RequestIDKey, id))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case status >= 500:
			logger.Error("HTTP request", fields...)
		case latency > slowRequestThreshold:
			logger.Warn("Slow HTTP request", fields...)
		default:
			logger.Info("HTTP request", fields...)
		}
	}
}
