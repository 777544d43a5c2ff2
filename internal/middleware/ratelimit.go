package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/novadex/swap-engine/internal/domain/ratelimit"
)

// RateLimit enforces the service-wide budget, then the caller's
// per-IP budget. Requests are refused when the limiter backend is
// unreachable: an engine that cannot meter order flow should not
// accept it.
func RateLimit(limiter ratelimit.Limiter, cfg *ratelimit.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		global, err := limiter.Check(c.Request.Context(), "global", cfg.Global.Limit, cfg.Global.Window)
		if err != nil {
			abortLimiterUnavailable(c)
			return
		}
		if !global.Allowed {
			setRateLimitHeaders(c, global)
			rejectThrottled(c, global, "GLOBAL_RATE_LIMIT_EXCEEDED", "Service request budget exhausted")
			return
		}

		result, err := limiter.Check(c.Request.Context(), "ip:"+c.ClientIP(), cfg.PerIP.Limit, cfg.PerIP.Window)
		if err != nil {
			abortLimiterUnavailable(c)
			return
		}

		setRateLimitHeaders(c, result)
		if !result.Allowed {
			rejectThrottled(c, result, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded")
			return
		}

		c.Next()
	}
}

// PerRouteRateLimit applies tighter budgets to specific routes, keyed
// by method and route template, e.g. "POST /api/orders". Routes
// without an entry pass through untouched.
func PerRouteRateLimit(limiter ratelimit.Limiter, routes map[string]ratelimit.Tier) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.Request.Method + " " + c.FullPath()
		tier, ok := routes[route]
		if !ok {
			c.Next()
			return
		}

		key := fmt.Sprintf("route:%s:ip:%s", route, c.ClientIP())
		result, err := limiter.Check(c.Request.Context(), key, tier.Limit, tier.Window)
		if err != nil {
			abortLimiterUnavailable(c)
			return
		}

		setRateLimitHeaders(c, result)
		if !result.Allowed {
			rejectThrottled(c, result, "ROUTE_RATE_LIMIT_EXCEEDED", fmt.Sprintf("Rate limit exceeded for %s", route))
			return
		}

		c.Next()
	}
}

func abortLimiterUnavailable(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
		"success": false,
		"error": gin.H{
			"code":    "RATE_LIMIT_ERROR",
			"message": "Rate limiting service unavailable",
		},
	})
}

func rejectThrottled(c *gin.Context, result *ratelimit.Result, code, message string) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"success": false,
		"error": gin.H{
			"code":        code,
			"message":     message,
			"limit":       result.Limit,
			"remaining":   result.Remaining,
			"reset_at":    result.ResetTime.Unix(),
			"retry_after": int(result.RetryAfter.Seconds()),
		},
	})
}

func setRateLimitHeaders(c *gin.Context, result *ratelimit.Result) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))

	if result.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
	}
}
