package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDKey is the gin context key carrying the request ID.
const RequestIDKey = "request_id"

// RequestIDHeader is the wire header for request correlation.
const RequestIDHeader = "X-Request-ID"

// RequestID tags every request with a correlation ID. A caller-supplied
// X-Request-ID is honored so upstream proxies can trace through; missing
// ones are generated.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Request.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}
