package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novadex/swap-engine/internal/middleware"
)

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(seen *string) *gin.Engine {
		router := gin.New()
		router.Use(middleware.RequestID())
		router.GET("/", func(c *gin.Context) {
			*seen = c.GetString(middleware.RequestIDKey)
			c.Status(http.StatusOK)
		})
		return router
	}

	t.Run("generates an ID when absent", func(t *testing.T) {
		var seen string
		router := newRouter(&seen)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

		header := w.Header().Get(middleware.RequestIDHeader)
		require.NotEmpty(t, header)
		assert.Equal(t, header, seen)

		_, err := uuid.Parse(header)
		assert.NoError(t, err)
	})

	t.Run("honors a caller-supplied ID", func(t *testing.T) {
		var seen string
		router := newRouter(&seen)

		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(middleware.RequestIDHeader, "upstream-trace-7")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, "upstream-trace-7", w.Header().Get(middleware.RequestIDHeader))
		assert.Equal(t, "upstream-trace-7", seen)
	})
}
