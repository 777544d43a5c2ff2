// Package handlers exposes the HTTP and WebSocket surface of the
// engine. Every JSON body uses the same envelope: success, optional
// data, optional error with a stable machine-readable code.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/novadex/swap-engine/internal/domain/job"
	"github.com/novadex/swap-engine/internal/domain/order"
	"github.com/novadex/swap-engine/internal/domain/venue"
)

// Response is the common REST envelope.
type Response struct {
	Success bool           `json:"success"`
	Data    interface{}    `json:"data,omitempty"`
	Error   *ErrorResponse `json:"error,omitempty"`
	Message string         `json:"message,omitempty"`
}

// ErrorResponse carries a stable code plus a human-readable message.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func respondData(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

func respondError(c *gin.Context, status int, code, message, details string) {
	c.JSON(status, Response{
		Success: false,
		Error:   &ErrorResponse{Code: code, Message: message, Details: details},
	})
}

// respondDomainError maps domain sentinel errors onto HTTP statuses:
// validation 400, unknown order 404, terminal-state conflicts 409,
// unavailable dependencies 503, anything else 500.
func respondDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrValidation):
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid order request", err.Error())
	case errors.Is(err, order.ErrNotFound):
		respondError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "Order not found", "")
	case errors.Is(err, order.ErrTerminalState), errors.Is(err, order.ErrInvalidTransition):
		respondError(c, http.StatusConflict, "ORDER_TERMINAL", "Order is already settled", err.Error())
	case errors.Is(err, job.ErrUnavailable), errors.Is(err, venue.ErrUnavailable):
		respondError(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "A required backend is unavailable", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", "")
	}
}
