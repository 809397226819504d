// Package handlers implements the HTTP endpoints of the routine API: the
// generation trigger, routine lookup, the session channel in poll and SSE
// form, and the product catalog.
//
// Every error leaves through fail(), which writes the ErrorResponse envelope
// and logs 5xx with the request-scoped logger.
//
// Example error response:
//
//	HTTP/1.1 400 Bad Request
//	{
//	  "success": false,
//	  "error": "Validation failed",
//	  "code": "validation_failed",
//	  "details": ["skinType is required"],
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-routine-backend/internal/http/middleware"
)

// ErrorResponse is the error envelope of every endpoint.
type ErrorResponse struct {
	Success bool `json:"success" example:"false"`
	// Human-readable message, safe to show to users.
	Error string `json:"error" example:"Validation failed"`
	// Stable, machine-readable code (see errors.go).
	Code string `json:"code" example:"validation_failed"`
	// Per-field validation messages.
	Details   []string `json:"details,omitempty"`
	RequestID string   `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
}

// NotReadyResponse is returned by the lookup endpoint when no routine has
// been stored for the key yet.
type NotReadyResponse struct {
	Success bool   `json:"success" example:"false"`
	Message string `json:"message" example:"Routine not ready yet"`
}

// fail aborts with an ErrorResponse. 5xx are logged.
func fail(c *gin.Context, status int, code, msg string, details ...string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Str("errors", c.Errors.String()).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     msg,
		Code:      code,
		Details:   details,
		RequestID: middleware.RequestIDFrom(c),
	})
}

// Fail is the exported variant of fail, used by the router for NoRoute and
// NoMethod.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr maps a service error to its status, code and message. The error
// itself is recorded on the context for the access log but never echoed.
func failErr(c *gin.Context, err error) {
	_ = c.Error(err)
	status, code, msg := mapError(err)
	fail(c, status, code, msg)
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
