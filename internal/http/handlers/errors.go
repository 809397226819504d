package handlers

import (
	"errors"
	"net/http"

	"github.com/tbourn/go-routine-backend/internal/services"
)

// Error codes returned in ErrorResponse.Code. Generation failures reuse the
// notice codes of the session channel so that every delivery mode reports
// the same code for the same failure.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeInvalidJSON      = "invalid_json"
	ErrCodeValidation       = "validation_failed"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeSessionNotFound  = "session_not_found"
	ErrCodeSessionActive    = "session_active"
	ErrCodeChannel          = "channel_unavailable"
	ErrCodeInvalidProduct   = "invalid_product"
	ErrCodeInternal         = services.CodeInternal
)

// mapError translates a service error into status, code and user message.
func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, services.ErrInvalidKey):
		return http.StatusBadRequest, ErrCodeValidation, "Missing required parameters: skinType and skinConcern"
	case errors.Is(err, services.ErrInvalidSession):
		return http.StatusBadRequest, ErrCodeValidation, "Invalid session id"
	case errors.Is(err, services.ErrInvalidProduct):
		return http.StatusBadRequest, ErrCodeInvalidProduct, "Every product needs a url and a title"
	case errors.Is(err, services.ErrSessionNotFound):
		return http.StatusNotFound, ErrCodeSessionNotFound, "Session not found"
	case errors.Is(err, services.ErrSessionActive):
		return http.StatusConflict, ErrCodeSessionActive, "A generation is already running for this session"
	case errors.Is(err, services.ErrChannelUnavailable):
		return http.StatusServiceUnavailable, ErrCodeChannel, "Progress channel is unavailable. Please try again."
	}

	n := services.ErrorNotice(err)
	switch {
	case errors.Is(err, services.ErrNoProductsAvailable):
		return http.StatusNotFound, n.Code, n.Message
	case errors.Is(err, services.ErrCatalogUnavailable):
		return http.StatusServiceUnavailable, n.Code, n.Message
	case errors.Is(err, services.ErrGenerationTimeout):
		return http.StatusRequestTimeout, n.Code, n.Message
	case errors.Is(err, services.ErrVendor):
		return http.StatusBadGateway, n.Code, n.Message
	case errors.Is(err, services.ErrGenerationParseFailure):
		return http.StatusBadGateway, n.Code, n.Message
	case errors.Is(err, services.ErrGenerationCancelled):
		// nginx's "client closed request"; only reaches logs in practice.
		return 499, n.Code, n.Message
	}
	return http.StatusInternalServerError, ErrCodeInternal, "Internal server error"
}
