// Package services holds the routine orchestration logic that sits between
// the HTTP handlers and the stores, the catalog and the generation engine.
// This file centralizes the service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into HTTP status codes is performed at the handler layer.
package services

import (
	"errors"

	"github.com/tbourn/go-routine-backend/internal/channel"
	"github.com/tbourn/go-routine-backend/internal/domain"
)

// Input errors. They are returned before any external call is made.
var (
	// ErrInvalidKey is returned when skinType or skinConcern is empty after trim.
	ErrInvalidKey = domain.ErrInvalidKey

	// ErrInvalidSession is returned for a missing or malformed session id.
	ErrInvalidSession = errors.New("invalid session id")
)

// Generation errors. Each one ends a session with a terminal error event.
var (
	// ErrCatalogUnavailable indicates the product catalog could not be read.
	ErrCatalogUnavailable = errors.New("product catalog unavailable")

	// ErrNoProductsAvailable indicates the catalog returned no products.
	ErrNoProductsAvailable = errors.New("no products available")

	// ErrGenerationTimeout is returned when a run exceeds the generation
	// ceiling or the caller's deadline.
	ErrGenerationTimeout = errors.New("routine generation timed out")

	// ErrGenerationParseFailure is returned when the model output could not
	// be decoded even after repair.
	ErrGenerationParseFailure = errors.New("routine generation produced malformed output")

	// ErrVendor wraps failures of the hosted model.
	ErrVendor = errors.New("routine generator failed")

	// ErrGenerationCancelled is returned when the run was cancelled before
	// it produced a routine.
	ErrGenerationCancelled = errors.New("routine generation cancelled")
)

// Other errors.
var (
	// ErrDurabilityWriteFailure is recorded on an Outcome when a generated
	// routine was delivered but could not be stored. It is never fatal.
	ErrDurabilityWriteFailure = errors.New("durable store write failed")

	// ErrChannelUnavailable indicates the event channel store is unreachable.
	ErrChannelUnavailable = channel.ErrUnavailable

	// ErrRoutineNotReady is returned by Lookup when neither store has a
	// routine for the key.
	ErrRoutineNotReady = errors.New("routine not ready yet")

	// ErrSessionNotFound is returned for an unknown or expired session.
	ErrSessionNotFound = channel.ErrSessionNotFound

	// ErrSessionActive is returned when Start is called for a session that
	// is still generating.
	ErrSessionActive = errors.New("session is already generating")
)

// Notice codes carried by error and warning events.
const (
	CodeCatalogUnavailable    = "catalog_unavailable"
	CodeNoProducts            = "no_products_available"
	CodeGenerationTimeout     = "generation_timeout"
	CodeParseFailure          = "generation_parse_failure"
	CodeVendor                = "vendor_error"
	CodeCancelled             = "generation_cancelled"
	CodeDurabilityWriteFailed = "durability_write_failed"
	CodeInternal              = "internal_error"
)

// ErrorNotice maps err to the code and human message shown to clients.
// Vendor detail carried by err is never part of the message.
func ErrorNotice(err error) domain.Notice {
	switch {
	case errors.Is(err, ErrCatalogUnavailable):
		return domain.Notice{Code: CodeCatalogUnavailable, Message: "Product catalog is unavailable. Please try again later."}
	case errors.Is(err, ErrNoProductsAvailable):
		return domain.Notice{Code: CodeNoProducts, Message: "No products available"}
	case errors.Is(err, ErrGenerationTimeout):
		return domain.Notice{Code: CodeGenerationTimeout, Message: "Routine generation timed out"}
	case errors.Is(err, ErrGenerationParseFailure):
		return domain.Notice{Code: CodeParseFailure, Message: "The generated routine could not be read. Please try again."}
	case errors.Is(err, ErrVendor):
		return domain.Notice{Code: CodeVendor, Message: "The routine generator is unavailable right now. Please try again."}
	case errors.Is(err, ErrGenerationCancelled):
		return domain.Notice{Code: CodeCancelled, Message: "Routine generation was cancelled"}
	case errors.Is(err, ErrDurabilityWriteFailure):
		return domain.Notice{Code: CodeDurabilityWriteFailed, Message: "Your routine was generated but could not be saved."}
	default:
		return domain.Notice{Code: CodeInternal, Message: "Something went wrong while generating your routine."}
	}
}
