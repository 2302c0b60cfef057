// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/school-billing/internal/shared"
)

// ErrValidation marks malformed request payloads rejected before they reach the ledger.
var ErrValidation = errors.New("validation failed")

// RetryAfterSeconds is advertised on 503 responses caused by write contention.
const RetryAfterSeconds = "1"

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, shared.ErrIdempotencyMismatch):
		Problem(w, http.StatusUnprocessableEntity, "Idempotency Key Reused", err.Error())
	case errors.Is(err, shared.ErrInvalidInput):
		Problem(w, http.StatusUnprocessableEntity, "Invalid Input", err.Error())
	case errors.Is(err, shared.ErrInvalidState):
		Problem(w, http.StatusUnprocessableEntity, "Invalid State", err.Error())
	case errors.Is(err, shared.ErrConcurrencyConflict):
		w.Header().Set("Retry-After", RetryAfterSeconds)
		Problem(w, http.StatusServiceUnavailable, "Concurrency Conflict", "concurrent update, retry the request")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
