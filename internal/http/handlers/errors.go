// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are stable, lowercase snake_case strings returned in the error
// envelope next to a human-readable message. Clients branch on the code; the
// message of product lookup failures is the text the scanning UI shows.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "product_not_found",
//	  "message": "Product not found in database. Please try another barcode."
//	}
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/tbourn/go-allergen-backend/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeTimeout          = "timeout"

	// Domain-specific:
	ErrCodeInvalidBarcode  = "invalid_barcode"
	ErrCodeProductNotFound = "product_not_found"
	ErrCodeNetwork         = "network_error"
	ErrCodeDecode          = "decode_error"
	ErrCodeUnknownAllergen = "unknown_allergen"
	ErrCodeScanSuperseded  = "scan_superseded"
)

// Messages shown verbatim by the scanning client.
const (
	msgProductNotFound = "Product not found in database. Please try another barcode."
	msgNetwork         = "No internet connection and no cached data available."
)

// classify maps a service error to (status, code, message).
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, services.ErrInvalidBarcode):
		return http.StatusBadRequest, ErrCodeInvalidBarcode, "barcode must be 1-32 digits"
	case errors.Is(err, services.ErrProductNotFound):
		return http.StatusNotFound, ErrCodeProductNotFound, msgProductNotFound
	case errors.Is(err, services.ErrNetwork):
		return http.StatusServiceUnavailable, ErrCodeNetwork, msgNetwork
	case errors.Is(err, services.ErrDecode):
		return http.StatusBadGateway, ErrCodeDecode, "An error occurred: " + err.Error()
	case errors.Is(err, services.ErrUnknownAllergen):
		return http.StatusBadRequest, ErrCodeUnknownAllergen, err.Error()
	case errors.Is(err, services.ErrScanSuperseded):
		return http.StatusConflict, ErrCodeScanSuperseded, err.Error()
	case errors.Is(err, services.ErrInvalidCustomAllergen),
		errors.Is(err, services.ErrInvalidHistoryRecord):
		return http.StatusBadRequest, ErrCodeBadRequest, err.Error()
	case errors.Is(err, services.ErrDuplicateCustomAllergen):
		return http.StatusConflict, ErrCodeConflict, err.Error()
	case errors.Is(err, services.ErrCustomAllergenNotFound):
		return http.StatusNotFound, ErrCodeNotFound, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeTimeout, "request timed out"
	default:
		return http.StatusInternalServerError, ErrCodeInternal, err.Error()
	}
}
