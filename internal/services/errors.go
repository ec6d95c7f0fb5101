// Package services defines the business logic for scanning products, the
// scan history, and user allergen settings. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"

	"github.com/tbourn/go-allergen-backend/internal/domain"
	"github.com/tbourn/go-allergen-backend/internal/openfoodfacts"
)

// Scan-related errors. The product errors alias the product source's own
// sentinels so errors.Is works across both packages.
var (
	// ErrInvalidBarcode is returned for empty or non-numeric barcodes.
	ErrInvalidBarcode = openfoodfacts.ErrInvalidBarcode

	// ErrProductNotFound means the product source has no such product.
	ErrProductNotFound = openfoodfacts.ErrProductNotFound

	// ErrNetwork means the product source was unreachable and nothing was
	// cached for the barcode.
	ErrNetwork = openfoodfacts.ErrNetwork

	// ErrDecode means the product source answered with a malformed payload.
	ErrDecode = openfoodfacts.ErrDecode

	// ErrScanSuperseded is returned to a scan whose result arrived after a
	// newer scan for the same user had started. Its outcome is discarded.
	ErrScanSuperseded = errors.New("scan superseded by a newer request")
)

// Settings-related errors.
var (
	// ErrUnknownAllergen is returned when a request names an allergen that is
	// not in the catalog.
	ErrUnknownAllergen = domain.ErrUnknownAllergen

	// ErrInvalidCustomAllergen is returned for blank or over-long names.
	ErrInvalidCustomAllergen = errors.New("custom allergen name must be 1-64 characters")

	// ErrDuplicateCustomAllergen is returned when the user already has a
	// custom allergen with the same name (case-insensitive).
	ErrDuplicateCustomAllergen = errors.New("custom allergen already exists")

	// ErrCustomAllergenNotFound indicates that the custom allergen does not
	// exist or is not owned by the current user.
	ErrCustomAllergenNotFound = errors.New("custom allergen not found")
)

// History-related errors.
var (
	// ErrInvalidHistoryRecord is returned by Merge for records without a
	// barcode.
	ErrInvalidHistoryRecord = errors.New("history record must carry a barcode")
)
