// Package openfoodfacts fetches product data from the Open Food Facts v0 API
// and maps it onto domain.Product.
//
// Successful payloads are cached raw so that a later lookup of the same
// barcode can still be answered while the upstream is unreachable.
package openfoodfacts

import "errors"

var (
	// ErrProductNotFound means the upstream has no product for the barcode.
	ErrProductNotFound = errors.New("product not found")

	// ErrNetwork means the upstream could not be reached (or answered with an
	// unexpected status) and no cached payload was available.
	ErrNetwork = errors.New("product source unreachable")

	// ErrDecode means the payload was not valid product JSON.
	ErrDecode = errors.New("malformed product payload")

	// ErrInvalidBarcode is returned for empty or non-digit barcodes before any
	// request is made.
	ErrInvalidBarcode = errors.New("invalid barcode")
)
