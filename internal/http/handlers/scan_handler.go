// Scan HTTP handlers.
//
//   - POST /scans          (fetch + resolve + record; Idempotency-Key aware)
//   - GET  /scans/state    (current scan snapshot)
//   - POST /check          (resolve a caller-supplied product, nothing recorded)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-allergen-backend/internal/allergen"
	"github.com/tbourn/go-allergen-backend/internal/domain"
	"github.com/tbourn/go-allergen-backend/internal/services"
)

//
// DTOs
//

// ScanRequest is the JSON payload for a scan.
type ScanRequest struct {
	// Barcode is the scanned EAN/UPC digits.
	Barcode string `json:"barcode" binding:"required" example:"3017620422003"`
}

// CheckOverride replaces the stored preferences for one check.
type CheckOverride struct {
	SelectedAllergens []string `json:"selected_allergens" example:"dairy,soy"`
	CustomAllergens   []string `json:"custom_allergens" example:"coconut"`
}

// CheckRequest is the JSON payload for an ad-hoc check.
type CheckRequest struct {
	Product domain.Product `json:"product"`
	// Override, when present, is used instead of the caller's saved settings.
	Override *CheckOverride `json:"override,omitempty"`
}

// CheckResponse carries the verdict of an ad-hoc check.
type CheckResponse struct {
	Result  allergen.Result `json:"result"`
	Summary string          `json:"summary" example:"Bar is safe to eat!"`
}

//
// Handlers
//

// PostScan godoc
// @ID          postScan
// @Summary     Scan a barcode
// @Description Fetches the product, resolves it against the caller's allergens and records it in history.
// @Description Retries carrying the same Idempotency-Key replay the stored response with Idempotency-Replayed: true.
// @Tags        Scans
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID"          example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key"  example(scan-7f1c)
// @Param       body             body    handlers.ScanRequest  true  "Barcode"
//
// @Success     200  {object}  services.ScanOutcome
// @Header      200  {string}  Idempotency-Replayed "true when served from a stored response"
// @Failure     400  {object}  handlers.ErrorResponse "Invalid barcode"
// @Failure     404  {object}  handlers.ErrorResponse "Product not found"
// @Failure     409  {object}  handlers.ErrorResponse "Superseded by a newer scan"
// @Failure     429  {object}  handlers.ErrorResponse "Rate limited"
// @Failure     502  {object}  handlers.ErrorResponse "Malformed upstream data"
// @Failure     503  {object}  handlers.ErrorResponse "Offline and not cached"
// @Router      /scans [post]
func (h *Handlers) PostScan(c *gin.Context) {
	if h.replayStored(c) {
		return
	}

	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "barcode required")
		return
	}

	out, err := h.scanSvc.Scan(c.Request.Context(), userID(c), strings.TrimSpace(req.Barcode))
	if err != nil {
		failErr(c, err)
		return
	}
	h.respondStored(c, http.StatusOK, out)
}

// GetScanState godoc
// @ID          getScanState
// @Summary     Current scan state
// @Description Returns the caller's scan workflow snapshot. The last resolved verdict is kept while a newer scan is loading or failed.
// @Tags        Scans
// @Produce     json
// @Param       X-User-ID header string false "User ID" example(user123)
// @Success     200 {object} services.ScanState
// @Router      /scans/state [get]
func (h *Handlers) GetScanState(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	ok(c, http.StatusOK, h.scanSvc.State(userID(c)))
}

// CheckProduct godoc
// @ID          checkProduct
// @Summary     Check a product
// @Description Resolves a caller-supplied product against the caller's allergens, or against an explicit override. Nothing is recorded.
// @Tags        Scans
// @Accept      json
// @Produce     json
// @Param       X-User-ID header string false "User ID" example(user123)
// @Param       body      body   handlers.CheckRequest true "Product and optional preference override"
// @Success     200 {object} handlers.CheckResponse
// @Failure     400 {object} handlers.ErrorResponse "Bad request or unknown allergen"
// @Failure     500 {object} handlers.ErrorResponse "Internal error"
// @Router      /check [post]
func (h *Handlers) CheckProduct(c *gin.Context) {
	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	var override *services.Preferences
	if req.Override != nil {
		selected, err := domain.ParseAllergens(req.Override.SelectedAllergens)
		if err != nil {
			failErr(c, err)
			return
		}
		override = &services.Preferences{Selected: selected, Custom: req.Override.CustomAllergens}
	}

	res, err := h.scanSvc.Check(c.Request.Context(), userID(c), req.Product, override)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, CheckResponse{Result: res, Summary: res.Summary()})
}
