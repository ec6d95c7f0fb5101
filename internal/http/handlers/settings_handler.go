// Settings and custom allergen HTTP handlers.
//
//   - GET    /settings
//   - PUT    /settings/allergens
//   - PUT    /settings/onboarding
//   - PUT    /sync/settings               (last-write-wins reconciliation)
//   - GET    /custom-allergens
//   - POST   /custom-allergens
//   - PATCH  /custom-allergens/{id}
//   - DELETE /custom-allergens/{id}
package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-allergen-backend/internal/domain"
)

//
// DTOs
//

// SettingsResponse is the caller's full preference set.
type SettingsResponse struct {
	SelectedAllergens   domain.AllergenSet      `json:"selected_allergens"`
	OnboardingCompleted bool                    `json:"onboarding_completed"`
	UpdatedAt           time.Time               `json:"updated_at"`
	CustomAllergens     []domain.CustomAllergen `json:"custom_allergens"`
}

// SelectAllergensRequest replaces the selected categories.
type SelectAllergensRequest struct {
	Allergens []string `json:"allergens" example:"dairy,peanuts"`
}

// SyncSettingsRequest is a settings snapshot from another device.
type SyncSettingsRequest struct {
	SelectedAllergens   []string  `json:"selected_allergens" example:"gluten"`
	OnboardingCompleted bool      `json:"onboarding_completed"`
	UpdatedAt           time.Time `json:"updated_at" binding:"required" example:"2025-03-01T12:00:00Z"`
}

// SyncSettingsResponse reports the stored settings and whether the incoming
// snapshot won.
type SyncSettingsResponse struct {
	Settings *domain.UserSettings `json:"settings"`
	Applied  bool                 `json:"applied"`
}

// CustomAllergenRequest creates a custom allergen.
type CustomAllergenRequest struct {
	Name string `json:"name" binding:"required" example:"coconut"`
}

// UpdateCustomAllergenRequest renames and/or toggles a custom allergen.
type UpdateCustomAllergenRequest struct {
	Name    *string `json:"name,omitempty" example:"coconut oil"`
	Enabled *bool   `json:"enabled,omitempty" example:"false"`
}

//
// Handlers
//

// GetSettings godoc
// @ID          getSettings
// @Summary     Get settings
// @Description Returns selected allergens, onboarding state and custom allergens.
// @Tags        Settings
// @Produce     json
// @Param       X-User-ID header string false "User ID" example(user123)
// @Success     200 {object} handlers.SettingsResponse
// @Failure     500 {object} handlers.ErrorResponse "Internal error"
// @Router      /settings [get]
func (h *Handlers) GetSettings(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	st, err := h.settingsSvc.Get(ctx, uid)
	if err != nil {
		failErr(c, err)
		return
	}
	custom, err := h.settingsSvc.ListCustomAllergens(ctx, uid)
	if err != nil {
		failErr(c, err)
		return
	}
	if custom == nil {
		custom = []domain.CustomAllergen{}
	}
	ok(c, http.StatusOK, SettingsResponse{
		SelectedAllergens:   st.SelectedAllergens,
		OnboardingCompleted: st.OnboardingCompleted,
		UpdatedAt:           st.UpdatedAt,
		CustomAllergens:     custom,
	})
}

// PutSelectedAllergens godoc
// @ID          putSelectedAllergens
// @Summary     Replace selected allergens
// @Description Unknown ids are rejected and nothing is changed.
// @Tags        Settings
// @Accept      json
// @Produce     json
// @Param       X-User-ID header string false "User ID" example(user123)
// @Param       body      body   handlers.SelectAllergensRequest true "Allergen ids"
// @Success     200 {object} domain.UserSettings
// @Failure     400 {object} handlers.ErrorResponse "Unknown allergen"
// @Failure     500 {object} handlers.ErrorResponse "Internal error"
// @Router      /settings/allergens [put]
func (h *Handlers) PutSelectedAllergens(c *gin.Context) {
	var req SelectAllergensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	st, err := h.settingsSvc.SetSelectedAllergens(c.Request.Context(), userID(c), req.Allergens)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// CompleteOnboarding godoc
// @ID          completeOnboarding
// @Summary     Mark onboarding completed
// @Tags        Settings
// @Produce     json
// @Param       X-User-ID header string false "User ID" example(user123)
// @Success     200 {object} domain.UserSettings
// @Failure     500 {object} handlers.ErrorResponse "Internal error"
// @Router      /settings/onboarding [put]
func (h *Handlers) CompleteOnboarding(c *gin.Context) {
	st, err := h.settingsSvc.CompleteOnboarding(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// SyncSettings godoc
// @ID          syncSettings
// @Summary     Reconcile settings from another device
// @Description The snapshot replaces the stored settings only when its updated_at is strictly newer.
// @Tags        Sync
// @Accept      json
// @Produce     json
// @Param       X-User-ID header string false "User ID" example(user123)
// @Param       body      body   handlers.SyncSettingsRequest true "Remote snapshot"
// @Success     200 {object} handlers.SyncSettingsResponse
// @Failure     400 {object} handlers.ErrorResponse "Bad request or unknown allergen"
// @Failure     500 {object} handlers.ErrorResponse "Internal error"
// @Router      /sync/settings [put]
func (h *Handlers) SyncSettings(c *gin.Context) {
	var req SyncSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UpdatedAt.IsZero() {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "updated_at required")
		return
	}
	selected, err := domain.ParseAllergens(req.SelectedAllergens)
	if err != nil {
		failErr(c, err)
		return
	}
	st, applied, err := h.settingsSvc.Reconcile(c.Request.Context(), userID(c), domain.UserSettings{
		SelectedAllergens:   domain.AllergenSet(selected),
		OnboardingCompleted: req.OnboardingCompleted,
		UpdatedAt:           req.UpdatedAt,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, SyncSettingsResponse{Settings: st, Applied: applied})
}

// ListCustomAllergens godoc
// @ID          listCustomAllergens
// @Summary     List custom allergens
// @Tags        Custom allergens
// @Produce     json
// @Param       X-User-ID      header string false "User ID"                    example(user123)
// @Param       If-None-Match  header string false "Return 304 if ETag matches"
// @Success     200 {array}  domain.CustomAllergen
// @Success     304 {string} string "Not Modified"
// @Failure     500 {object} handlers.ErrorResponse "Internal error"
// @Router      /custom-allergens [get]
func (h *Handlers) ListCustomAllergens(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	if count, maxTS, err := h.settingsSvc.CustomAllergenStats(ctx, uid); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		if notModified(c, fmt.Sprintf(`W/"custom:%s:%d:%d"`, uid, count, ts)) {
			return
		}
	}

	items, err := h.settingsSvc.ListCustomAllergens(ctx, uid)
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.CustomAllergen{}
	}
	ok(c, http.StatusOK, items)
}

// CreateCustomAllergen godoc
// @ID          createCustomAllergen
// @Summary     Add a custom allergen
// @Description Names are trimmed, 1-64 characters, and unique per user ignoring case.
// @Tags        Custom allergens
// @Accept      json
// @Produce     json
// @Param       X-User-ID        header string false "User ID"         example(user123)
// @Param       Idempotency-Key  header string false "Idempotency key" example(add-coconut)
// @Param       body             body   handlers.CustomAllergenRequest true "Name"
// @Success     201 {object} domain.CustomAllergen
// @Failure     400 {object} handlers.ErrorResponse "Invalid name"
// @Failure     409 {object} handlers.ErrorResponse "Already exists"
// @Failure     500 {object} handlers.ErrorResponse "Internal error"
// @Router      /custom-allergens [post]
func (h *Handlers) CreateCustomAllergen(c *gin.Context) {
	if h.replayStored(c) {
		return
	}
	var req CustomAllergenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name required")
		return
	}
	a, err := h.settingsSvc.AddCustomAllergen(c.Request.Context(), userID(c), req.Name)
	if err != nil {
		failErr(c, err)
		return
	}
	h.respondStored(c, http.StatusCreated, a)
}

// UpdateCustomAllergen godoc
// @ID          updateCustomAllergen
// @Summary     Rename or toggle a custom allergen
// @Tags        Custom allergens
// @Accept      json
// @Produce     json
// @Param       X-User-ID header string false "User ID" example(user123)
// @Param       id        path   string true  "Custom allergen ID" format(uuid)
// @Param       body      body   handlers.UpdateCustomAllergenRequest true "Changes"
// @Success     200 {object} domain.CustomAllergen
// @Failure     400 {object} handlers.ErrorResponse "Bad request"
// @Failure     404 {object} handlers.ErrorResponse "Not found"
// @Failure     409 {object} handlers.ErrorResponse "Name already used"
// @Failure     500 {object} handlers.ErrorResponse "Internal error"
// @Router      /custom-allergens/{id} [patch]
func (h *Handlers) UpdateCustomAllergen(c *gin.Context) {
	var req UpdateCustomAllergenRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.Name == nil && req.Enabled == nil) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name or enabled required")
		return
	}
	a, err := h.settingsSvc.UpdateCustomAllergen(c.Request.Context(), userID(c), strings.TrimSpace(c.Param("id")), req.Name, req.Enabled)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}

// DeleteCustomAllergen godoc
// @ID          deleteCustomAllergen
// @Summary     Delete a custom allergen
// @Tags        Custom allergens
// @Param       X-User-ID header string false "User ID" example(user123)
// @Param       id        path   string true  "Custom allergen ID" format(uuid)
// @Success     204 {string} string "No Content"
// @Failure     404 {object} handlers.ErrorResponse "Not found"
// @Failure     500 {object} handlers.ErrorResponse "Internal error"
// @Router      /custom-allergens/{id} [delete]
func (h *Handlers) DeleteCustomAllergen(c *gin.Context) {
	if err := h.settingsSvc.DeleteCustomAllergen(c.Request.Context(), userID(c), strings.TrimSpace(c.Param("id"))); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
