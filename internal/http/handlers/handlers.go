// Package handlers exposes the allergen detector's REST endpoints.
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results into HTTP responses (including conditional
// and idempotent-replay responses).
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-allergen-backend/internal/allergen"
	"github.com/tbourn/go-allergen-backend/internal/domain"
	"github.com/tbourn/go-allergen-backend/internal/http/middleware"
	"github.com/tbourn/go-allergen-backend/internal/services"
	"github.com/tbourn/go-allergen-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// ScanService runs barcode scans and ad-hoc checks.
type ScanService interface {
	// Scan fetches, resolves and records one barcode for userID.
	Scan(ctx context.Context, userID, barcode string) (*services.ScanOutcome, error)
	// State returns the user's current scan snapshot.
	State(userID string) services.ScanState
	// Check resolves a caller-supplied product without recording it.
	Check(ctx context.Context, userID string, product domain.Product, override *services.Preferences) (allergen.Result, error)
}

// HistoryService manages the per-user scan history.
type HistoryService interface {
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.ScanRecord, int64, error)
	Stats(ctx context.Context, userID string) (int64, *time.Time, error)
	Clear(ctx context.Context, userID string) (int64, error)
	ExportCSV(ctx context.Context, userID string, w io.Writer) error
	Merge(ctx context.Context, userID string, recs []domain.ScanRecord) (int64, error)
}

// SettingsService manages allergen preferences and custom allergens.
type SettingsService interface {
	Get(ctx context.Context, userID string) (*domain.UserSettings, error)
	SetSelectedAllergens(ctx context.Context, userID string, ids []string) (*domain.UserSettings, error)
	CompleteOnboarding(ctx context.Context, userID string) (*domain.UserSettings, error)
	Reconcile(ctx context.Context, userID string, remote domain.UserSettings) (*domain.UserSettings, bool, error)

	ListCustomAllergens(ctx context.Context, userID string) ([]domain.CustomAllergen, error)
	CustomAllergenStats(ctx context.Context, userID string) (int64, *time.Time, error)
	AddCustomAllergen(ctx context.Context, userID, name string) (*domain.CustomAllergen, error)
	UpdateCustomAllergen(ctx context.Context, userID, id string, name *string, enabled *bool) (*domain.CustomAllergen, error)
	DeleteCustomAllergen(ctx context.Context, userID, id string) error
}

// IdempotencyStore persists responses of requests that carried an
// Idempotency-Key. A nil store disables replay.
type IdempotencyStore interface {
	Lookup(ctx context.Context, userID, scope, key string) (*domain.Idempotency, error)
	Save(ctx context.Context, userID, scope, key string, status int, body []byte) error
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints.
type Handlers struct {
	scanSvc     ScanService
	historySvc  HistoryService
	settingsSvc SettingsService
	idem        IdempotencyStore
}

// New constructs Handlers bound to the given services. idem may be nil.
func New(scanSvc ScanService, historySvc HistoryService, settingsSvc SettingsService, idem IdempotencyStore) *Handlers {
	return &Handlers{scanSvc: scanSvc, historySvc: historySvc, settingsSvc: settingsSvc, idem: idem}
}

// userID returns the caller set by middleware.UserIdentity, then the raw
// X-User-ID header (tests mount handlers without middleware), then
// "demo-user".
func userID(c *gin.Context) string {
	if s := middleware.UserID(c); s != "" {
		return s
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader(middleware.HeaderUserID)); h != "" {
			return h
		}
	}
	return middleware.DefaultUserID
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination parses and bounds the page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), utils.DefaultPageSize),
	)
}

//
// Idempotent replay
//

// replayStored answers from a stored response when the request carries a key
// that was already processed. It reports whether a response was written.
func (h *Handlers) replayStored(c *gin.Context) bool {
	key, has := middleware.GetIdempotencyKey(c)
	if !has || h.idem == nil {
		return false
	}
	rec, err := h.idem.Lookup(c.Request.Context(), userID(c), middleware.IdempotencyScope(c), key)
	if err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
		return false
	}
	if rec == nil {
		return false
	}
	c.Header(middleware.HeaderIdempotencyReplayed, "true")
	rawJSON(c, rec.Status, rec.Body)
	return true
}

// respondStored writes body and, when the request carries a key, stores it
// for later replay. Storage failures are logged only.
func (h *Handlers) respondStored(c *gin.Context, status int, body any) {
	b, err := json.Marshal(body)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	if key, has := middleware.GetIdempotencyKey(c); has && h.idem != nil {
		if err := h.idem.Save(c.Request.Context(), userID(c), middleware.IdempotencyScope(c), key, status, b); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency store failed")
		}
	}
	rawJSON(c, status, b)
}
