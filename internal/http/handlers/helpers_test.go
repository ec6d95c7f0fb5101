package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-allergen-backend/internal/domain"
	"github.com/tbourn/go-allergen-backend/internal/http/middleware"
	"github.com/tbourn/go-allergen-backend/internal/openfoodfacts"
	"github.com/tbourn/go-allergen-backend/internal/repo"
	"github.com/tbourn/go-allergen-backend/internal/services"
)

func init() { gin.SetMode(gin.TestMode) }

// ---------- test DB + repo shim ----------

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "handlers.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// testRepo implements the services repo interfaces using the repo package
// (like router.go does).
type testRepo struct{}

func (testRepo) CreateScanRecord(ctx context.Context, db *gorm.DB, rec *domain.ScanRecord) error {
	return repo.CreateScanRecord(ctx, db, rec)
}
func (testRepo) LatestScanRecord(ctx context.Context, db *gorm.DB, userID string) (*domain.ScanRecord, error) {
	return repo.LatestScanRecord(ctx, db, userID)
}
func (testRepo) ListScanRecords(ctx context.Context, db *gorm.DB, userID string) ([]domain.ScanRecord, error) {
	return repo.ListScanRecords(ctx, db, userID)
}
func (testRepo) CountScanRecords(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountScanRecords(ctx, db, userID)
}
func (testRepo) ListScanRecordsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.ScanRecord, error) {
	return repo.ListScanRecordsPage(ctx, db, userID, offset, limit)
}
func (testRepo) DeleteScanRecords(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.DeleteScanRecords(ctx, db, userID)
}
func (testRepo) InsertScanRecordsIgnoreExisting(ctx context.Context, db *gorm.DB, userID string, recs []domain.ScanRecord) (int64, error) {
	return repo.InsertScanRecordsIgnoreExisting(ctx, db, userID, recs)
}
func (testRepo) HistoryStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error) {
	return repo.HistoryStats(ctx, db, userID)
}
func (testRepo) GetSettings(ctx context.Context, db *gorm.DB, userID string) (*domain.UserSettings, error) {
	return repo.GetSettings(ctx, db, userID)
}
func (testRepo) SaveSettings(ctx context.Context, db *gorm.DB, s *domain.UserSettings) error {
	return repo.SaveSettings(ctx, db, s)
}
func (testRepo) CreateCustomAllergen(ctx context.Context, db *gorm.DB, userID, name string) (*domain.CustomAllergen, error) {
	return repo.CreateCustomAllergen(ctx, db, userID, name)
}
func (testRepo) ListCustomAllergens(ctx context.Context, db *gorm.DB, userID string) ([]domain.CustomAllergen, error) {
	return repo.ListCustomAllergens(ctx, db, userID)
}
func (testRepo) EnabledCustomAllergenNames(ctx context.Context, db *gorm.DB, userID string) ([]string, error) {
	return repo.EnabledCustomAllergenNames(ctx, db, userID)
}
func (testRepo) GetCustomAllergen(ctx context.Context, db *gorm.DB, id, userID string) (*domain.CustomAllergen, error) {
	return repo.GetCustomAllergen(ctx, db, id, userID)
}
func (testRepo) UpdateCustomAllergen(ctx context.Context, db *gorm.DB, id, userID string, name *string, enabled *bool) error {
	return repo.UpdateCustomAllergen(ctx, db, id, userID, name, enabled)
}
func (testRepo) DeleteCustomAllergen(ctx context.Context, db *gorm.DB, id, userID string) error {
	return repo.DeleteCustomAllergen(ctx, db, id, userID)
}
func (testRepo) CustomAllergenStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error) {
	return repo.CustomAllergenStats(ctx, db, userID)
}
func (testRepo) GetIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	return repo.GetIdempotency(ctx, db, userID, scope, key, now)
}
func (testRepo) CreateIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key string, status int, body []byte, ttl time.Duration) (*domain.Idempotency, error) {
	return repo.CreateIdempotency(ctx, db, userID, scope, key, status, body, ttl)
}

// ---------- product source stub ----------

type stubFetcher struct {
	mu       sync.Mutex
	products map[string]domain.Product
	errs     map[string]error
	calls    int
}

func (f *stubFetcher) FetchProduct(_ context.Context, barcode string) (*openfoodfacts.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[barcode]; err != nil {
		return nil, err
	}
	p, ok := f.products[barcode]
	if !ok {
		return nil, openfoodfacts.ErrProductNotFound
	}
	return &openfoodfacts.Result{Product: p, Source: openfoodfacts.SourceNetwork}, nil
}

// ---------- fixture ----------

type fixture struct {
	r       *gin.Engine
	fetcher *stubFetcher
	history *services.HistoryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newHandlerDB(t)
	fetcher := &stubFetcher{products: map[string]domain.Product{}, errs: map[string]error{}}

	historySvc := services.NewHistoryService(db, testRepo{})
	settingsSvc := services.NewSettingsService(db, testRepo{})
	idemSvc := services.NewIdempotencyService(db, testRepo{})
	scanSvc := services.NewScanService(fetcher, settingsSvc, historySvc, zerolog.Nop())
	h := New(scanSvc, historySvc, settingsSvc, idemSvc)

	r := gin.New()
	r.Use(middleware.UserIdentity(), middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, idemSvc.Exists))
	r.GET("/allergens", h.ListAllergens)
	r.GET("/allergens/keywords", h.ListKeywords)
	r.POST("/scans", h.PostScan)
	r.GET("/scans/state", h.GetScanState)
	r.POST("/check", h.CheckProduct)
	r.GET("/history", h.ListHistory)
	r.DELETE("/history", h.ClearHistory)
	r.GET("/history/export.csv", h.ExportHistoryCSV)
	r.POST("/sync/history", h.SyncHistory)
	r.GET("/settings", h.GetSettings)
	r.PUT("/settings/allergens", h.PutSelectedAllergens)
	r.PUT("/settings/onboarding", h.CompleteOnboarding)
	r.PUT("/sync/settings", h.SyncSettings)
	r.GET("/custom-allergens", h.ListCustomAllergens)
	r.POST("/custom-allergens", h.CreateCustomAllergen)
	r.PATCH("/custom-allergens/:id", h.UpdateCustomAllergen)
	r.DELETE("/custom-allergens/:id", h.DeleteCustomAllergen)

	return &fixture{r: r, fetcher: fetcher, history: historySvc}
}

// do sends a request as user u1 unless headers override X-User-ID.
func (f *fixture) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			if err := json.NewEncoder(&buf).Encode(b); err != nil {
				t.Fatalf("encode body: %v", err)
			}
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "u1")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) ErrorResponse {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (%s)", w.Code, status, w.Body.String())
	}
	e := decode[ErrorResponse](t, w)
	if e.Code != code {
		t.Fatalf("code = %q, want %q", e.Code, code)
	}
	return e
}

