package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-allergen-backend/internal/domain"
	"github.com/tbourn/go-allergen-backend/internal/repo"
)

// newServiceDB opens a migrated SQLite database in t.TempDir().
func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "svc.db")), &gorm.Config{
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
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// gormRepo forwards to the repo package functions.
type gormRepo struct{}

func (gormRepo) CreateScanRecord(ctx context.Context, db *gorm.DB, rec *domain.ScanRecord) error {
	return repo.CreateScanRecord(ctx, db, rec)
}
func (gormRepo) LatestScanRecord(ctx context.Context, db *gorm.DB, userID string) (*domain.ScanRecord, error) {
	return repo.LatestScanRecord(ctx, db, userID)
}
func (gormRepo) ListScanRecords(ctx context.Context, db *gorm.DB, userID string) ([]domain.ScanRecord, error) {
	return repo.ListScanRecords(ctx, db, userID)
}
func (gormRepo) CountScanRecords(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountScanRecords(ctx, db, userID)
}
func (gormRepo) ListScanRecordsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.ScanRecord, error) {
	return repo.ListScanRecordsPage(ctx, db, userID, offset, limit)
}
func (gormRepo) DeleteScanRecords(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.DeleteScanRecords(ctx, db, userID)
}
func (gormRepo) InsertScanRecordsIgnoreExisting(ctx context.Context, db *gorm.DB, userID string, recs []domain.ScanRecord) (int64, error) {
	return repo.InsertScanRecordsIgnoreExisting(ctx, db, userID, recs)
}
func (gormRepo) HistoryStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error) {
	return repo.HistoryStats(ctx, db, userID)
}
func (gormRepo) GetSettings(ctx context.Context, db *gorm.DB, userID string) (*domain.UserSettings, error) {
	return repo.GetSettings(ctx, db, userID)
}
func (gormRepo) SaveSettings(ctx context.Context, db *gorm.DB, s *domain.UserSettings) error {
	return repo.SaveSettings(ctx, db, s)
}
func (gormRepo) CreateCustomAllergen(ctx context.Context, db *gorm.DB, userID, name string) (*domain.CustomAllergen, error) {
	return repo.CreateCustomAllergen(ctx, db, userID, name)
}
func (gormRepo) ListCustomAllergens(ctx context.Context, db *gorm.DB, userID string) ([]domain.CustomAllergen, error) {
	return repo.ListCustomAllergens(ctx, db, userID)
}
func (gormRepo) EnabledCustomAllergenNames(ctx context.Context, db *gorm.DB, userID string) ([]string, error) {
	return repo.EnabledCustomAllergenNames(ctx, db, userID)
}
func (gormRepo) GetCustomAllergen(ctx context.Context, db *gorm.DB, id, userID string) (*domain.CustomAllergen, error) {
	return repo.GetCustomAllergen(ctx, db, id, userID)
}
func (gormRepo) UpdateCustomAllergen(ctx context.Context, db *gorm.DB, id, userID string, name *string, enabled *bool) error {
	return repo.UpdateCustomAllergen(ctx, db, id, userID, name, enabled)
}
func (gormRepo) DeleteCustomAllergen(ctx context.Context, db *gorm.DB, id, userID string) error {
	return repo.DeleteCustomAllergen(ctx, db, id, userID)
}
func (gormRepo) CustomAllergenStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error) {
	return repo.CustomAllergenStats(ctx, db, userID)
}
func (gormRepo) GetIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	return repo.GetIdempotency(ctx, db, userID, scope, key, now)
}
func (gormRepo) CreateIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key string, status int, body []byte, ttl time.Duration) (*domain.Idempotency, error) {
	return repo.CreateIdempotency(ctx, db, userID, scope, key, status, body, ttl)
}

// fakeClock is a settable clock safe for concurrent use.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}
