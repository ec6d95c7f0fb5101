// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for ScanRecord,
// the per-user scan history.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic (such as
// the dedup window), only persistence and query composition.
//
// Error semantics:
//   - When a record is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// History is always ordered most recent first (scanned_at DESC, id DESC as a
// tie-breaker so pagination stays stable).
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-allergen-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

const historyOrder = "scanned_at desc, id desc"

// CreateScanRecord inserts rec. A missing ID is filled with a random UUID and
// a zero ScannedAt with the current time. ScannedAt is stored in UTC so the
// text column orders chronologically.
func CreateScanRecord(ctx context.Context, db *gorm.DB, rec *domain.ScanRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ScannedAt.IsZero() {
		rec.ScannedAt = time.Now()
	}
	rec.ScannedAt = rec.ScannedAt.UTC()
	if rec.Safety == "" {
		rec.Safety = domain.SafetyUnknown
	}
	return db.WithContext(ctx).Create(rec).Error
}

// LatestScanRecord returns the user's most recent record, or ErrNotFound when
// the history is empty.
func LatestScanRecord(ctx context.Context, db *gorm.DB, userID string) (*domain.ScanRecord, error) {
	var r domain.ScanRecord
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order(historyOrder).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListScanRecords returns the whole history of userID, most recent first.
func ListScanRecords(ctx context.Context, db *gorm.DB, userID string) ([]domain.ScanRecord, error) {
	var out []domain.ScanRecord
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order(historyOrder).
		Find(&out).Error
	return out, err
}

// CountScanRecords returns the number of history entries owned by userID.
func CountScanRecords(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.ScanRecord{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListScanRecordsPage returns one page of history for userID. Use
// CountScanRecords to obtain the total for pagination metadata.
func ListScanRecordsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.ScanRecord, error) {
	var out []domain.ScanRecord
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order(historyOrder).
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// DeleteScanRecords removes every history entry of userID and reports how
// many rows were deleted.
func DeleteScanRecords(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	res := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&domain.ScanRecord{})
	return res.RowsAffected, res.Error
}

// InsertScanRecordsIgnoreExisting inserts recs for userID, skipping any whose
// ID is already stored. It returns the number of rows actually inserted.
func InsertScanRecordsIgnoreExisting(ctx context.Context, db *gorm.DB, userID string, recs []domain.ScanRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	for i := range recs {
		recs[i].UserID = userID
		if recs[i].ID == "" {
			recs[i].ID = uuid.NewString()
		}
		if recs[i].Safety == "" {
			recs[i].Safety = domain.SafetyUnknown
		}
		recs[i].ScannedAt = recs[i].ScannedAt.UTC()
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		CreateInBatches(recs, 100)
	return res.RowsAffected, res.Error
}
