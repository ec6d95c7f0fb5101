// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-allergen-backend/internal/domain"
)

// HistoryStats returns aggregate metadata for a user's scan history: the
// total number of rows and the greatest UpdatedAt among them.
//
// When the user has no history, the returned count is 0 and maxUpdatedAt is
// nil.
func HistoryStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	return tableStats(ctx, db, &domain.ScanRecord{}, userID)
}

// CustomAllergenStats is HistoryStats for the custom allergen list.
func CustomAllergenStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	return tableStats(ctx, db, &domain.CustomAllergen{}, userID)
}

func tableStats(ctx context.Context, db *gorm.DB, model any, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(model).Where("user_id = ?", userID)

	if err = q.Session(&gorm.Session{}).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Session(&gorm.Session{}).Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
