package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-allergen-backend/internal/domain"
)

// PutProductCache stores payload as the latest known response for barcode,
// replacing any previous entry.
func PutProductCache(ctx context.Context, db *gorm.DB, barcode string, payload []byte, fetchedAt time.Time) error {
	e := &domain.ProductCacheEntry{Barcode: barcode, Payload: payload, FetchedAt: fetchedAt.UTC()}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "barcode"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "fetched_at"}),
		}).
		Create(e).Error
}

// GetProductCache returns the cached payload for barcode or ErrNotFound.
func GetProductCache(ctx context.Context, db *gorm.DB, barcode string) (*domain.ProductCacheEntry, error) {
	var e domain.ProductCacheEntry
	if err := db.WithContext(ctx).Where("barcode = ?", barcode).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}
