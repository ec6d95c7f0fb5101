package openfoodfacts

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-allergen-backend/internal/repo"
)

// GormCache is a Cache backed by the product_cache table.
type GormCache struct {
	DB *gorm.DB
}

// NewGormCache returns a Cache over db.
func NewGormCache(db *gorm.DB) *GormCache { return &GormCache{DB: db} }

// Get returns the cached payload for barcode, reporting false when absent.
func (g *GormCache) Get(ctx context.Context, barcode string) ([]byte, bool, error) {
	e, err := repo.GetProductCache(ctx, g.DB, barcode)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return e.Payload, true, nil
}

// Put stores payload for barcode.
func (g *GormCache) Put(ctx context.Context, barcode string, payload []byte, fetchedAt time.Time) error {
	return repo.PutProductCache(ctx, g.DB, barcode, payload, fetchedAt)
}
