package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-allergen-backend/internal/domain"
)

// CreateCustomAllergen inserts an enabled custom allergen named name for
// userID. Name validation and uniqueness are the caller's job.
func CreateCustomAllergen(ctx context.Context, db *gorm.DB, userID, name string) (*domain.CustomAllergen, error) {
	now := time.Now().UTC()
	c := &domain.CustomAllergen{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// ListCustomAllergens returns every custom allergen of userID in creation
// order.
func ListCustomAllergens(ctx context.Context, db *gorm.DB, userID string) ([]domain.CustomAllergen, error) {
	var out []domain.CustomAllergen
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at asc, id asc").
		Find(&out).Error
	return out, err
}

// EnabledCustomAllergenNames returns the names of the enabled custom
// allergens of userID, in creation order.
func EnabledCustomAllergenNames(ctx context.Context, db *gorm.DB, userID string) ([]string, error) {
	var names []string
	err := db.WithContext(ctx).
		Model(&domain.CustomAllergen{}).
		Where("user_id = ? AND enabled = ?", userID, true).
		Order("created_at asc, id asc").
		Pluck("name", &names).Error
	return names, err
}

// GetCustomAllergen fetches one custom allergen by id and owner.
func GetCustomAllergen(ctx context.Context, db *gorm.DB, id, userID string) (*domain.CustomAllergen, error) {
	var c domain.CustomAllergen
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateCustomAllergen applies name and/or enabled to the custom allergen
// identified by id and owned by userID. Nil arguments are left untouched.
// It returns ErrNotFound when no row matches.
func UpdateCustomAllergen(ctx context.Context, db *gorm.DB, id, userID string, name *string, enabled *bool) error {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if name != nil {
		updates["name"] = *name
	}
	if enabled != nil {
		updates["enabled"] = *enabled
	}
	res := db.WithContext(ctx).
		Model(&domain.CustomAllergen{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteCustomAllergen removes one custom allergen; ErrNotFound if missing.
func DeleteCustomAllergen(ctx context.Context, db *gorm.DB, id, userID string) error {
	res := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&domain.CustomAllergen{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
