package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-allergen-backend/internal/domain"
)

// GetSettings loads the settings row of userID or returns ErrNotFound.
func GetSettings(ctx context.Context, db *gorm.DB, userID string) (*domain.UserSettings, error) {
	var s domain.UserSettings
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&s).Error; err != nil {
		return nil, err
	}
	if s.SelectedAllergens == nil {
		s.SelectedAllergens = domain.AllergenSet{}
	}
	return &s, nil
}

// SaveSettings inserts or overwrites the settings row of s.UserID. UpdatedAt
// is stored exactly as given so reconciled remote timestamps survive.
func SaveSettings(ctx context.Context, db *gorm.DB, s *domain.UserSettings) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"selected_allergens", "onboarding_completed", "updated_at"}),
		}).
		Create(s).Error
}
