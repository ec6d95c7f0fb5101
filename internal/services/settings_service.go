// Package services – SettingsService
//
// SettingsService owns a user's allergen preferences: the selected standard
// allergens, the onboarding flag, and the user's custom allergen terms. Remote
// copies of the settings are reconciled last-write-wins on UpdatedAt.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"gorm.io/gorm"

	"github.com/tbourn/go-allergen-backend/internal/domain"
)

// MaxCustomAllergenRunes caps custom allergen names.
const MaxCustomAllergenRunes = 64

// SettingsRepo defines the repository contract required by SettingsService.
type SettingsRepo interface {
	GetSettings(ctx context.Context, db *gorm.DB, userID string) (*domain.UserSettings, error)
	SaveSettings(ctx context.Context, db *gorm.DB, s *domain.UserSettings) error

	CreateCustomAllergen(ctx context.Context, db *gorm.DB, userID, name string) (*domain.CustomAllergen, error)
	ListCustomAllergens(ctx context.Context, db *gorm.DB, userID string) ([]domain.CustomAllergen, error)
	EnabledCustomAllergenNames(ctx context.Context, db *gorm.DB, userID string) ([]string, error)
	GetCustomAllergen(ctx context.Context, db *gorm.DB, id, userID string) (*domain.CustomAllergen, error)
	UpdateCustomAllergen(ctx context.Context, db *gorm.DB, id, userID string, name *string, enabled *bool) error
	DeleteCustomAllergen(ctx context.Context, db *gorm.DB, id, userID string) error
	CustomAllergenStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error)
}

// Preferences is the resolver input derived from a user's settings.
type Preferences struct {
	Selected []domain.Allergen `json:"selected_allergens"`
	Custom   []string          `json:"custom_allergens"`
}

// SettingsService manages allergen preferences.
type SettingsService struct {
	DB   *gorm.DB
	Repo SettingsRepo

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// NewSettingsService constructs a SettingsService.
func NewSettingsService(db *gorm.DB, r SettingsRepo) *SettingsService {
	return &SettingsService{DB: db, Repo: r, Now: time.Now}
}

func (s *SettingsService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Get returns the user's settings. A user who never saved anything gets the
// defaults: nothing selected, onboarding pending, zero UpdatedAt.
func (s *SettingsService) Get(ctx context.Context, userID string) (*domain.UserSettings, error) {
	st, err := s.Repo.GetSettings(ctx, s.DB, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &domain.UserSettings{UserID: userID, SelectedAllergens: domain.AllergenSet{}}, nil
	}
	return st, err
}

// Preferences returns the selected allergens and the enabled custom terms.
func (s *SettingsService) Preferences(ctx context.Context, userID string) (Preferences, error) {
	ctx, span := otel.Tracer("services/SettingsService").Start(ctx, "Preferences",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	st, err := s.Get(ctx, userID)
	if err != nil {
		return Preferences{}, err
	}
	custom, err := s.Repo.EnabledCustomAllergenNames(ctx, s.DB, userID)
	if err != nil {
		return Preferences{}, err
	}
	if custom == nil {
		custom = []string{}
	}
	return Preferences{Selected: append([]domain.Allergen{}, st.SelectedAllergens...), Custom: custom}, nil
}

// SetSelectedAllergens replaces the selection with ids. Any unknown id fails
// the whole call with ErrUnknownAllergen and nothing is stored.
func (s *SettingsService) SetSelectedAllergens(ctx context.Context, userID string, ids []string) (*domain.UserSettings, error) {
	parsed, err := domain.ParseAllergens(ids)
	if err != nil {
		return nil, err
	}
	st, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	st.SelectedAllergens = domain.AllergenSet(parsed)
	st.UpdatedAt = s.now()
	if err := s.Repo.SaveSettings(ctx, s.DB, st); err != nil {
		return nil, err
	}
	return st, nil
}

// CompleteOnboarding marks the onboarding flow as done.
func (s *SettingsService) CompleteOnboarding(ctx context.Context, userID string) (*domain.UserSettings, error) {
	st, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	st.OnboardingCompleted = true
	st.UpdatedAt = s.now()
	if err := s.Repo.SaveSettings(ctx, s.DB, st); err != nil {
		return nil, err
	}
	return st, nil
}

// Reconcile applies remote when it is strictly newer than the stored copy
// (or nothing is stored yet) and returns the settings now in effect plus
// whether remote won. Ties keep the local copy.
func (s *SettingsService) Reconcile(ctx context.Context, userID string, remote domain.UserSettings) (*domain.UserSettings, bool, error) {
	ctx, span := otel.Tracer("services/SettingsService").Start(ctx, "Reconcile",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	local, err := s.Repo.GetSettings(ctx, s.DB, userID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	if local != nil && !remote.UpdatedAt.After(local.UpdatedAt) {
		return local, false, nil
	}

	for _, a := range remote.SelectedAllergens {
		if !a.Valid() {
			return nil, false, ErrUnknownAllergen
		}
	}
	remote.UserID = userID
	if remote.SelectedAllergens == nil {
		remote.SelectedAllergens = domain.AllergenSet{}
	}
	if remote.UpdatedAt.IsZero() {
		remote.UpdatedAt = s.now()
	}
	remote.UpdatedAt = remote.UpdatedAt.UTC()
	if err := s.Repo.SaveSettings(ctx, s.DB, &remote); err != nil {
		return nil, false, err
	}
	span.SetAttributes(attribute.Bool("settings.remote_applied", true))
	return &remote, true, nil
}

// ListCustomAllergens returns all custom allergens, enabled or not.
func (s *SettingsService) ListCustomAllergens(ctx context.Context, userID string) ([]domain.CustomAllergen, error) {
	out, err := s.Repo.ListCustomAllergens(ctx, s.DB, userID)
	if out == nil && err == nil {
		out = []domain.CustomAllergen{}
	}
	return out, err
}

// CustomAllergenStats returns the number of custom allergens and the most
// recent change among them, for conditional responses.
func (s *SettingsService) CustomAllergenStats(ctx context.Context, userID string) (int64, *time.Time, error) {
	return s.Repo.CustomAllergenStats(ctx, s.DB, userID)
}

// AddCustomAllergen stores a new enabled custom term.
func (s *SettingsService) AddCustomAllergen(ctx context.Context, userID, name string) (*domain.CustomAllergen, error) {
	name, err := normalizeCustomName(name)
	if err != nil {
		return nil, err
	}
	if err := s.ensureUniqueName(ctx, userID, "", name); err != nil {
		return nil, err
	}
	return s.Repo.CreateCustomAllergen(ctx, s.DB, userID, name)
}

// UpdateCustomAllergen renames and/or toggles a custom term. Nil arguments
// are left unchanged.
func (s *SettingsService) UpdateCustomAllergen(ctx context.Context, userID, id string, name *string, enabled *bool) (*domain.CustomAllergen, error) {
	if _, err := s.Repo.GetCustomAllergen(ctx, s.DB, id, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCustomAllergenNotFound
		}
		return nil, err
	}
	if name != nil {
		n, err := normalizeCustomName(*name)
		if err != nil {
			return nil, err
		}
		if err := s.ensureUniqueName(ctx, userID, id, n); err != nil {
			return nil, err
		}
		name = &n
	}
	if err := s.Repo.UpdateCustomAllergen(ctx, s.DB, id, userID, name, enabled); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCustomAllergenNotFound
		}
		return nil, err
	}
	return s.Repo.GetCustomAllergen(ctx, s.DB, id, userID)
}

// DeleteCustomAllergen removes a custom term.
func (s *SettingsService) DeleteCustomAllergen(ctx context.Context, userID, id string) error {
	err := s.Repo.DeleteCustomAllergen(ctx, s.DB, id, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrCustomAllergenNotFound
	}
	return err
}

// ensureUniqueName fails when another custom allergen of userID (other than
// skipID) has the same case-folded name.
func (s *SettingsService) ensureUniqueName(ctx context.Context, userID, skipID, name string) error {
	existing, err := s.Repo.ListCustomAllergens(ctx, s.DB, userID)
	if err != nil {
		return err
	}
	fold := cases.Fold()
	want := fold.String(name)
	for _, c := range existing {
		if c.ID != skipID && fold.String(c.Name) == want {
			return ErrDuplicateCustomAllergen
		}
	}
	return nil
}

// normalizeCustomName trims and collapses whitespace and enforces the length
// limit.
func normalizeCustomName(s string) (string, error) {
	s = whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
	if s == "" || utf8.RuneCountInString(s) > MaxCustomAllergenRunes {
		return "", ErrInvalidCustomAllergen
	}
	return s, nil
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
