package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// UnknownProductName is used when the product source has no name on record.
const UnknownProductName = "Unknown"

// Product is a food product as reported by the product source. It is built
// once per scan and never mutated afterwards.
//
// Fields:
//   - Barcode: numeric-ish identifier as scanned.
//   - Name: product name, UnknownProductName when absent.
//   - Allergens: standard allergens declared by the source database.
//   - Ingredients: ingredient text tokens in source order.
//   - UnrecognizedTags: declared allergen tags that do not map to the catalog.
type Product struct {
	Barcode          string     `json:"barcode"`
	Name             string     `json:"product_name"`
	Allergens        []Allergen `json:"allergens"`
	Ingredients      []string   `json:"ingredients"`
	UnrecognizedTags []string   `json:"unrecognized_tags,omitempty"`
}

// SafetyStatus is the overall verdict for a scanned product.
type SafetyStatus string

const (
	SafetySafe    SafetyStatus = "safe"
	SafetyUnsafe  SafetyStatus = "unsafe"
	SafetyUnknown SafetyStatus = "unknown"
)

// SafetyFromBool converts a legacy boolean verdict to the tri-state schema.
func SafetyFromBool(safe bool) SafetyStatus {
	if safe {
		return SafetySafe
	}
	return SafetyUnsafe
}

// Valid reports whether s is one of the three known states.
func (s SafetyStatus) Valid() bool {
	switch s {
	case SafetySafe, SafetyUnsafe, SafetyUnknown:
		return true
	}
	return false
}

// ScanRecord is an immutable snapshot of one completed scan, kept in the
// owning user's history (most recent first).
//
// Safety holds the canonical tri-state verdict. LegacyIsSafe is the column
// written by older clients that only knew a boolean; it is backfilled into
// Safety on migration and never written by this service.
type ScanRecord struct {
	ID           string       `json:"id"           gorm:"type:char(36);primaryKey"`
	UserID       string       `json:"-"            gorm:"type:varchar(64);not null;index:idx_user_scans,priority:1"`
	Barcode      string       `json:"barcode"      gorm:"type:varchar(64);not null"`
	ProductName  string       `json:"product_name" gorm:"type:varchar(255);not null"`
	ScannedAt    time.Time    `json:"scanned_at"   gorm:"not null;index:idx_user_scans,priority:2"`
	Safety       SafetyStatus `json:"safety"       gorm:"type:varchar(16);not null;default:'unknown'"`
	LegacyIsSafe *bool        `json:"-"            gorm:"column:is_safe"`
	CreatedAt    time.Time    `json:"-"`
	UpdatedAt    time.Time    `json:"-"`
}

// TableName returns the database table name for ScanRecord.
func (ScanRecord) TableName() string { return "scan_records" }

// UnmarshalJSON accepts both the tri-state schema ("safety") and legacy
// payloads that carried a boolean "isSafe"/"is_safe" and a "dateScanned"
// timestamp. A record without any verdict decodes as SafetyUnknown.
func (r *ScanRecord) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID           string     `json:"id"`
		Barcode      string     `json:"barcode"`
		ProductName  string     `json:"product_name"`
		ProductNameL string     `json:"productName"`
		ScannedAt    *time.Time `json:"scanned_at"`
		DateScanned  *time.Time `json:"dateScanned"`
		Safety       string     `json:"safety"`
		IsSafe       *bool      `json:"isSafe"`
		IsSafeSnake  *bool      `json:"is_safe"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	out := ScanRecord{
		ID:          raw.ID,
		Barcode:     raw.Barcode,
		ProductName: raw.ProductName,
	}
	if out.ProductName == "" {
		out.ProductName = raw.ProductNameL
	}
	switch {
	case raw.ScannedAt != nil:
		out.ScannedAt = *raw.ScannedAt
	case raw.DateScanned != nil:
		out.ScannedAt = *raw.DateScanned
	}

	legacy := raw.IsSafe
	if legacy == nil {
		legacy = raw.IsSafeSnake
	}
	switch {
	case raw.Safety != "":
		s := SafetyStatus(raw.Safety)
		if !s.Valid() {
			return fmt.Errorf("scan record %q: invalid safety %q", raw.ID, raw.Safety)
		}
		out.Safety = s
	case legacy != nil:
		out.Safety = SafetyFromBool(*legacy)
	default:
		out.Safety = SafetyUnknown
	}

	*r = out
	return nil
}

// CustomAllergen is a user-defined free-text term matched against
// ingredients like a standard allergen. Only enabled terms participate.
type CustomAllergen struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"-"          gorm:"type:varchar(64);not null;index:idx_user_custom"`
	Name      string    `json:"name"       gorm:"type:varchar(64);not null"`
	Enabled   bool      `json:"enabled"    gorm:"not null;default:true"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for CustomAllergen.
func (CustomAllergen) TableName() string { return "custom_allergens" }

// UserSettings holds one user's allergen selection. UpdatedAt drives
// last-write-wins reconciliation with remote copies.
type UserSettings struct {
	UserID              string      `json:"-"                    gorm:"type:varchar(64);primaryKey"`
	SelectedAllergens   AllergenSet `json:"selected_allergens"   gorm:"type:text;not null;default:''"`
	OnboardingCompleted bool        `json:"onboarding_completed" gorm:"not null;default:false"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// TableName returns the database table name for UserSettings.
func (UserSettings) TableName() string { return "user_settings" }

// ProductCacheEntry stores the raw product-source payload of the last
// successful lookup for a barcode. It serves as fallback when the source is
// unreachable.
type ProductCacheEntry struct {
	Barcode   string    `gorm:"type:varchar(64);primaryKey"`
	Payload   []byte    `gorm:"not null"`
	FetchedAt time.Time `gorm:"not null"`
}

// TableName returns the database table name for ProductCacheEntry.
func (ProductCacheEntry) TableName() string { return "product_cache" }
