package domain

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		ScanRecord{}.TableName():        "scan_records",
		CustomAllergen{}.TableName():    "custom_allergens",
		UserSettings{}.TableName():      "user_settings",
		ProductCacheEntry{}.TableName(): "product_cache",
		Idempotency{}.TableName():       "idempotency",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestMigrations_IndexesAndSettingsRoundTrip(t *testing.T) {
	db := newTestDB(t)
	if err := db.AutoMigrate(&ScanRecord{}, &CustomAllergen{}, &UserSettings{}, &ProductCacheEntry{}, &Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	if !m.HasIndex(&ScanRecord{}, "idx_user_scans") {
		t.Fatalf("expected index idx_user_scans")
	}
	if !m.HasIndex(&Idempotency{}, "ux_user_scope_key") {
		t.Fatalf("expected index ux_user_scope_key")
	}
	if !m.HasColumn(&ScanRecord{}, "is_safe") {
		t.Fatalf("expected legacy is_safe column")
	}

	in := UserSettings{UserID: "u1", SelectedAllergens: AllergenSet{Gluten, TreeNuts}, UpdatedAt: time.Now().UTC()}
	if err := db.Create(&in).Error; err != nil {
		t.Fatalf("create settings: %v", err)
	}
	var out UserSettings
	if err := db.First(&out, "user_id = ?", "u1").Error; err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if len(out.SelectedAllergens) != 2 || out.SelectedAllergens[1] != TreeNuts {
		t.Fatalf("selected allergens round trip = %v", out.SelectedAllergens)
	}
}

func TestScanRecord_UnmarshalJSON_Schemas(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want SafetyStatus
	}{
		{"tri-state", `{"id":"a","barcode":"1","product_name":"P","scanned_at":"2025-06-01T10:00:00Z","safety":"unsafe"}`, SafetyUnsafe},
		{"legacy camel", `{"id":"b","barcode":"1","productName":"P","dateScanned":"2025-06-01T10:00:00Z","isSafe":true}`, SafetySafe},
		{"legacy snake", `{"id":"c","barcode":"1","product_name":"P","is_safe":false}`, SafetyUnsafe},
		{"no verdict", `{"id":"d","barcode":"1","product_name":"P"}`, SafetyUnknown},
		{"safety wins over legacy", `{"id":"e","safety":"unknown","isSafe":true}`, SafetyUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var r ScanRecord
			if err := json.Unmarshal([]byte(tc.in), &r); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if r.Safety != tc.want {
				t.Fatalf("safety = %q; want %q", r.Safety, tc.want)
			}
			if r.ProductName != "" && r.ProductName != "P" {
				t.Fatalf("product name = %q", r.ProductName)
			}
		})
	}

	var r ScanRecord
	if err := json.Unmarshal([]byte(`{"id":"x","dateScanned":"2025-06-01T10:00:00Z"}`), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.ScannedAt.IsZero() {
		t.Fatalf("dateScanned should populate ScannedAt")
	}

	if err := json.Unmarshal([]byte(`{"id":"x","safety":"maybe"}`), &r); err == nil {
		t.Fatalf("invalid safety should fail")
	}
}

func TestSafetyFromBool(t *testing.T) {
	if SafetyFromBool(true) != SafetySafe || SafetyFromBool(false) != SafetyUnsafe {
		t.Fatalf("SafetyFromBool mapping wrong")
	}
	if SafetyStatus("").Valid() {
		t.Fatalf("empty safety must not be valid")
	}
}
