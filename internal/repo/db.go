// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver) and Postgres, schema migrations, and the backfill
// of legacy boolean scan verdicts.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-allergen-backend/internal/config"
	"github.com/tbourn/go-allergen-backend/internal/domain"
)

// Open connects to the database selected by cfg.DBDriver and installs the
// OpenTelemetry GORM plugin.
func Open(cfg config.Config) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch cfg.DBDriver {
	case "postgres":
		db, err = OpenPostgres(cfg.DatabaseURL)
	case "sqlite", "":
		db, err = OpenSQLite(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unsupported DB driver %q", cfg.DBDriver)
	}
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin()); err != nil {
		return nil, fmt.Errorf("install tracing plugin: %w", err)
	}
	return db, nil
}

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// OpenPostgres connects to Postgres using a libpq-style DSN or URL.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return db, nil
}

// AutoMigrate creates or updates every table and then backfills legacy
// verdicts.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.ScanRecord{},
		&domain.CustomAllergen{},
		&domain.UserSettings{},
		&domain.ProductCacheEntry{},
		&domain.Idempotency{},
	); err != nil {
		return err
	}
	_, err := MigrateLegacySafety(db)
	return err
}

// MigrateLegacySafety converts rows written with only the boolean is_safe
// column into the tri-state safety column. Rows with neither become
// "unknown". It returns the number of rows rewritten.
func MigrateLegacySafety(db *gorm.DB) (int64, error) {
	var total int64
	err := db.Transaction(func(tx *gorm.DB) error {
		legacy := tx.Model(&domain.ScanRecord{}).
			Where("(safety IS NULL OR safety = '') AND is_safe IS NOT NULL")

		res := legacy.Session(&gorm.Session{}).Where("is_safe = ?", true).
			Update("safety", domain.SafetySafe)
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected

		res = legacy.Session(&gorm.Session{}).Where("is_safe = ?", false).
			Update("safety", domain.SafetyUnsafe)
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected

		res = tx.Model(&domain.ScanRecord{}).
			Where("safety IS NULL OR safety = ''").
			Update("safety", domain.SafetyUnknown)
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected
		return nil
	})
	return total, err
}
