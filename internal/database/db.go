package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"prepbrain/internal/models"
)

const (
	lockRetryAttempts = 4
	lockRetryBackoff  = 50 * time.Millisecond
)

// Open initializes the database connection and migrates the schema.
func Open(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single writer connection keeps sqlite lock contention to transient
	// "database is locked" errors that WithRetry can absorb.
	db.DB().SetMaxOpenConns(1)
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates all tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...).Error; err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// IsLocked reports whether err is sqlite lock contention.
func IsLocked(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// WithRetry runs fn, retrying up to 4 times with linear backoff when the
// store reports lock contention. Any other error surfaces immediately.
func WithRetry(fn func() error) error {
	var err error
	for attempt := 1; attempt <= lockRetryAttempts; attempt++ {
		err = fn()
		if err == nil || !IsLocked(err) {
			return err
		}
		if attempt < lockRetryAttempts {
			time.Sleep(lockRetryBackoff * time.Duration(attempt))
		}
	}
	return fmt.Errorf("store locked after %d attempts: %w", lockRetryAttempts, err)
}
