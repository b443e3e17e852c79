package database

import (
	"fmt"
	"log/slog"

	"github.com/YJPM/ti-options/internal/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens the SQLite database and runs auto-migration
func Open(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL lets the director's reads overlap with history writes
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.Exec("PRAGMA journal_mode=WAL")
	sqlDB.Exec("PRAGMA foreign_keys=ON")

	if err := Migrate(db); err != nil {
		return nil, err
	}

	slog.Info("database initialized", "path", dbPath)
	return db, nil
}

// Migrate creates or updates the core tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Setting{},
		&model.GenerationRecord{},
		&model.HostEvent{},
	); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	return nil
}
