package database

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"keyward/internal/models"
)

// SQLitePath strips the sqlite:// or file: scheme from a database url.
func SQLitePath(databaseURL string) string {
	path := strings.TrimPrefix(databaseURL, "sqlite://")
	path = strings.TrimPrefix(path, "file:")
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	return path
}

// OpenSQLite opens a file backed database and creates the schema. All writes
// go through a single connection so redemptions are serialized.
func OpenSQLite(path string) (*gorm.DB, error) {
	newLogger := logger.New(
		slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 newLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the DB: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping the DB: %w", err)
	}

	if err := db.AutoMigrate(&models.LicenseKey{}, &models.ActivationLog{}); err != nil {
		return nil, fmt.Errorf("failed to migrate the DB: %w", err)
	}
	return db, nil
}
