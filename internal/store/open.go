package store

import (
	"context"
	"log/slog"

	"keyward/internal/database"
)

// Stores bundles the storage backends selected by a database url.
type Stores struct {
	Driver database.Driver
	Keys   KeyStore
	Logs   LogStore

	close func()
}

func (s *Stores) Close() {
	if s.close != nil {
		s.close()
	}
}

// Open connects to the database named by databaseURL. Postgres schemas are
// migrated from migrationsPath, SQLite schemas are created in place.
func Open(ctx context.Context, databaseURL, migrationsPath string) (*Stores, error) {
	driver, err := database.DetectDriver(databaseURL)
	if err != nil {
		return nil, err
	}

	switch driver {
	case database.DriverPostgres:
		if err := database.Migrate(databaseURL, migrationsPath); err != nil {
			return nil, err
		}
		pool, err := database.New(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Driver: driver,
			Keys:   NewPostgresKeyStore(pool),
			Logs:   NewPostgresLogStore(pool),
			close:  pool.Close,
		}, nil

	default:
		db, err := database.OpenSQLite(database.SQLitePath(databaseURL))
		if err != nil {
			return nil, err
		}
		sqlite := NewSQLiteStore(db)
		return &Stores{
			Driver: driver,
			Keys:   sqlite,
			Logs:   sqlite,
			close: func() {
				sqlDB, err := db.DB()
				if err != nil {
					return
				}
				if err := sqlDB.Close(); err != nil {
					slog.Error("Failed to close database", "error", err)
				}
			},
		}, nil
	}
}
