package database

import (
	"log/slog"
	"stella-backend/internal/database/versions/migration_0"
	"stella-backend/internal/database/versions/migration_1"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func GetMigrator(db *gorm.DB) *gormigrate.Gormigrate {
	migrator := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID:      "0",
			Migrate: migration_0.Migration,
		},
		{
			ID:       "1",
			Migrate:  migration_1.Migration,
			Rollback: migration_1.Rollback,
		},
	})

	migrator.InitSchema(func(txn *gorm.DB) error {
		// Runs instead of the migration list when the database is empty, creating
		// the latest schema directly.
		slog.Info("clean database detected, running full schema initialization")

		if err := enableForeignKeys(txn); err != nil {
			slog.Error("error enabling foreign keys for sqlite", "error", err)
		}

		return txn.AutoMigrate(&Conversation{}, &Message{})
	})

	return migrator
}

func enableForeignKeys(db *gorm.DB) error {
	dbType := db.Dialector.Name()
	if dbType == "sqlite" || dbType == "sqlite3" {
		// Sqlite does not enforce foreign key constraints unless asked to.
		return db.Exec("PRAGMA foreign_keys = ON").Error
	}
	return nil
}
