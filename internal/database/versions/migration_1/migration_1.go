package migration_1

import (
	"database/sql"
	"fmt"

	"gorm.io/gorm"
)

// Conversation carries the object store key of the archived report.
type Conversation struct {
	ReportKey sql.NullString
}

func Migration(db *gorm.DB) error {
	if err := db.Migrator().AddColumn(&Conversation{}, "ReportKey"); err != nil {
		return fmt.Errorf("error adding ReportKey column: %w", err)
	}

	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropColumn(&Conversation{}, "ReportKey"); err != nil {
		return fmt.Errorf("error dropping ReportKey column: %w", err)
	}

	return nil
}
