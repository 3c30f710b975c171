package database

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// UriToDialector picks the gorm dialector from the database url. Anything that
// is not a postgres or mysql url is treated as a sqlite file path.
func UriToDialector(uri string) (gorm.Dialector, error) {
	switch {
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		return postgres.Open(uri), nil

	case strings.HasPrefix(uri, "mysql://"):
		dsn, err := mysqlDSN(uri)
		if err != nil {
			return nil, err
		}
		return mysql.Open(dsn), nil

	default:
		path := strings.TrimPrefix(uri, "sqlite://")
		if path != ":memory:" && !strings.HasPrefix(path, "file:") {
			if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		return sqlite.Open(path), nil
	}
}

func mysqlDSN(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid mysql url: %w", err)
	}

	password, _ := u.User.Password()
	query := u.Query()
	query.Set("parseTime", "true")

	return fmt.Sprintf("%s:%s@tcp(%s)%s?%s", u.User.Username(), password, u.Host, u.Path, query.Encode()), nil
}

func NewDatabase(uri string) (*gorm.DB, error) {
	dialector, err := UriToDialector(uri)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unable to get database handle: %w", err)
	}

	if db.Dialector.Name() == "sqlite" {
		// Foreign key enforcement is per connection in sqlite.
		sqlDB.SetMaxOpenConns(1)
		if err := enableForeignKeys(db); err != nil {
			return nil, fmt.Errorf("unable to enable foreign keys: %w", err)
		}
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(2)
		sqlDB.SetConnMaxIdleTime(time.Minute)
	}

	if err := GetMigrator(db).Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	slog.Info("database connection established", "dialect", db.Dialector.Name())
	return db, nil
}
