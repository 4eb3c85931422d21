package database

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	gormprom "gorm.io/plugin/prometheus"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config describes how to reach the catalog database.
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// Metrics exposes connection pool statistics through Prometheus.
	Metrics bool
	Logger  gormlogger.Interface
}

// Open connects to the configured database.
// SQLite connections always enforce foreign keys so join rows cascade
// with the files and groups they reference.
func Open(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverSQLite, "":
		dialector = sqlite.Open(sqliteDSN(cfg.DSN))
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	gcfg := &gorm.Config{TranslateError: true}
	if cfg.Logger != nil {
		gcfg.Logger = cfg.Logger
	}

	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if cfg.Metrics {
		if err := db.Use(gormprom.New(gormprom.Config{
			DBName:          "rockimages",
			RefreshInterval: 15,
		})); err != nil {
			return nil, fmt.Errorf("register database metrics: %w", err)
		}
	}

	return db, nil
}

func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = "rockimages.db"
	}
	if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on"
}
