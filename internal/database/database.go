package database

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rmitchellscott/tankobon/internal/config"
	"github.com/rmitchellscott/tankobon/internal/logging"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// sqliteFile is the registry file name below DATA_DIR.
const sqliteFile = "tankobon.db"

// DatabaseConfig describes the registry database.
type DatabaseConfig struct {
	Type string // "sqlite" or "postgres"

	// URL, when set, is used as the postgres DSN as-is.
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string

	DataDir string // sqlite only
	// BusyTimeout lets the server and chapterctl share one sqlite file.
	BusyTimeout time.Duration

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// GetDatabaseConfig reads the DB_* environment variables.
func GetDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Type:            config.Get("DB_TYPE", "sqlite"),
		URL:             config.Get("DATABASE_URL", ""),
		Host:            config.Get("DB_HOST", "localhost"),
		Port:            config.GetInt("DB_PORT", 5432),
		User:            config.Get("DB_USER", "tankobon"),
		Password:        config.Get("DB_PASSWORD", ""),
		DBName:          config.Get("DB_NAME", "tankobon"),
		SSLMode:         config.Get("DB_SSLMODE", "disable"),
		DataDir:         config.DataDir(),
		BusyTimeout:     time.Duration(config.GetInt("DB_BUSY_TIMEOUT_MS", 5000)) * time.Millisecond,
		MaxOpenConns:    config.GetInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    config.GetInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: time.Duration(config.GetInt("DB_CONN_MAX_LIFETIME_MIN", 5)) * time.Minute,
	}
}

// Initialize opens the configured database into DB and runs migrations
func Initialize() error {
	cfg := GetDatabaseConfig()
	db, err := Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := RunMigrations(db, "STARTUP"); err != nil {
		return err
	}
	DB = db
	logging.Logf("[STARTUP] Chapter registry ready (type: %s)", cfg.Type)
	return nil
}

// Open connects to the database described by cfg without migrating it.
func Open(cfg *DatabaseConfig) (*gorm.DB, error) {
	var (
		dialector gorm.Dialector
		maxOpen   = cfg.MaxOpenConns
		maxIdle   = cfg.MaxIdleConns
	)
	switch cfg.Type {
	case "postgres":
		dialector = postgres.Open(postgresDSN(cfg))
	case "sqlite":
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dialector = sqlite.Open(sqliteDSN(cfg))
		// one writer at a time; the pragmas in the DSN apply per connection
		maxOpen, maxIdle = 1, 1
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: getGormLogger()})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Type, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

func postgresDSN(cfg *DatabaseConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		cfg.Host, cfg.User, cfg.Password, cfg.DBName, cfg.Port, cfg.SSLMode)
}

// sqliteDSN builds a glebarez/sqlite file URI with WAL and a busy timeout.
func sqliteDSN(cfg *DatabaseConfig) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	if cfg.BusyTimeout > 0 {
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	}
	return filepath.Join(cfg.DataDir, sqliteFile) + "?" + q.Encode()
}

// getGormLogger returns appropriate GORM logger based on environment
func getGormLogger() logger.Interface {
	if logging.DebugEnabled() || config.Get("GIN_MODE", "") == "debug" {
		return logger.Default.LogMode(logger.Info)
	}
	return logger.Default.LogMode(logger.Warn)
}

// Close closes DB if it was opened.
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	DB = nil
	return sqlDB.Close()
}
