package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	// Pure-Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DBConfig holds the database configuration.
type DBConfig struct {
	Logger *slog.Logger

	// Driver selects the backend: DriverSQLite (default) or DriverPostgres.
	Driver string

	// Path is the SQLite database file. ":memory:" is accepted.
	Path string

	// PostgreSQL connection settings.
	Host     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	Port     int
}

// Dialector returns the gorm dialector for the configured driver.
func (cfg *DBConfig) Dialector() (gorm.Dialector, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		if cfg.Path == "" {
			return nil, errors.New("sqlite path cannot be empty")
		}
		return sqlite.New(sqlite.Config{
			DriverName: "sqlite",
			DSN:        cfg.Path + "?_pragma=busy_timeout(5000)",
		}), nil

	case DriverPostgres:
		if cfg.Host == "" {
			return nil, errors.New("database host cannot be empty")
		}
		if cfg.Port <= 0 {
			return nil, errors.New("database port must be positive")
		}
		if cfg.User == "" {
			return nil, errors.New("database user cannot be empty")
		}
		if cfg.DBName == "" {
			return nil, errors.New("database name cannot be empty")
		}
		sslMode := cfg.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)
		return postgres.Open(dsn), nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// NewDB opens the database and makes sure the readings table exists.
func NewDB(cfg *DBConfig) (*gorm.DB, error) {
	if cfg == nil {
		return nil, errors.New("database config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	dialector, err := cfg.Dialector()
	if err != nil {
		return nil, err
	}

	cfg.Logger.Info("connecting to database",
		"driver", dialector.Name(),
		"path", cfg.Path,
		"host", cfg.Host,
		"dbname", cfg.DBName,
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if dialector.Name() == DriverSQLite {
		// ":memory:" databases exist per connection.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cfg.Logger.Info("database connection established")

	if err := ensureSchema(db, cfg.Logger); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to prepare schema: %w", err)
	}

	return db, nil
}

// ensureSchema creates the readings table when it is missing. An existing
// table is left exactly as it is.
func ensureSchema(db *gorm.DB, logger *slog.Logger) error {
	migrator := db.Migrator()
	if migrator.HasTable(&Reading{}) {
		logger.Debug("readings table already exists")
		return nil
	}

	logger.Info("creating readings table")
	if err := migrator.CreateTable(&Reading{}); err != nil {
		// Another process may have won the race.
		if migrator.HasTable(&Reading{}) {
			return nil
		}
		return fmt.Errorf("create table failed: %w", err)
	}
	return nil
}

// CloseDB closes the database connection.
func CloseDB(db *gorm.DB, logger *slog.Logger) error {
	if db == nil {
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	logger.Info("closing database connection")
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	logger.Info("database connection closed")
	return nil
}
