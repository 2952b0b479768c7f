package avalon

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
)

// ModelUnixTime is an embeddable model with Unix timestamps for
// creation, update, and deletion.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// database wraps the GORM connection. SQLite only supports a single
// writer, so writes are serialized with a mutex unless the backing
// database is postgres.
type database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	logger                 *slog.Logger
	enableConcurrentWrites bool
}

func newDatabase(
	db *gorm.DB,
	log *slog.Logger,
	enableConcurrentWrites bool,
) *database {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:                     db,
		logger:                 log.With(loggerNameKey, "writedb"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) Create(value any) (rowsAffected int64, err error) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	tx := d.db.Create(value)
	return tx.RowsAffected, tx.Error
}

func (d *database) Updates(value any, updates map[string]any) (
	rowsAffected int64,
	err error,
) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	tx := d.db.Model(value).Updates(updates)
	return tx.RowsAffected, tx.Error
}

// CreateDB opens (and, for sqlite, tunes) a database connection, and
// migrates the schema.
func CreateDB(
	databaseType string,
	dsn string,
	handler slog.Handler,
	slowThreshold time.Duration,
) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(databaseType) {
	case dbTypeSQLite:
		dialector = sqlite.Open(dsn)
	case dbTypePostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown database type: %s", databaseType)
	}

	db, err := gorm.Open(
		dialector, &gorm.Config{
			Logger: newGORMLogger(handler, slowThreshold),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if strings.ToLower(databaseType) == dbTypeSQLite {
		sqlDB, sqlErr := db.DB()
		if sqlErr != nil {
			return nil, fmt.Errorf("error getting sql db: %w", sqlErr)
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		for _, pragma := range sqliteExecPragma {
			if execErr := db.Exec(pragma).Error; execErr != nil {
				return nil, fmt.Errorf(
					"error executing '%s': %w",
					pragma,
					execErr,
				)
			}
		}
	}

	if err = db.AutoMigrate(
		&BotSetting{},
		&InteractionLog{},
		&ChatCommand{},
	); err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}

	return db, nil
}
