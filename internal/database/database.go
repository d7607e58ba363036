package database

import (
	"log/slog"

	"github.com/karloscodes/cartridge/cache"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"visitrack/internal/config"
	"visitrack/internal/settings"
	"visitrack/internal/visitors"
)

// DBManager wraps cartridge's sqlite.Manager with the visitrack schema.
type DBManager struct {
	*sqlite.Manager
	logger *slog.Logger
}

func NewDBManager(cfg *config.Config, logger *slog.Logger) *DBManager {
	sqliteCfg := sqlite.Config{
		Path:         cfg.GetDatabasePath(),
		MaxOpenConns: cfg.GetMaxOpenConns(),
		MaxIdleConns: cfg.GetMaxIdleConns(),
		Logger:       logger,
		EnableWAL:    true,
		TxImmediate:  true,
		BusyTimeout:  5000,
	}

	return &DBManager{
		Manager: sqlite.NewManager(sqliteCfg),
		logger:  logger,
	}
}

// Init opens the connection pool.
func (dm *DBManager) Init() error {
	_, err := dm.Manager.Connect()
	return err
}

// Models lists every table visitrack owns, in migration order.
func Models() []any {
	return []any{
		&cache.CacheRecord{},
		&settings.Setting{},
		&visitors.Visitor{},
	}
}

// MigrateDatabase creates or updates the schema, including the unique
// identity index the visit upsert depends on.
func (dm *DBManager) MigrateDatabase() error {
	db := dm.GetConnection()
	if db == nil {
		return gorm.ErrInvalidDB
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.AutoMigrate(Models()...)
	})
	if err != nil {
		dm.logger.Error("Failed to auto-migrate database", slog.Any("error", err))
		return err
	}

	if err := settings.SetupDefaultSettings(db); err != nil {
		dm.logger.Error("Failed to seed default settings", slog.Any("error", err))
		return err
	}

	if err := dm.CheckpointWAL("FULL"); err != nil {
		dm.logger.Warn("Failed to checkpoint WAL after migration", slog.Any("error", err))
	}

	dm.logger.Info("Database migration completed successfully")
	return nil
}
