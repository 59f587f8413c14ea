// Package database owns the SQLite connection and schema of the relational visit store.
package database

import (
	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"visitly/internal/config"
	"visitly/internal/visits"
)

// DBManager wraps cartridge's sqlite.Manager with the visit schema migration.
type DBManager struct {
	*sqlite.Manager
	logger *slog.Logger
}

// NewDBManager creates a database manager for cfg's database file.
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

// Init opens the connection.
func (dm *DBManager) Init() error {
	_, err := dm.Manager.Connect()
	return err
}

// Models lists every table the relational store needs.
func Models() []any {
	return []any{
		&visits.Visit{},
	}
}

// MigrateDatabase creates or updates the visits table and its indexes.
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

	if err := dm.CheckpointWAL("FULL"); err != nil {
		dm.logger.Warn("Failed to checkpoint WAL after migration", slog.Any("error", err))
	}

	dm.logger.Info("Database migration completed successfully")
	return nil
}
