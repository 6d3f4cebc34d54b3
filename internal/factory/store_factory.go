package factory

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/finpilot/mail-finance-pilot/internal/adapters/store"
	"github.com/finpilot/mail-finance-pilot/internal/config"
	"github.com/finpilot/mail-finance-pilot/internal/core"
)

// StoreFactory creates persistence backends based on configuration
type StoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(cfg *config.Config, logger *zap.Logger) *StoreFactory {
	return &StoreFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateStore creates a store based on the configuration
func (f *StoreFactory) CreateStore() (core.Store, error) {
	storeCfg := f.cfg.GetStore()

	switch storeCfg.Type {
	case "memory":
		return store.NewMemoryStore(f.logger), nil
	case "sqlite":
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(storeCfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
		}
		return store.NewSQLiteStore(storeCfg.SQLitePath, f.logger)
	case "mysql":
		return store.NewMySQLStore(storeCfg.MySQLDSN, f.logger)
	case "postgres":
		return store.NewPostgresStore(storeCfg.PostgresDSN, f.logger)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", storeCfg.Type)
	}
}
