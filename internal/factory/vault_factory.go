package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/finpilot/mail-finance-pilot/internal/adapters/vault"
	"github.com/finpilot/mail-finance-pilot/internal/config"
	"github.com/finpilot/mail-finance-pilot/internal/core"
)

// VaultFactory creates credential vaults based on configuration
type VaultFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewVaultFactory creates a new vault factory
func NewVaultFactory(cfg *config.Config, logger *zap.Logger) *VaultFactory {
	return &VaultFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateVault creates a credential vault based on the configuration
func (f *VaultFactory) CreateVault() (core.CredentialVault, error) {
	vaultCfg := f.cfg.GetVault()
	if vaultCfg.Key == "" {
		return nil, fmt.Errorf("vault.key is required")
	}
	return vault.NewFileVault(vaultCfg.Path, vaultCfg.Key, f.logger)
}
