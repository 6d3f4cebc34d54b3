package factory

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/finpilot/mail-finance-pilot/internal/adapters/gmail"
	"github.com/finpilot/mail-finance-pilot/internal/config"
	"github.com/finpilot/mail-finance-pilot/internal/core"
)

// SourceFactory creates mail sources per mailbox based on its provider.
// It implements core.SourceFactory.
type SourceFactory struct {
	cfg    *config.Config
	vault  core.CredentialVault
	logger *zap.Logger
}

// NewSourceFactory creates a new mail source factory
func NewSourceFactory(cfg *config.Config, vault core.CredentialVault, logger *zap.Logger) *SourceFactory {
	return &SourceFactory{
		cfg:    cfg,
		vault:  vault,
		logger: logger,
	}
}

// SourceFor creates a mail source for one mailbox
func (f *SourceFactory) SourceFor(ctx context.Context, mb *core.Mailbox) (core.MailSource, error) {
	switch mb.Provider {
	case "gmail":
		gmailCfg := f.cfg.GetGmail()
		oauthCfg := &oauth2.Config{
			ClientID:     gmailCfg.ClientID,
			ClientSecret: gmailCfg.ClientSecret,
			RedirectURL:  gmailCfg.RedirectURL,
			Scopes:       []string{gmailapi.GmailReadonlyScope},
			Endpoint:     google.Endpoint,
		}
		return gmail.NewSource(ctx, oauthCfg, f.vault, mb, f.logger)
	default:
		return nil, fmt.Errorf("unsupported mail provider: %s", mb.Provider)
	}
}
