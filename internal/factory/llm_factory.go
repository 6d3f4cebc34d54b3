package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/finpilot/mail-finance-pilot/internal/adapters/bedrock"
	"github.com/finpilot/mail-finance-pilot/internal/adapters/gemini"
	"github.com/finpilot/mail-finance-pilot/internal/adapters/openai"
	"github.com/finpilot/mail-finance-pilot/internal/config"
	"github.com/finpilot/mail-finance-pilot/internal/core"
	"github.com/finpilot/mail-finance-pilot/internal/utils"
)

// LLMFactory creates LLM clients
type LLMFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewLLMFactory creates a new LLM factory
func NewLLMFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *LLMFactory {
	return &LLMFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateLLMClient creates a new LLM client based on the configuration.
// Provider "none" returns a nil client; the pipeline then runs rule-only
// extraction and template-only drafts.
func (f *LLMFactory) CreateLLMClient() (core.LLMClient, error) {
	llmConfig := f.cfg.GetLLM()

	switch llmConfig.Provider {
	case "none", "":
		f.logger.Info("LLM provider disabled, running rule-only")
		return nil, nil
	case "bedrock":
		factory := bedrock.NewFactory(f.cfg, f.logger, f.textProcessor)
		return factory.CreateLLMClient()
	case "gemini":
		factory := gemini.NewFactory(f.cfg, f.logger, f.textProcessor)
		return factory.CreateLLMClient()
	case "openai":
		factory := openai.NewFactory(f.cfg, f.logger, f.textProcessor)
		return factory.CreateLLMClient()
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", llmConfig.Provider)
	}
}
