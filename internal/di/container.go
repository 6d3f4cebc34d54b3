package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/finpilot/mail-finance-pilot/internal/adapters/delivery"
	"github.com/finpilot/mail-finance-pilot/internal/config"
	"github.com/finpilot/mail-finance-pilot/internal/core"
	"github.com/finpilot/mail-finance-pilot/internal/factory"
	"github.com/finpilot/mail-finance-pilot/internal/logging"
	"github.com/finpilot/mail-finance-pilot/internal/utils"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewLLMFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewStoreFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewVaultFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewTextProcessorFactory); err != nil {
		return nil, err
	}

	// Register text processor
	if err := container.Provide(func(f *factory.TextProcessorFactory) *utils.TextProcessor {
		return f.CreateTextProcessor()
	}); err != nil {
		return nil, err
	}

	// Register LLM client
	if err := container.Provide(func(f *factory.LLMFactory) (core.LLMClient, error) {
		return f.CreateLLMClient()
	}); err != nil {
		return nil, err
	}

	// Register store
	if err := container.Provide(func(f *factory.StoreFactory) (core.Store, error) {
		return f.CreateStore()
	}); err != nil {
		return nil, err
	}

	// Register credential vault
	if err := container.Provide(func(f *factory.VaultFactory) (core.CredentialVault, error) {
		return f.CreateVault()
	}); err != nil {
		return nil, err
	}

	// Register mail source factory
	if err := container.Provide(func(cfg *config.Config, vault core.CredentialVault, logger *zap.Logger) core.SourceFactory {
		return factory.NewSourceFactory(cfg, vault, logger)
	}); err != nil {
		return nil, err
	}

	// Register delivery queue
	if err := container.Provide(func(logger *zap.Logger) core.DeliveryQueue {
		return delivery.NewLogQueue(logger)
	}); err != nil {
		return nil, err
	}

	// Register classifier
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) *core.Classifier {
		classifyCfg := cfg.GetClassify()
		if len(classifyCfg.AllowedDomains) > 0 {
			logger.Info("Loaded allowed sender domains", zap.Strings("domains", classifyCfg.AllowedDomains))
		}
		return core.NewClassifier(classifyCfg.AllowedDomains, classifyCfg.BlockedDomains, logger)
	}); err != nil {
		return nil, err
	}

	// Register extraction engine
	if err := container.Provide(func(cfg *config.Config, llm core.LLMClient, logger *zap.Logger) (*core.Extractor, error) {
		extractCfg, err := cfg.GetExtract()
		if err != nil {
			return nil, err
		}
		return core.NewExtractor(llm, logger, extractCfg.RuleConfidence, extractCfg.FallbackBelow, extractCfg.LLMTimeout), nil
	}); err != nil {
		return nil, err
	}

	// Register alert scheduler
	if err := container.Provide(func(cfg *config.Config, store core.Store, queue core.DeliveryQueue, logger *zap.Logger) (*core.AlertScheduler, error) {
		alertsCfg, err := cfg.GetAlerts()
		if err != nil {
			return nil, err
		}
		anomalyCfg := cfg.GetAnomaly()
		return core.NewAlertScheduler(
			store,
			store,
			queue,
			logger,
			alertsCfg.RenewalLeadTime,
			alertsCfg.RescheduleTolerance,
			anomalyCfg.ZThreshold,
			anomalyCfg.MinHistory,
		), nil
	}); err != nil {
		return nil, err
	}

	// Register reconciler, observed by the alert scheduler
	if err := container.Provide(func(cfg *config.Config, store core.Store, scheduler *core.AlertScheduler, logger *zap.Logger) *core.Reconciler {
		dedupCfg := cfg.GetDedup()
		reconciler := core.NewReconciler(store, store, logger, dedupCfg.DateWindowDays)
		reconciler.SetObserver(scheduler)
		return reconciler
	}); err != nil {
		return nil, err
	}

	// Register draft composer
	if err := container.Provide(func(cfg *config.Config, store core.Store, queue core.DeliveryQueue, llm core.LLMClient, logger *zap.Logger) (*core.Composer, error) {
		draftsCfg, err := cfg.GetDrafts()
		if err != nil {
			return nil, err
		}
		return core.NewComposer(store, store, queue, llm, logger, draftsCfg.RewriteEnabled, draftsCfg.RewriteTimeout), nil
	}); err != nil {
		return nil, err
	}

	// Register sync service
	if err := container.Provide(func(
		cfg *config.Config,
		store core.Store,
		vault core.CredentialVault,
		sources core.SourceFactory,
		classifier *core.Classifier,
		extractor *core.Extractor,
		reconciler *core.Reconciler,
		logger *zap.Logger,
	) (*core.SyncService, error) {
		syncCfg, err := cfg.GetSync()
		if err != nil {
			return nil, err
		}
		return core.NewSyncService(
			store,
			vault,
			sources,
			classifier,
			extractor,
			reconciler,
			logger,
			syncCfg.PageSize,
			syncCfg.FetchTimeout,
			uint64(syncCfg.MaxRetries),
		), nil
	}); err != nil {
		return nil, err
	}

	return container, nil
}
