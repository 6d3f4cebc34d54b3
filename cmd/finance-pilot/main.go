package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/finpilot/mail-finance-pilot/internal/config"
	"github.com/finpilot/mail-finance-pilot/internal/core"
	"github.com/finpilot/mail-finance-pilot/internal/di"
)

func main() {
	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	cfg *config.Config,
	logger *zap.Logger,
	store core.Store,
	syncService *core.SyncService,
	scheduler *core.AlertScheduler,
	llmClient core.LLMClient,
) error {
	defer logger.Sync()

	syncCfg, err := cfg.GetSync()
	if err != nil {
		return fmt.Errorf("invalid sync configuration: %w", err)
	}
	alertsCfg, err := cfg.GetAlerts()
	if err != nil {
		return fmt.Errorf("invalid alerts configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// Sync workers pull mailbox ids from a shared channel so a slow
	// mailbox never blocks the others.
	work := make(chan *core.Mailbox)
	workers := syncCfg.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for mb := range work {
				if err := syncService.SyncMailbox(ctx, mb.ID); err != nil {
					logger.Error("Mailbox sync failed",
						zap.String("mailbox_id", mb.ID.String()),
						zap.Error(err))
				}
			}
		}()
	}

	// Sync scheduler enumerates active mailboxes every interval.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(work)
		ticker := time.NewTicker(syncCfg.Interval)
		defer ticker.Stop()

		for {
			mailboxes, err := store.ListMailboxes(ctx, core.MailboxActive)
			if err != nil {
				logger.Error("Failed to list active mailboxes", zap.Error(err))
			}
			for _, mb := range mailboxes {
				select {
				case work <- mb:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Alert dispatcher fires due alerts on its own cadence.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(alertsCfg.DispatchInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := scheduler.DispatchDue(ctx, time.Now().UTC()); err != nil {
					logger.Error("Alert dispatch failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	logger.Info("Finance pilot started",
		zap.Int("sync_workers", workers),
		zap.Duration("sync_interval", syncCfg.Interval))

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Shutting down...")
	cancel()
	wg.Wait()

	// Close any resources that need closing
	if closer, ok := llmClient.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close LLM client", zap.Error(err))
		}
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close store", zap.Error(err))
		}
	}

	logger.Info("Shutdown complete")
	return nil
}
