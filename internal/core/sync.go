package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SourceFactory builds a MailSource for one mailbox, resolving credentials
// through the vault. ErrRevoked propagates unchanged.
type SourceFactory interface {
	SourceFor(ctx context.Context, mb *Mailbox) (MailSource, error)
}

// SyncService runs the incremental, resumable sync pipeline for one mailbox
// at a time. The method is idempotent and re-entrant: the task runtime may
// re-invoke it after failure or concurrently; a per-mailbox lane lock keeps
// each mailbox's stages sequential while different mailboxes proceed in
// parallel.
type SyncService struct {
	store        Store
	vault        CredentialVault
	sources      SourceFactory
	classifier   *Classifier
	extractor    *Extractor
	reconciler   *Reconciler
	logger       *zap.Logger
	pageSize     int64
	fetchTimeout time.Duration
	maxRetries   uint64
	lanes        *keyedMutex
}

// NewSyncService creates the sync runner.
func NewSyncService(
	store Store,
	vault CredentialVault,
	sources SourceFactory,
	classifier *Classifier,
	extractor *Extractor,
	reconciler *Reconciler,
	logger *zap.Logger,
	pageSize int64,
	fetchTimeout time.Duration,
	maxRetries uint64,
) *SyncService {
	return &SyncService{
		store:        store,
		vault:        vault,
		sources:      sources,
		classifier:   classifier,
		extractor:    extractor,
		reconciler:   reconciler,
		logger:       logger,
		pageSize:     pageSize,
		fetchTimeout: fetchTimeout,
		maxRetries:   maxRetries,
		lanes:        newKeyedMutex(),
	}
}

// SyncMailbox pulls, classifies, extracts, and reconciles new mail for one
// mailbox, advancing the cursor page by page. Cancellation mid-batch leaves
// the staged in-flight tail for the next run; committed ids are never
// reprocessed.
func (s *SyncService) SyncMailbox(ctx context.Context, mailboxID uuid.UUID) error {
	unlock := s.lanes.Lock(mailboxID.String())
	defer unlock()

	mb, err := s.store.GetMailbox(ctx, mailboxID)
	if err != nil {
		return fmt.Errorf("failed to load mailbox: %w", err)
	}
	if mb.Status != MailboxActive {
		s.logger.Debug("Skipping sync for inactive mailbox",
			zap.String("mailbox_id", mailboxID.String()),
			zap.String("status", string(mb.Status)))
		return nil
	}

	source, err := s.sources.SourceFor(ctx, mb)
	if err != nil {
		if errors.Is(err, ErrRevoked) {
			if uerr := s.store.UpdateMailboxStatus(ctx, mailboxID, MailboxRevoked); uerr != nil {
				return fmt.Errorf("failed to mark mailbox revoked: %w", uerr)
			}
			s.logger.Warn("Mailbox access revoked, halting sync",
				zap.String("mailbox_id", mailboxID.String()))
			return &AuthError{MailboxID: mailboxID.String(), Err: err}
		}
		return fmt.Errorf("failed to build mail source: %w", err)
	}

	cursor, err := s.store.ResumePoint(ctx, mailboxID)
	if err != nil {
		return fmt.Errorf("failed to load resume point: %w", err)
	}

	logger := s.logger.With(zap.String("mailbox_id", mailboxID.String()))
	logger.Info("Starting sync",
		zap.String("position", cursor.Position),
		zap.Int("in_flight", len(cursor.InFlight)))

	// Finish the uncommitted tail of a prior interrupted run first.
	if len(cursor.InFlight) > 0 {
		if err := s.processBatch(ctx, mb, source, logger, cursor.InFlight, cursor.Position); err != nil {
			return err
		}
	}

	pageToken := ""
	for {
		page, err := s.listWithBackoff(ctx, source, cursor.Position, pageToken)
		if err != nil {
			return s.sourceFailure(ctx, mb, err)
		}
		if len(page.Items) == 0 {
			break
		}

		ids := make([]string, 0, len(page.Items))
		for _, item := range page.Items {
			ids = append(ids, item.ProviderID)
		}
		position := page.NewPosition
		if position == "" {
			position = cursor.Position
		}
		if err := s.processBatch(ctx, mb, source, logger, ids, position); err != nil {
			return err
		}
		cursor.Position = position

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	logger.Info("Sync complete", zap.String("position", cursor.Position))
	return nil
}

// processBatch stages a batch as in-flight, processes each message, and
// atomically advances the watermark with the committed ids. A context
// cancellation returns before the advance, so only the uncommitted tail is
// replayed on resume.
func (s *SyncService) processBatch(ctx context.Context, mb *Mailbox, source MailSource, logger *zap.Logger, ids []string, newPosition string) error {
	if err := s.store.StageInFlight(ctx, mb.ID, ids); err != nil {
		return fmt.Errorf("failed to stage in-flight ids: %w", err)
	}

	committed := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			// Commit what finished; the rest stays in flight. The commit
			// runs detached from the cancelled context.
			if len(committed) > 0 {
				commitCtx := context.WithoutCancel(ctx)
				if aerr := s.store.Advance(commitCtx, mb.ID, SyncCursor{Position: newPosition}, committed); aerr != nil {
					logger.Error("Failed to commit partial batch on cancellation", zap.Error(aerr))
				}
			}
			return err
		}
		if err := s.processMessage(ctx, mb, source, logger, id); err != nil {
			return err
		}
		committed = append(committed, id)
	}

	if err := s.store.Advance(ctx, mb.ID, SyncCursor{Position: newPosition}, committed); err != nil {
		return fmt.Errorf("failed to advance cursor: %w", err)
	}
	return nil
}

// processMessage runs one message through the pipeline. Per-message
// extraction failures mark the message and never abort the batch; store
// failures do abort, to be retried at the next scheduled run.
func (s *SyncService) processMessage(ctx context.Context, mb *Mailbox, source MailSource, logger *zap.Logger, providerID string) error {
	done, err := s.store.Committed(ctx, mb.ID, providerID)
	if err != nil {
		return fmt.Errorf("failed to check committed set: %w", err)
	}
	if done {
		return nil
	}

	// A prior run may have finished this message and died before the
	// cursor advance. Terminal work is never redone; the id only needs
	// its commit.
	if prior, perr := s.store.GetMessage(ctx, mb.ID, providerID); perr == nil {
		if terminalMessageStatus(prior.Status) {
			return nil
		}
	} else if !errors.Is(perr, ErrNotFound) {
		return fmt.Errorf("failed to load stored message: %w", perr)
	}

	msg, err := s.fetchWithBackoff(ctx, source, providerID)
	if err != nil {
		return s.sourceFailure(ctx, mb, err)
	}
	msg.MailboxID = mb.ID
	msg.FetchedAt = time.Now().UTC()
	msg.Status = MessageFetched
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	cl := s.classifier.Classify(msg)
	if !cl.Relevant {
		// Skipped messages exit the pipeline permanently.
		return s.store.UpdateMessageStatus(ctx, mb.ID, providerID, MessageSkipped)
	}
	if err := s.store.UpdateMessageStatus(ctx, mb.ID, providerID, MessageClassified); err != nil {
		return err
	}

	records, err := s.extractor.Extract(ctx, msg, cl)
	if err != nil {
		var mismatch *ExtractionMismatch
		if errors.As(err, &mismatch) {
			logger.Warn("Extraction failed, message needs review",
				zap.String("message_id", providerID),
				zap.Error(err))
			return s.store.UpdateMessageStatus(ctx, mb.ID, providerID, MessageFailed)
		}
		return err
	}

	for _, rec := range records {
		if _, err := s.reconciler.Reconcile(ctx, rec); err != nil {
			var mismatch *ExtractionMismatch
			if errors.As(err, &mismatch) {
				logger.Warn("Candidate rejected at reconciliation",
					zap.String("message_id", providerID),
					zap.Error(err))
				return s.store.UpdateMessageStatus(ctx, mb.ID, providerID, MessageFailed)
			}
			return err
		}
	}
	return s.store.UpdateMessageStatus(ctx, mb.ID, providerID, MessageExtracted)
}

// terminalMessageStatus reports whether a message finished the pipeline.
func terminalMessageStatus(status MessageStatus) bool {
	switch status {
	case MessageExtracted, MessageSkipped, MessageFailed:
		return true
	}
	return false
}

func (s *SyncService) listWithBackoff(ctx context.Context, source MailSource, position, pageToken string) (*MessagePage, error) {
	var page *MessagePage
	op := func() error {
		var err error
		page, err = source.ListMessagesSince(ctx, position, pageToken, s.pageSize)
		return retryableOnly(err)
	}
	if err := backoff.Retry(op, s.retryPolicy(ctx)); err != nil {
		return nil, err
	}
	return page, nil
}

func (s *SyncService) fetchWithBackoff(ctx context.Context, source MailSource, providerID string) (*RawMessage, error) {
	var msg *RawMessage
	op := func() error {
		fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()
		var err error
		msg, err = source.FetchMessage(fetchCtx, providerID)
		return retryableOnly(err)
	}
	if err := backoff.Retry(op, s.retryPolicy(ctx)); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *SyncService) retryPolicy(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.maxRetries), ctx)
}

// retryableOnly retries rate limiting and transient source errors; anything
// else fails the attempt permanently.
func retryableOnly(err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) {
		return err
	}
	return backoff.Permanent(err)
}

// sourceFailure maps terminal source errors: revoked access flips the
// mailbox status, expired auth halts this mailbox only, anything transient
// surfaces for the next scheduled run.
func (s *SyncService) sourceFailure(ctx context.Context, mb *Mailbox, err error) error {
	if errors.Is(err, ErrRevoked) {
		if uerr := s.store.UpdateMailboxStatus(ctx, mb.ID, MailboxRevoked); uerr != nil {
			return fmt.Errorf("failed to mark mailbox revoked: %w", uerr)
		}
		return &AuthError{MailboxID: mb.ID.String(), Err: err}
	}
	if errors.Is(err, ErrAuthExpired) {
		return &AuthError{MailboxID: mb.ID.String(), Err: err}
	}
	if errors.Is(err, ErrRateLimited) {
		return &TransientSourceError{Err: err}
	}
	return err
}
