package core

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthExpired is returned by a mail source when the access token is
	// no longer accepted; the caller should refresh credentials and retry.
	ErrAuthExpired = errors.New("mail source auth expired")

	// ErrRateLimited is returned by a mail source when the provider is
	// throttling; the caller backs off and retries, the cursor is unchanged.
	ErrRateLimited = errors.New("mail source rate limited")

	// ErrRevoked is returned by the credential vault when the user has
	// withdrawn access; the mailbox transitions to revoked and sync halts.
	ErrRevoked = errors.New("credentials revoked")

	// ErrNotFound is returned by stores when an entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoExtraction indicates neither the rule tier nor the LLM tier
	// produced a record for a relevant message.
	ErrNoExtraction = errors.New("no extraction produced")
)

// TransientSourceError wraps a retryable mail source failure (network,
// throttling). Sync retries with backoff and never advances the cursor past
// the failed window.
type TransientSourceError struct {
	Err error
}

func (e *TransientSourceError) Error() string {
	return fmt.Sprintf("transient source error: %v", e.Err)
}

func (e *TransientSourceError) Unwrap() error { return e.Err }

// AuthError indicates invalid or revoked credentials for one mailbox. It
// halts that mailbox only.
type AuthError struct {
	MailboxID string
	Err       error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error for mailbox %s: %v", e.MailboxID, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ExtractionMismatch indicates schema or parse failure during extraction.
// The message is marked failed for manual review and the batch continues.
type ExtractionMismatch struct {
	MessageID string
	Err       error
}

func (e *ExtractionMismatch) Error() string {
	return fmt.Sprintf("extraction mismatch for message %s: %v", e.MessageID, e.Err)
}

func (e *ExtractionMismatch) Unwrap() error { return e.Err }

// ReconciliationConflict should not occur under the single-writer-per-key
// discipline. Observing one is a bug, not a user-facing condition.
type ReconciliationConflict struct {
	Key      string
	Expected int
	Got      int
}

func (e *ReconciliationConflict) Error() string {
	return fmt.Sprintf("reconciliation conflict on key %s: expected revision %d, got %d", e.Key, e.Expected, e.Got)
}

// IsTransient reports whether err should be retried without surfacing.
func IsTransient(err error) bool {
	var te *TransientSourceError
	return errors.As(err, &te) || errors.Is(err, ErrRateLimited)
}
