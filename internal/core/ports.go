package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// MailSource is the capability a mail provider adapter must expose. One
// implementation exists per provider; the pipeline never sees provider
// specifics. Listing is paginated and ordered by the provider; both calls
// may fail with ErrAuthExpired or ErrRateLimited.
type MailSource interface {
	// ListMessagesSince returns one page of message ids at or after the
	// given watermark position. pageToken continues a listing within one
	// run; an empty token starts from the position.
	ListMessagesSince(ctx context.Context, position, pageToken string, pageSize int64) (*MessagePage, error)

	// FetchMessage retrieves the full content of one message.
	FetchMessage(ctx context.Context, providerID string) (*RawMessage, error)
}

// CredentialVault holds encrypted OAuth tokens per mailbox. Rotation is
// atomic with respect to concurrent readers.
type CredentialVault interface {
	// ActiveCredential returns the decrypted token for a mailbox, or
	// ErrRevoked when the user has withdrawn access.
	ActiveCredential(ctx context.Context, handle string) (*oauth2.Token, error)

	// Rotate replaces the stored token after a refresh.
	Rotate(ctx context.Context, handle string, token *oauth2.Token) error
}

// CursorStore persists the per-mailbox sync watermark.
type CursorStore interface {
	// ResumePoint returns the last durable cursor plus any message ids
	// still in flight from a prior run.
	ResumePoint(ctx context.Context, mailboxID uuid.UUID) (SyncCursor, error)

	// StageInFlight durably records ids fetched in the current batch so a
	// crash mid-batch leaves a resumable tail. The watermark is unchanged.
	StageInFlight(ctx context.Context, mailboxID uuid.UUID, ids []string) error

	// Advance atomically moves the watermark and marks the given ids
	// committed, clearing them from the in-flight set. Either both happen
	// or neither does.
	Advance(ctx context.Context, mailboxID uuid.UUID, cursor SyncCursor, committed []string) error

	// Committed reports whether a message id was committed by an earlier
	// sync and must not be reprocessed.
	Committed(ctx context.Context, mailboxID uuid.UUID, providerID string) (bool, error)
}

// MailboxStore persists linked mailboxes.
type MailboxStore interface {
	SaveMailbox(ctx context.Context, mb *Mailbox) error
	GetMailbox(ctx context.Context, id uuid.UUID) (*Mailbox, error)
	ListMailboxes(ctx context.Context, status MailboxStatus) ([]*Mailbox, error)
	UpdateMailboxStatus(ctx context.Context, id uuid.UUID, status MailboxStatus) error
}

// MessageStore persists raw messages and their pipeline status.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *RawMessage) error
	GetMessage(ctx context.Context, mailboxID uuid.UUID, providerID string) (*RawMessage, error)
	UpdateMessageStatus(ctx context.Context, mailboxID uuid.UUID, providerID string, status MessageStatus) error
	ListMessagesByStatus(ctx context.Context, mailboxID uuid.UUID, status MessageStatus, limit int) ([]*RawMessage, error)
}

// RecordStore persists immutable extraction candidates.
type RecordStore interface {
	SaveRecord(ctx context.Context, rec *ExtractedRecord) error
	ListRecordsByIDs(ctx context.Context, ids []uuid.UUID) ([]*ExtractedRecord, error)
}

// FactStore persists canonical financial facts. SaveFact upserts by dedup
// key; callers hold the per-key reconciliation lock.
type FactStore interface {
	SaveFact(ctx context.Context, fact *FinancialFact) error
	GetFact(ctx context.Context, id uuid.UUID) (*FinancialFact, error)
	GetFactByKey(ctx context.Context, key string) (*FinancialFact, error)
	// FindFactsByPrefix returns facts whose key starts with the given
	// merchant+amount+kind prefix, i.e. the same event across date buckets.
	FindFactsByPrefix(ctx context.Context, prefix string) ([]*FinancialFact, error)
	ListFactsByMerchant(ctx context.Context, merchantKey string) ([]*FinancialFact, error)
}

// AlertStore persists scheduled alerts and their lifecycle.
type AlertStore interface {
	SaveAlert(ctx context.Context, ev *AlertEvent) error
	GetAlert(ctx context.Context, id uuid.UUID) (*AlertEvent, error)
	UpdateAlertStatus(ctx context.Context, id uuid.UUID, status AlertStatus) error
	ListAlertsByFact(ctx context.Context, factID uuid.UUID, status AlertStatus) ([]*AlertEvent, error)
	// FindAlert locates the alert created for a specific fact revision and
	// kind, regardless of status.
	FindAlert(ctx context.Context, factID uuid.UUID, revision int, kind AlertKind) (*AlertEvent, error)
	ListDueAlerts(ctx context.Context, now time.Time) ([]*AlertEvent, error)
}

// DraftStore persists composed outbound drafts.
type DraftStore interface {
	SaveDraft(ctx context.Context, d *DraftEmail) error
	GetDraft(ctx context.Context, id uuid.UUID) (*DraftEmail, error)
	UpdateDraftStatus(ctx context.Context, id uuid.UUID, status DraftStatus) error
}

// Store aggregates every persistence concern a backend must implement.
type Store interface {
	CursorStore
	MailboxStore
	MessageStore
	RecordStore
	FactStore
	DraftStore
	AlertStore
}

// LLMExtraction is the strict output schema the LLM tier must produce.
type LLMExtraction struct {
	Vendor          string `json:"vendor"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	TransactionDate string `json:"transaction_date"`
	Category        string `json:"category"`
	IsSubscription  bool   `json:"is_subscription"`
	TrialEndDate    string `json:"trial_end_date"`
	RenewalDate     string `json:"renewal_date"`
	Confidence      struct {
		Vendor float64 `json:"vendor"`
		Amount float64 `json:"amount"`
		Date   float64 `json:"date"`
	} `json:"confidence"`
}

// LLMClient is the optional LLM capability. A nil client is a valid,
// fully supported configuration: the extraction engine degrades to
// rule-only output and the composer returns template-rendered drafts.
type LLMClient interface {
	// ExtractTransaction extracts structured purchase/subscription fields
	// from a message, or returns nil when the message is not a receipt.
	ExtractTransaction(ctx context.Context, msg *RawMessage) (*LLMExtraction, error)

	// RewriteDraft rewrites a template-rendered draft in the given tone.
	RewriteDraft(ctx context.Context, subject, body, tone string) (string, string, error)
}

// DeliveryQueue is the stubbed delivery boundary. The core only guarantees
// correct construction and timing of these calls; transport is external.
type DeliveryQueue interface {
	EnqueueNotification(ctx context.Context, ev *AlertEvent) error
	EnqueueEmail(ctx context.Context, d *DraftEmail) error
}

// FactObserver is notified after a fact merge commits. Called outside the
// reconciliation lock.
type FactObserver interface {
	OnFactChanged(ctx context.Context, fact *FinancialFact, trigger *ExtractedRecord)
}
