package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MailboxStatus indicates whether a linked mailbox may be synced.
type MailboxStatus string

const (
	MailboxActive  MailboxStatus = "active"
	MailboxPaused  MailboxStatus = "paused"
	MailboxRevoked MailboxStatus = "revoked"
)

// Mailbox is a linked email account under delegated access.
type Mailbox struct {
	ID               uuid.UUID
	Owner            string
	Provider         string
	CredentialHandle string
	Status           MailboxStatus
	CreatedAt        time.Time
}

// SyncCursor is the durable per-mailbox sync watermark. Position is the
// provider-specific resume point; InFlight holds message ids that were
// fetched but not yet committed when the last run ended.
type SyncCursor struct {
	Position string
	InFlight []string
}

// MessageStatus tracks a raw message through the pipeline.
type MessageStatus string

const (
	MessageFetched    MessageStatus = "fetched"
	MessageClassified MessageStatus = "classified"
	MessageExtracted  MessageStatus = "extracted"
	MessageSkipped    MessageStatus = "skipped"
	MessageFailed     MessageStatus = "failed"
)

// MessageMeta is the id+metadata pair returned by a mail source listing.
type MessageMeta struct {
	ProviderID   string
	InternalDate time.Time
}

// MessagePage is one finite page of a mail source listing.
type MessagePage struct {
	Items         []MessageMeta
	NextPageToken string
	// NewPosition is the watermark to persist once every item on this
	// page has been committed.
	NewPosition string
}

// RawMessage is a fetched email. Content is immutable once stored; only
// Status transitions afterwards.
type RawMessage struct {
	MailboxID    uuid.UUID
	ProviderID   string
	From         string
	Subject      string
	Snippet      string
	Body         string
	Headers      map[string]string
	InternalDate time.Time
	FetchedAt    time.Time
	Status       MessageStatus
}

// RecordKind distinguishes one-off transactions from recurring subscriptions.
type RecordKind string

const (
	KindTransaction  RecordKind = "transaction"
	KindSubscription RecordKind = "subscription"
)

// ExtractionMethod records which tier of the extraction engine produced
// a candidate record.
type ExtractionMethod string

const (
	MethodRule ExtractionMethod = "rule"
	MethodLLM  ExtractionMethod = "llm"
)

// FieldConfidence carries per-field extraction confidence.
type FieldConfidence struct {
	Merchant float64 `json:"merchant"`
	Amount   float64 `json:"amount"`
	Date     float64 `json:"date"`
}

// ExtractedRecord is one candidate financial record produced by a single
// extraction attempt. Records are never mutated; reconciliation supersedes
// them by merging into a FinancialFact.
type ExtractedRecord struct {
	ID          uuid.UUID
	MailboxID   uuid.UUID
	MessageID   string
	Kind        RecordKind
	Merchant    string
	Amount      decimal.Decimal
	HasAmount   bool
	Currency    string
	Date        time.Time
	Category    string
	IsRecurring bool
	TrialEnd    *time.Time
	RenewalDate *time.Time
	Fields      FieldConfidence
	Confidence  float64
	Method      ExtractionMethod
	ExtractedAt time.Time
}

// FieldProvenance remembers which extraction method and confidence produced
// the current value of a merged field, so later merges can apply the
// rule-over-llm precedence field by field.
type FieldProvenance struct {
	Method     ExtractionMethod `json:"method"`
	Confidence float64          `json:"confidence"`
	At         time.Time        `json:"at"`
}

// FactProvenance tracks provenance for every mergeable fact field.
type FactProvenance struct {
	Merchant FieldProvenance `json:"merchant"`
	Amount   FieldProvenance `json:"amount"`
	Date     FieldProvenance `json:"date"`
}

// FinancialFact is the canonical, reconciled record of a real-world
// financial event. Exactly one fact exists per dedup key; merges bump
// Revision and append to Contributors. Facts are never deleted, only
// superseded by a new revision.
type FinancialFact struct {
	ID             uuid.UUID
	Key            string
	MerchantKey    string
	Kind           RecordKind
	Merchant       string
	Amount         decimal.Decimal
	Currency       string
	Date           time.Time
	Category       string
	RecurrenceDays int
	NextRenewal    *time.Time
	TrialEnd       *time.Time
	Provenance     FactProvenance
	Contributors   []uuid.UUID
	Revision       int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AlertKind classifies a scheduled alert.
type AlertKind string

const (
	AlertRenewalUpcoming AlertKind = "renewal-upcoming"
	AlertAnomaly         AlertKind = "anomaly"
	AlertActionRequired  AlertKind = "action-required"
)

// AlertStatus is the alert lifecycle state.
type AlertStatus string

const (
	AlertScheduled  AlertStatus = "scheduled"
	AlertFired      AlertStatus = "fired"
	AlertCancelled  AlertStatus = "cancelled"
	AlertSuppressed AlertStatus = "suppressed"
)

// AlertEvent is a future-dated notification derived from a FinancialFact.
// FactRevision records the fact revision that produced the event so anomaly
// alerts are created at most once per revision.
type AlertEvent struct {
	ID           uuid.UUID
	FactID       uuid.UUID
	FactRevision int
	Kind         AlertKind
	TriggerAt    time.Time
	Status       AlertStatus
	Title        string
	Body         string
	CreatedAt    time.Time
}

// DraftStatus is the outbound draft lifecycle state.
type DraftStatus string

const (
	DraftDrafted  DraftStatus = "drafted"
	DraftApproved DraftStatus = "approved"
	DraftSentStub DraftStatus = "sent-stub"
)

// DraftEmail is a composed outbound email awaiting user review. Content is
// immutable once approved; only Status transitions afterwards.
type DraftEmail struct {
	ID        uuid.UUID
	FactID    uuid.UUID
	Action    string
	ToAddress string
	Subject   string
	Body      string
	Tone      string
	Status    DraftStatus
	CreatedAt time.Time
}
