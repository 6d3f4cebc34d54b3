package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finpilot/mail-finance-pilot/internal/core"
)

// MemoryStore is an in-memory implementation of core.Store. It backs tests
// and single-process deployments that do not need durability.
type MemoryStore struct {
	mu     sync.RWMutex
	logger *zap.Logger

	mailboxes map[uuid.UUID]*core.Mailbox
	cursors   map[uuid.UUID]*core.SyncCursor
	committed map[uuid.UUID]map[string]struct{}
	messages  map[uuid.UUID]map[string]*core.RawMessage
	records   map[uuid.UUID]*core.ExtractedRecord
	facts     map[string]*core.FinancialFact
	alerts    map[uuid.UUID]*core.AlertEvent
	drafts    map[uuid.UUID]*core.DraftEmail
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		logger:    logger,
		mailboxes: make(map[uuid.UUID]*core.Mailbox),
		cursors:   make(map[uuid.UUID]*core.SyncCursor),
		committed: make(map[uuid.UUID]map[string]struct{}),
		messages:  make(map[uuid.UUID]map[string]*core.RawMessage),
		records:   make(map[uuid.UUID]*core.ExtractedRecord),
		facts:     make(map[string]*core.FinancialFact),
		alerts:    make(map[uuid.UUID]*core.AlertEvent),
		drafts:    make(map[uuid.UUID]*core.DraftEmail),
	}
}

// --- MailboxStore ---

func (s *MemoryStore) SaveMailbox(_ context.Context, mb *core.Mailbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *mb
	s.mailboxes[mb.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMailbox(_ context.Context, id uuid.UUID) (*core.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mb, ok := s.mailboxes[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *mb
	return &cp, nil
}

func (s *MemoryStore) ListMailboxes(_ context.Context, status core.MailboxStatus) ([]*core.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Mailbox
	for _, mb := range s.mailboxes {
		if mb.Status == status {
			cp := *mb
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateMailboxStatus(_ context.Context, id uuid.UUID, status core.MailboxStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb, ok := s.mailboxes[id]
	if !ok {
		return core.ErrNotFound
	}
	mb.Status = status
	return nil
}

// --- CursorStore ---

func (s *MemoryStore) ResumePoint(_ context.Context, mailboxID uuid.UUID) (core.SyncCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur, ok := s.cursors[mailboxID]
	if !ok {
		return core.SyncCursor{}, nil
	}
	out := core.SyncCursor{Position: cur.Position}
	out.InFlight = append(out.InFlight, cur.InFlight...)
	return out, nil
}

func (s *MemoryStore) StageInFlight(_ context.Context, mailboxID uuid.UUID, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.cursors[mailboxID]
	if !ok {
		cur = &core.SyncCursor{}
		s.cursors[mailboxID] = cur
	}
	cur.InFlight = append([]string(nil), ids...)
	return nil
}

func (s *MemoryStore) Advance(_ context.Context, mailboxID uuid.UUID, cursor core.SyncCursor, committedIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.committed[mailboxID]
	if !ok {
		set = make(map[string]struct{})
		s.committed[mailboxID] = set
	}
	for _, id := range committedIDs {
		set[id] = struct{}{}
	}

	cur, ok := s.cursors[mailboxID]
	if !ok {
		cur = &core.SyncCursor{}
		s.cursors[mailboxID] = cur
	}
	cur.Position = cursor.Position

	// Committed ids leave the in-flight set; anything else stays staged.
	remaining := cur.InFlight[:0]
	for _, id := range cur.InFlight {
		if _, done := set[id]; !done {
			remaining = append(remaining, id)
		}
	}
	cur.InFlight = remaining
	return nil
}

func (s *MemoryStore) Committed(_ context.Context, mailboxID uuid.UUID, providerID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.committed[mailboxID]
	if !ok {
		return false, nil
	}
	_, done := set[providerID]
	return done, nil
}

// --- MessageStore ---

func (s *MemoryStore) SaveMessage(_ context.Context, msg *core.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	box, ok := s.messages[msg.MailboxID]
	if !ok {
		box = make(map[string]*core.RawMessage)
		s.messages[msg.MailboxID] = box
	}
	if existing, ok := box[msg.ProviderID]; ok {
		// Content is immutable once fetched; a re-fetch only refreshes
		// status bookkeeping.
		existing.Status = msg.Status
		existing.FetchedAt = msg.FetchedAt
		return nil
	}
	cp := *msg
	box[msg.ProviderID] = &cp
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, mailboxID uuid.UUID, providerID string) (*core.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	box, ok := s.messages[mailboxID]
	if !ok {
		return nil, core.ErrNotFound
	}
	msg, ok := box[providerID]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (s *MemoryStore) UpdateMessageStatus(_ context.Context, mailboxID uuid.UUID, providerID string, status core.MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	box, ok := s.messages[mailboxID]
	if !ok {
		return core.ErrNotFound
	}
	msg, ok := box[providerID]
	if !ok {
		return core.ErrNotFound
	}
	msg.Status = status
	return nil
}

func (s *MemoryStore) ListMessagesByStatus(_ context.Context, mailboxID uuid.UUID, status core.MessageStatus, limit int) ([]*core.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.RawMessage
	for _, msg := range s.messages[mailboxID] {
		if msg.Status != status {
			continue
		}
		cp := *msg
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InternalDate.Before(out[j].InternalDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- RecordStore ---

func (s *MemoryStore) SaveRecord(_ context.Context, rec *core.ExtractedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) ListRecordsByIDs(_ context.Context, ids []uuid.UUID) ([]*core.ExtractedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.ExtractedRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- FactStore ---

func (s *MemoryStore) SaveFact(_ context.Context, fact *core.FinancialFact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *fact
	cp.Contributors = append([]uuid.UUID(nil), fact.Contributors...)
	s.facts[fact.Key] = &cp
	return nil
}

func (s *MemoryStore) GetFact(_ context.Context, id uuid.UUID) (*core.FinancialFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.facts {
		if f.ID == id {
			return copyFact(f), nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *MemoryStore) GetFactByKey(_ context.Context, key string) (*core.FinancialFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.facts[key]
	if !ok {
		return nil, core.ErrNotFound
	}
	return copyFact(f), nil
}

func (s *MemoryStore) FindFactsByPrefix(_ context.Context, prefix string) ([]*core.FinancialFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.FinancialFact
	for key, f := range s.facts {
		if strings.HasPrefix(key, prefix+"|") {
			out = append(out, copyFact(f))
		}
	}
	return out, nil
}

func (s *MemoryStore) ListFactsByMerchant(_ context.Context, merchantKey string) ([]*core.FinancialFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.FinancialFact
	for _, f := range s.facts {
		if f.MerchantKey == merchantKey {
			out = append(out, copyFact(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func copyFact(f *core.FinancialFact) *core.FinancialFact {
	cp := *f
	cp.Contributors = append([]uuid.UUID(nil), f.Contributors...)
	return &cp
}

// --- AlertStore ---

func (s *MemoryStore) SaveAlert(_ context.Context, ev *core.AlertEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	s.alerts[ev.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAlert(_ context.Context, id uuid.UUID) (*core.AlertEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.alerts[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (s *MemoryStore) UpdateAlertStatus(_ context.Context, id uuid.UUID, status core.AlertStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.alerts[id]
	if !ok {
		return core.ErrNotFound
	}
	ev.Status = status
	return nil
}

func (s *MemoryStore) ListAlertsByFact(_ context.Context, factID uuid.UUID, status core.AlertStatus) ([]*core.AlertEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.AlertEvent
	for _, ev := range s.alerts {
		if ev.FactID == factID && ev.Status == status {
			cp := *ev
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggerAt.Before(out[j].TriggerAt) })
	return out, nil
}

func (s *MemoryStore) FindAlert(_ context.Context, factID uuid.UUID, revision int, kind core.AlertKind) (*core.AlertEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ev := range s.alerts {
		if ev.FactID == factID && ev.FactRevision == revision && ev.Kind == kind {
			cp := *ev
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *MemoryStore) ListDueAlerts(_ context.Context, now time.Time) ([]*core.AlertEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.AlertEvent
	for _, ev := range s.alerts {
		if ev.Status == core.AlertScheduled && !ev.TriggerAt.After(now) {
			cp := *ev
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggerAt.Before(out[j].TriggerAt) })
	return out, nil
}

// --- DraftStore ---

func (s *MemoryStore) SaveDraft(_ context.Context, d *core.DraftEmail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.drafts[d.ID] = &cp
	return nil
}

func (s *MemoryStore) GetDraft(_ context.Context, id uuid.UUID) (*core.DraftEmail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) UpdateDraftStatus(_ context.Context, id uuid.UUID, status core.DraftStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[id]
	if !ok {
		return core.ErrNotFound
	}
	d.Status = status
	return nil
}
