package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// fakeStore is an in-memory Store for service tests. Not safe for real
// concurrency beyond the coarse mutex; the services under test serialize
// their own critical sections.
type fakeStore struct {
	mu sync.Mutex

	mailboxes map[uuid.UUID]*Mailbox
	cursors   map[uuid.UUID]SyncCursor
	committed map[uuid.UUID]map[string]bool
	messages  map[uuid.UUID]map[string]*RawMessage
	records   map[uuid.UUID]*ExtractedRecord
	facts     map[string]*FinancialFact
	alerts    map[uuid.UUID]*AlertEvent
	drafts    map[uuid.UUID]*DraftEmail

	failSaveFact error
	failAdvance  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		mailboxes: make(map[uuid.UUID]*Mailbox),
		cursors:   make(map[uuid.UUID]SyncCursor),
		committed: make(map[uuid.UUID]map[string]bool),
		messages:  make(map[uuid.UUID]map[string]*RawMessage),
		records:   make(map[uuid.UUID]*ExtractedRecord),
		facts:     make(map[string]*FinancialFact),
		alerts:    make(map[uuid.UUID]*AlertEvent),
		drafts:    make(map[uuid.UUID]*DraftEmail),
	}
}

func (s *fakeStore) SaveMailbox(_ context.Context, mb *Mailbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mailboxes[mb.ID] = mb
	return nil
}

func (s *fakeStore) GetMailbox(_ context.Context, id uuid.UUID) (*Mailbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb, ok := s.mailboxes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return mb, nil
}

func (s *fakeStore) ListMailboxes(_ context.Context, status MailboxStatus) ([]*Mailbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Mailbox
	for _, mb := range s.mailboxes {
		if mb.Status == status {
			out = append(out, mb)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateMailboxStatus(_ context.Context, id uuid.UUID, status MailboxStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb, ok := s.mailboxes[id]
	if !ok {
		return ErrNotFound
	}
	mb.Status = status
	return nil
}

func (s *fakeStore) ResumePoint(_ context.Context, mailboxID uuid.UUID) (SyncCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[mailboxID], nil
}

func (s *fakeStore) StageInFlight(_ context.Context, mailboxID uuid.UUID, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.cursors[mailboxID]
	cur.InFlight = append([]string{}, ids...)
	s.cursors[mailboxID] = cur
	return nil
}

func (s *fakeStore) Advance(ctx context.Context, mailboxID uuid.UUID, cursor SyncCursor, committed []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAdvance != nil {
		return s.failAdvance
	}
	done := s.committed[mailboxID]
	if done == nil {
		done = make(map[string]bool)
		s.committed[mailboxID] = done
	}
	for _, id := range committed {
		done[id] = true
	}
	prev := s.cursors[mailboxID]
	var remaining []string
	for _, id := range prev.InFlight {
		if !done[id] {
			remaining = append(remaining, id)
		}
	}
	s.cursors[mailboxID] = SyncCursor{Position: cursor.Position, InFlight: remaining}
	return nil
}

func (s *fakeStore) Committed(_ context.Context, mailboxID uuid.UUID, providerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed[mailboxID][providerID], nil
}

func (s *fakeStore) SaveMessage(_ context.Context, msg *RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.messages[msg.MailboxID]
	if byID == nil {
		byID = make(map[string]*RawMessage)
		s.messages[msg.MailboxID] = byID
	}
	cp := *msg
	byID[msg.ProviderID] = &cp
	return nil
}

func (s *fakeStore) GetMessage(_ context.Context, mailboxID uuid.UUID, providerID string) (*RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[mailboxID][providerID]
	if !ok {
		return nil, ErrNotFound
	}
	return msg, nil
}

func (s *fakeStore) UpdateMessageStatus(_ context.Context, mailboxID uuid.UUID, providerID string, status MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[mailboxID][providerID]
	if !ok {
		return ErrNotFound
	}
	msg.Status = status
	return nil
}

func (s *fakeStore) ListMessagesByStatus(_ context.Context, mailboxID uuid.UUID, status MessageStatus, limit int) ([]*RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*RawMessage
	for _, msg := range s.messages[mailboxID] {
		if msg.Status != status {
			continue
		}
		out = append(out, msg)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) SaveRecord(_ context.Context, rec *ExtractedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}

func (s *fakeStore) ListRecordsByIDs(_ context.Context, ids []uuid.UUID) ([]*ExtractedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ExtractedRecord
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *fakeStore) SaveFact(_ context.Context, fact *FinancialFact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaveFact != nil {
		return s.failSaveFact
	}
	cp := *fact
	cp.Contributors = append([]uuid.UUID{}, fact.Contributors...)
	s.facts[fact.Key] = &cp
	return nil
}

func (s *fakeStore) GetFact(_ context.Context, id uuid.UUID) (*FinancialFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.facts {
		if f.ID == id {
			cp := *f
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *fakeStore) GetFactByKey(_ context.Context, key string) (*FinancialFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.facts[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *fakeStore) FindFactsByPrefix(_ context.Context, prefix string) ([]*FinancialFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*FinancialFact
	for key, f := range s.facts {
		if len(key) > len(prefix) && key[:len(prefix)+1] == prefix+"|" {
			cp := *f
			cp.Contributors = append([]uuid.UUID{}, f.Contributors...)
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) ListFactsByMerchant(_ context.Context, merchantKey string) ([]*FinancialFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*FinancialFact
	for _, f := range s.facts {
		if f.MerchantKey == merchantKey {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) SaveAlert(_ context.Context, ev *AlertEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	s.alerts[ev.ID] = &cp
	return nil
}

func (s *fakeStore) GetAlert(_ context.Context, id uuid.UUID) (*AlertEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (s *fakeStore) UpdateAlertStatus(_ context.Context, id uuid.UUID, status AlertStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.alerts[id]
	if !ok {
		return ErrNotFound
	}
	ev.Status = status
	return nil
}

func (s *fakeStore) ListAlertsByFact(_ context.Context, factID uuid.UUID, status AlertStatus) ([]*AlertEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*AlertEvent
	for _, ev := range s.alerts {
		if ev.FactID == factID && ev.Status == status {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) FindAlert(_ context.Context, factID uuid.UUID, revision int, kind AlertKind) (*AlertEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.alerts {
		if ev.FactID == factID && ev.FactRevision == revision && ev.Kind == kind {
			cp := *ev
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *fakeStore) ListDueAlerts(_ context.Context, now time.Time) ([]*AlertEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*AlertEvent
	for _, ev := range s.alerts {
		if ev.Status == AlertScheduled && !ev.TriggerAt.After(now) {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) SaveDraft(_ context.Context, d *DraftEmail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.drafts[d.ID] = &cp
	return nil
}

func (s *fakeStore) GetDraft(_ context.Context, id uuid.UUID) (*DraftEmail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *fakeStore) UpdateDraftStatus(_ context.Context, id uuid.UUID, status DraftStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = status
	return nil
}

// alertStatus reads an alert's stored status directly.
func (s *fakeStore) alertStatus(id uuid.UUID) AlertStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alerts[id].Status
}

// scheduledAlerts returns every stored alert of one kind and status.
func (s *fakeStore) alertsByKind(kind AlertKind, status AlertStatus) []*AlertEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*AlertEvent
	for _, ev := range s.alerts {
		if ev.Kind == kind && ev.Status == status {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out
}

// fakeSource serves scripted pages and messages and counts calls.
type fakeSource struct {
	mu         sync.Mutex
	pages      []*MessagePage
	messages   map[string]*RawMessage
	listErr    error
	fetchErr   map[string]error
	listCalls  int
	fetchCalls map[string]int
	onFetch    func(providerID string)
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		messages:   make(map[string]*RawMessage),
		fetchErr:   make(map[string]error),
		fetchCalls: make(map[string]int),
	}
}

func (f *fakeSource) ListMessagesSince(_ context.Context, position, pageToken string, _ int64) (*MessagePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(f.pages) == 0 {
		return &MessagePage{NewPosition: position}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeSource) FetchMessage(_ context.Context, providerID string) (*RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls[providerID]++
	if f.onFetch != nil {
		f.onFetch(providerID)
	}
	if err := f.fetchErr[providerID]; err != nil {
		return nil, err
	}
	msg, ok := f.messages[providerID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

// fakeSourceFactory hands out one source, or an error, for every mailbox.
type fakeSourceFactory struct {
	source MailSource
	err    error
}

func (f *fakeSourceFactory) SourceFor(_ context.Context, _ *Mailbox) (MailSource, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.source, nil
}

// fakeVault returns a static token per handle.
type fakeVault struct {
	mu     sync.Mutex
	tokens map[string]*oauth2.Token
}

func newFakeVault() *fakeVault {
	return &fakeVault{tokens: make(map[string]*oauth2.Token)}
}

func (v *fakeVault) ActiveCredential(_ context.Context, handle string) (*oauth2.Token, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	tok, ok := v.tokens[handle]
	if !ok {
		return nil, ErrRevoked
	}
	return tok, nil
}

func (v *fakeVault) Rotate(_ context.Context, handle string, token *oauth2.Token) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokens[handle] = token
	return nil
}

// fakeLLM returns a scripted extraction and rewrite.
type fakeLLM struct {
	mu           sync.Mutex
	extraction   *LLMExtraction
	extractErr   error
	extractCalls int

	rewriteSubject string
	rewriteBody    string
	rewriteErr     error
	rewriteCalls   int
}

func (f *fakeLLM) ExtractTransaction(_ context.Context, _ *RawMessage) (*LLMExtraction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extractCalls++
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	return f.extraction, nil
}

func (f *fakeLLM) RewriteDraft(_ context.Context, subject, body, _ string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rewriteCalls++
	if f.rewriteErr != nil {
		return "", "", f.rewriteErr
	}
	if f.rewriteSubject == "" && f.rewriteBody == "" {
		return subject, body, nil
	}
	return f.rewriteSubject, f.rewriteBody, nil
}

// fakeDelivery records handoffs and optionally fails them.
type fakeDelivery struct {
	mu            sync.Mutex
	notifications []*AlertEvent
	emails        []*DraftEmail
	notifyErr     error
}

func (f *fakeDelivery) EnqueueNotification(_ context.Context, ev *AlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notifyErr != nil {
		return f.notifyErr
	}
	cp := *ev
	f.notifications = append(f.notifications, &cp)
	return nil
}

func (f *fakeDelivery) EnqueueEmail(_ context.Context, d *DraftEmail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *d
	f.emails = append(f.emails, &cp)
	return nil
}
