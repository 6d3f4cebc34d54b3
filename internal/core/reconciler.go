package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Reconciler canonicalizes extraction candidates into FinancialFacts,
// enforcing at most one fact per dedup key. Reconciliations on the same
// prefix serialize through a keyed mutex; distinct prefixes run fully
// concurrently. Observers are notified after the lock is released.
type Reconciler struct {
	records    RecordStore
	facts      FactStore
	logger     *zap.Logger
	windowDays int
	locks      *keyedMutex
	observer   FactObserver
}

// NewReconciler creates a reconciler with the configured date window.
func NewReconciler(records RecordStore, facts FactStore, logger *zap.Logger, windowDays int) *Reconciler {
	return &Reconciler{
		records:    records,
		facts:      facts,
		logger:     logger,
		windowDays: windowDays,
		locks:      newKeyedMutex(),
	}
}

// SetObserver registers the single fact-change observer. Must be called
// before the first Reconcile.
func (r *Reconciler) SetObserver(obs FactObserver) {
	r.observer = obs
}

// Reconcile merges one candidate into its canonical fact, creating the fact
// on first sight. The candidate is persisted as a contributor either way.
func (r *Reconciler) Reconcile(ctx context.Context, rec *ExtractedRecord) (*FinancialFact, error) {
	prefix := PrefixFor(rec)
	if prefix.MerchantKey == "" {
		return nil, &ExtractionMismatch{MessageID: rec.MessageID, Err: fmt.Errorf("candidate has no merchant")}
	}

	if err := r.records.SaveRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to save candidate record: %w", err)
	}

	fact, err := r.mergeLocked(ctx, prefix, rec)
	if err != nil {
		return nil, err
	}

	// Outside the per-key lock: the observer may take the scheduler's own
	// time doing store work, and must never extend the merge critical
	// section.
	if r.observer != nil {
		r.observer.OnFactChanged(ctx, fact, rec)
	}
	return fact, nil
}

func (r *Reconciler) mergeLocked(ctx context.Context, prefix DedupPrefix, rec *ExtractedRecord) (*FinancialFact, error) {
	unlock := r.locks.Lock(prefix.String())
	defer unlock()

	existing, err := r.findMatch(ctx, prefix, rec.Date)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		fact := newFactFrom(prefix, rec, r.windowDays)
		if err := r.updateCadence(ctx, fact); err != nil {
			return nil, err
		}
		if err := r.facts.SaveFact(ctx, fact); err != nil {
			return nil, fmt.Errorf("failed to create fact: %w", err)
		}
		r.logger.Debug("Created financial fact",
			zap.String("key", fact.Key),
			zap.String("merchant", fact.Merchant))
		return fact, nil
	}

	for _, id := range existing.Contributors {
		if id == rec.ID {
			// Already merged; idempotent re-reconciliation is a no-op.
			return existing, nil
		}
	}

	before := existing.Revision
	mergeFields(existing, rec)
	existing.Contributors = append(existing.Contributors, rec.ID)
	existing.Revision++
	existing.UpdatedAt = time.Now().UTC()

	if existing.Revision != before+1 {
		return nil, &ReconciliationConflict{Key: existing.Key, Expected: before + 1, Got: existing.Revision}
	}
	if err := r.updateCadence(ctx, existing); err != nil {
		return nil, err
	}
	if err := r.facts.SaveFact(ctx, existing); err != nil {
		return nil, fmt.Errorf("failed to merge fact: %w", err)
	}
	r.logger.Debug("Merged financial fact",
		zap.String("key", existing.Key),
		zap.Int("revision", existing.Revision),
		zap.Int("contributors", len(existing.Contributors)))
	return existing, nil
}

// updateCadence infers the billing cycle of a subscription fact from the
// charge dates of the merchant's other facts. Store-only work, so holding
// the per-key lock here is fine.
func (r *Reconciler) updateCadence(ctx context.Context, fact *FinancialFact) error {
	if fact.Kind != KindSubscription {
		return nil
	}
	peers, err := r.facts.ListFactsByMerchant(ctx, fact.MerchantKey)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to load merchant facts: %w", err)
	}
	dates := []time.Time{fact.Date}
	for _, p := range peers {
		if p.ID == fact.ID || p.Date.IsZero() {
			continue
		}
		dates = append(dates, p.Date)
	}
	if cadence := inferCadenceDays(dates); cadence > 0 {
		fact.RecurrenceDays = cadence
	}
	return nil
}

// findMatch locates an existing fact for the prefix whose anchor date falls
// within the configured window of the candidate's date.
func (r *Reconciler) findMatch(ctx context.Context, prefix DedupPrefix, date time.Time) (*FinancialFact, error) {
	candidates, err := r.facts.FindFactsByPrefix(ctx, prefix.String())
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to look up facts: %w", err)
	}
	var best *FinancialFact
	for _, f := range candidates {
		if !withinWindow(f.Date, date, r.windowDays) {
			continue
		}
		if best == nil || f.Date.After(best.Date) {
			best = f
		}
	}
	return best, nil
}

func newFactFrom(prefix DedupPrefix, rec *ExtractedRecord, windowDays int) *FinancialFact {
	now := time.Now().UTC()
	prov := FieldProvenance{Method: rec.Method, At: rec.ExtractedAt}
	fact := &FinancialFact{
		ID:          uuid.New(),
		Key:         prefix.KeyFor(rec.Date, windowDays),
		MerchantKey: prefix.MerchantKey,
		Kind:        rec.Kind,
		Merchant:    rec.Merchant,
		Currency:    rec.Currency,
		Date:        rec.Date,
		Category:    rec.Category,
		TrialEnd:    rec.TrialEnd,
		NextRenewal: rec.RenewalDate,
		Contributors: []uuid.UUID{
			rec.ID,
		},
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if rec.HasAmount {
		fact.Amount = RoundedAmount(rec.Amount, rec.Currency)
	}
	fact.Provenance = FactProvenance{
		Merchant: withConfidence(prov, rec.Fields.Merchant),
		Amount:   withConfidence(prov, rec.Fields.Amount),
		Date:     withConfidence(prov, rec.Fields.Date),
	}
	return fact
}

func withConfidence(p FieldProvenance, confidence float64) FieldProvenance {
	p.Confidence = confidence
	return p
}

// mergeFields applies the field-by-field merge policy: for amount and date
// a rule-derived value always outranks an LLM-derived one; otherwise the
// higher confidence wins and ties go to the most recent extraction.
func mergeFields(fact *FinancialFact, rec *ExtractedRecord) {
	if rec.Merchant != "" && wins(fact.Provenance.Merchant, rec.Method, rec.Fields.Merchant, rec.ExtractedAt, false) {
		fact.Merchant = rec.Merchant
		fact.Provenance.Merchant = FieldProvenance{Method: rec.Method, Confidence: rec.Fields.Merchant, At: rec.ExtractedAt}
	}
	if rec.HasAmount && wins(fact.Provenance.Amount, rec.Method, rec.Fields.Amount, rec.ExtractedAt, true) {
		fact.Amount = RoundedAmount(rec.Amount, rec.Currency)
		fact.Currency = rec.Currency
		fact.Provenance.Amount = FieldProvenance{Method: rec.Method, Confidence: rec.Fields.Amount, At: rec.ExtractedAt}
	}
	if !rec.Date.IsZero() && wins(fact.Provenance.Date, rec.Method, rec.Fields.Date, rec.ExtractedAt, true) {
		fact.Date = rec.Date
		fact.Provenance.Date = FieldProvenance{Method: rec.Method, Confidence: rec.Fields.Date, At: rec.ExtractedAt}
	}

	if fact.Category == "" && rec.Category != "" {
		fact.Category = rec.Category
	}
	if rec.Kind == KindSubscription {
		fact.Kind = KindSubscription
	}
	if rec.TrialEnd != nil {
		fact.TrialEnd = rec.TrialEnd
	}
	if rec.RenewalDate != nil {
		fact.NextRenewal = rec.RenewalDate
	}
}

// wins decides whether an incoming field value replaces the current one.
// ruleOutranks applies the hard rule-over-llm precedence used for amount
// and date.
func wins(current FieldProvenance, method ExtractionMethod, confidence float64, extractedAt time.Time, ruleOutranks bool) bool {
	if current.Method == "" {
		return true
	}
	if ruleOutranks && current.Method != method {
		return method == MethodRule
	}
	if confidence != current.Confidence {
		return confidence > current.Confidence
	}
	// Equal confidence: most recent extraction wins, so an out-of-order
	// replay of an older record never rolls a field back.
	return !extractedAt.Before(current.At)
}
