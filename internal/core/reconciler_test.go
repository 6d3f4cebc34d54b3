package core

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func netflixRecord(date time.Time, method ExtractionMethod, conf float64) *ExtractedRecord {
	return &ExtractedRecord{
		ID:          uuid.New(),
		MailboxID:   uuid.New(),
		MessageID:   uuid.NewString(),
		Kind:        KindSubscription,
		Merchant:    "Netflix",
		Amount:      decimal.RequireFromString("15.49"),
		HasAmount:   true,
		Currency:    "USD",
		Date:        date,
		IsRecurring: true,
		Fields:      FieldConfidence{Merchant: conf, Amount: conf, Date: conf},
		Confidence:  conf,
		Method:      method,
		ExtractedAt: time.Now().UTC(),
	}
}

func TestReconcileMergesSameChargeWithinWindow(t *testing.T) {
	store := newFakeStore()
	rec := NewReconciler(store, store, zap.NewNop(), 3)
	ctx := context.Background()

	first, err := rec.Reconcile(ctx, netflixRecord(day(2026, time.March, 1), MethodRule, 0.85))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Revision)
	assert.Len(t, first.Contributors, 1)

	// A duplicate receipt for the same charge, three days later.
	second, err := rec.Reconcile(ctx, netflixRecord(day(2026, time.March, 4), MethodRule, 0.85))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Revision)
	assert.Len(t, second.Contributors, 2)
	assert.Len(t, store.facts, 1)
}

func TestReconcileSeparatesChargesOutsideWindow(t *testing.T) {
	store := newFakeStore()
	rec := NewReconciler(store, store, zap.NewNop(), 3)
	ctx := context.Background()

	first, err := rec.Reconcile(ctx, netflixRecord(day(2026, time.March, 1), MethodRule, 0.85))
	require.NoError(t, err)

	second, err := rec.Reconcile(ctx, netflixRecord(day(2026, time.March, 31), MethodRule, 0.85))
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, store.facts, 2)
}

func TestReconcileRuleOutranksLLMForAmountAndDate(t *testing.T) {
	store := newFakeStore()
	rec := NewReconciler(store, store, zap.NewNop(), 3)
	ctx := context.Background()

	ruleRec := netflixRecord(day(2026, time.March, 1), MethodRule, 0.7)
	_, err := rec.Reconcile(ctx, ruleRec)
	require.NoError(t, err)

	// Same charge seen by the LLM tier with higher confidence. Amount and
	// date keep the rule values; the merchant field follows confidence.
	llmRec := netflixRecord(day(2026, time.March, 2), MethodLLM, 0.95)
	llmRec.Merchant = "NETFLIX"

	fact, err := rec.Reconcile(ctx, llmRec)
	require.NoError(t, err)

	assert.Equal(t, 2, fact.Revision)
	assert.Equal(t, MethodRule, fact.Provenance.Amount.Method)
	assert.Equal(t, MethodRule, fact.Provenance.Date.Method)
	assert.Equal(t, day(2026, time.March, 1), fact.Date)
	assert.Equal(t, MethodLLM, fact.Provenance.Merchant.Method)
	assert.Equal(t, "NETFLIX", fact.Merchant)
}

func TestReconcileLaterRuleUpdatesRuleFields(t *testing.T) {
	store := newFakeStore()
	rec := NewReconciler(store, store, zap.NewNop(), 3)
	ctx := context.Background()

	_, err := rec.Reconcile(ctx, netflixRecord(day(2026, time.March, 1), MethodRule, 0.85))
	require.NoError(t, err)

	later := netflixRecord(day(2026, time.March, 2), MethodRule, 0.85)
	fact, err := rec.Reconcile(ctx, later)
	require.NoError(t, err)

	// Equal method and confidence: the most recent extraction wins.
	assert.Equal(t, day(2026, time.March, 2), fact.Date)
}

func TestReconcileStaleReplayDoesNotRollBackFields(t *testing.T) {
	store := newFakeStore()
	rec := NewReconciler(store, store, zap.NewNop(), 3)
	ctx := context.Background()

	extracted := time.Date(2026, time.March, 5, 12, 0, 0, 0, time.UTC)

	newer := netflixRecord(day(2026, time.March, 2), MethodRule, 0.85)
	newer.ExtractedAt = extracted
	_, err := rec.Reconcile(ctx, newer)
	require.NoError(t, err)

	// A record extracted earlier arrives late, e.g. replayed from a stale
	// batch. Equal confidence must not let it overwrite the newer value.
	older := netflixRecord(day(2026, time.March, 1), MethodRule, 0.85)
	older.ExtractedAt = extracted.Add(-time.Hour)

	fact, err := rec.Reconcile(ctx, older)
	require.NoError(t, err)

	assert.Equal(t, 2, fact.Revision)
	assert.Equal(t, day(2026, time.March, 2), fact.Date)
}

func TestReconcileIsIdempotentPerRecord(t *testing.T) {
	store := newFakeStore()
	rec := NewReconciler(store, store, zap.NewNop(), 3)
	ctx := context.Background()

	candidate := netflixRecord(day(2026, time.March, 1), MethodRule, 0.85)
	first, err := rec.Reconcile(ctx, candidate)
	require.NoError(t, err)

	// Replaying the same candidate after a crash must not bump the
	// revision or duplicate the contributor.
	second, err := rec.Reconcile(ctx, candidate)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Revision, second.Revision)
	assert.Len(t, second.Contributors, 1)
}

func TestReconcileRejectsMerchantlessCandidate(t *testing.T) {
	store := newFakeStore()
	rec := NewReconciler(store, store, zap.NewNop(), 3)

	candidate := netflixRecord(day(2026, time.March, 1), MethodRule, 0.85)
	candidate.Merchant = ""

	_, err := rec.Reconcile(context.Background(), candidate)
	var mismatch *ExtractionMismatch
	require.ErrorAs(t, err, &mismatch)
}

func TestReconcileInfersSubscriptionCadence(t *testing.T) {
	store := newFakeStore()
	rec := NewReconciler(store, store, zap.NewNop(), 3)
	ctx := context.Background()

	dates := []time.Time{
		day(2026, time.January, 5),
		day(2026, time.February, 4),
		day(2026, time.March, 6),
	}
	var fact *FinancialFact
	var err error
	for _, d := range dates {
		fact, err = rec.Reconcile(ctx, netflixRecord(d, MethodRule, 0.85))
		require.NoError(t, err)
	}

	assert.Equal(t, 30, fact.RecurrenceDays)
}

func TestReconcileNotifiesObserver(t *testing.T) {
	store := newFakeStore()
	rec := NewReconciler(store, store, zap.NewNop(), 3)

	var seen []*FinancialFact
	rec.SetObserver(factObserverFunc(func(_ context.Context, fact *FinancialFact, _ *ExtractedRecord) {
		seen = append(seen, fact)
	}))

	_, err := rec.Reconcile(context.Background(), netflixRecord(day(2026, time.March, 1), MethodRule, 0.85))
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, 1, seen[0].Revision)
}

type factObserverFunc func(ctx context.Context, fact *FinancialFact, trigger *ExtractedRecord)

func (f factObserverFunc) OnFactChanged(ctx context.Context, fact *FinancialFact, trigger *ExtractedRecord) {
	f(ctx, fact, trigger)
}
