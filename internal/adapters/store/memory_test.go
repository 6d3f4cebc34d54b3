package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finpilot/mail-finance-pilot/internal/core"
)

func TestMemoryStoreCursorLifecycle(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()
	mailboxID := uuid.New()

	cursor, err := s.ResumePoint(ctx, mailboxID)
	require.NoError(t, err)
	assert.Empty(t, cursor.Position)
	assert.Empty(t, cursor.InFlight)

	require.NoError(t, s.StageInFlight(ctx, mailboxID, []string{"a", "b", "c"}))

	cursor, err = s.ResumePoint(ctx, mailboxID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cursor.InFlight)

	// Committing two of three moves the watermark and leaves the tail.
	require.NoError(t, s.Advance(ctx, mailboxID, core.SyncCursor{Position: "100"}, []string{"a", "b"}))

	cursor, err = s.ResumePoint(ctx, mailboxID)
	require.NoError(t, err)
	assert.Equal(t, "100", cursor.Position)
	assert.ElementsMatch(t, []string{"c"}, cursor.InFlight)

	done, err := s.Committed(ctx, mailboxID, "a")
	require.NoError(t, err)
	assert.True(t, done)
	done, err = s.Committed(ctx, mailboxID, "c")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestMemoryStoreMessageResaveKeepsContent(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()
	mailboxID := uuid.New()

	msg := &core.RawMessage{
		MailboxID:  mailboxID,
		ProviderID: "m1",
		Subject:    "Your receipt",
		Body:       "original body",
		Status:     core.MessageFetched,
	}
	require.NoError(t, s.SaveMessage(ctx, msg))
	require.NoError(t, s.UpdateMessageStatus(ctx, mailboxID, "m1", core.MessageClassified))

	// A replayed fetch after a crash refreshes status bookkeeping but
	// never clobbers the stored content.
	replay := &core.RawMessage{
		MailboxID:  mailboxID,
		ProviderID: "m1",
		Subject:    "Your receipt",
		Body:       "refetched body",
		Status:     core.MessageFetched,
		FetchedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.SaveMessage(ctx, replay))

	stored, err := s.GetMessage(ctx, mailboxID, "m1")
	require.NoError(t, err)
	assert.Equal(t, "original body", stored.Body)
	assert.Equal(t, core.MessageFetched, stored.Status)
}

func TestMemoryStoreFactPrefixSearch(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	save := func(key, merchantKey string, date time.Time) *core.FinancialFact {
		f := &core.FinancialFact{
			ID:          uuid.New(),
			Key:         key,
			MerchantKey: merchantKey,
			Kind:        core.KindSubscription,
			Merchant:    merchantKey,
			Amount:      decimal.RequireFromString("15.49"),
			Currency:    "USD",
			Date:        date,
			Revision:    1,
		}
		require.NoError(t, s.SaveFact(ctx, f))
		return f
	}

	a := save("netflix|15.49|USD|subscription|683", "netflix", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	b := save("netflix|15.49|USD|subscription|684", "netflix", time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC))
	save("netflix kids|15.49|USD|subscription|683", "netflix kids", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	// The prefix match is exact per segment: "netflix" must not pick up
	// "netflix kids".
	found, err := s.FindFactsByPrefix(ctx, "netflix|15.49|USD|subscription")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.ElementsMatch(t,
		[]uuid.UUID{a.ID, b.ID},
		[]uuid.UUID{found[0].ID, found[1].ID})

	byMerchant, err := s.ListFactsByMerchant(ctx, "netflix")
	require.NoError(t, err)
	assert.Len(t, byMerchant, 2)
}

func TestMemoryStoreFactUpsertByKey(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	fact := &core.FinancialFact{
		ID:          uuid.New(),
		Key:         "spotify|9.99|EUR|subscription|683",
		MerchantKey: "spotify",
		Kind:        core.KindSubscription,
		Amount:      decimal.RequireFromString("9.99"),
		Currency:    "EUR",
		Revision:    1,
	}
	require.NoError(t, s.SaveFact(ctx, fact))

	fact.Revision = 2
	fact.Contributors = append(fact.Contributors, uuid.New())
	require.NoError(t, s.SaveFact(ctx, fact))

	stored, err := s.GetFactByKey(ctx, fact.Key)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Revision)
	assert.Len(t, stored.Contributors, 1)

	// Reads hand out copies; mutating a result must not leak back in.
	stored.Revision = 99
	again, err := s.GetFact(ctx, fact.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Revision)
}

func TestMemoryStoreDueAlerts(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()
	now := time.Date(2026, 3, 27, 12, 0, 0, 0, time.UTC)

	mk := func(trigger time.Time, status core.AlertStatus) *core.AlertEvent {
		ev := &core.AlertEvent{
			ID:        uuid.New(),
			FactID:    uuid.New(),
			Kind:      core.AlertRenewalUpcoming,
			TriggerAt: trigger,
			Status:    status,
			CreatedAt: now,
		}
		require.NoError(t, s.SaveAlert(ctx, ev))
		return ev
	}

	overdue := mk(now.Add(-time.Hour), core.AlertScheduled)
	mk(now.Add(time.Hour), core.AlertScheduled)
	mk(now.Add(-2*time.Hour), core.AlertCancelled)
	mk(now.Add(-3*time.Hour), core.AlertFired)

	due, err := s.ListDueAlerts(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, overdue.ID, due[0].ID)
}

func TestMemoryStoreNotFound(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	_, err := s.GetMailbox(ctx, uuid.New())
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetMessage(ctx, uuid.New(), "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetFact(ctx, uuid.New())
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetFactByKey(ctx, "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetAlert(ctx, uuid.New())
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetDraft(ctx, uuid.New())
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.FindAlert(ctx, uuid.New(), 1, core.AlertAnomaly)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMemoryStoreDraftLifecycle(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	d := &core.DraftEmail{
		ID:        uuid.New(),
		FactID:    uuid.New(),
		Action:    "refund",
		Subject:   "Request for Refund / Cancellation",
		Body:      "Hello",
		Tone:      "neutral",
		Status:    core.DraftDrafted,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.SaveDraft(ctx, d))
	require.NoError(t, s.UpdateDraftStatus(ctx, d.ID, core.DraftApproved))

	stored, err := s.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, core.DraftApproved, stored.Status)
	assert.Equal(t, "Hello", stored.Body)
}
