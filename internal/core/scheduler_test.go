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

func newTestScheduler(store *fakeStore, delivery *fakeDelivery, now time.Time) *AlertScheduler {
	s := NewAlertScheduler(store, store, delivery, zap.NewNop(), 72*time.Hour, 24*time.Hour, 2.5, 3)
	s.SetNow(func() time.Time { return now })
	return s
}

func subscriptionFact(renewal time.Time) *FinancialFact {
	f := &FinancialFact{
		ID:          uuid.New(),
		Key:         "netflix|15.49|USD|subscription|1",
		MerchantKey: "netflix",
		Kind:        KindSubscription,
		Merchant:    "Netflix",
		Amount:      decimal.RequireFromString("15.49"),
		Currency:    "USD",
		Date:        renewal.AddDate(0, -1, 0),
		Revision:    1,
	}
	f.NextRenewal = &renewal
	return f
}

func TestSchedulerCreatesRenewalAlert(t *testing.T) {
	store := newFakeStore()
	now := day(2026, time.March, 1)
	sched := newTestScheduler(store, &fakeDelivery{}, now)

	renewal := day(2026, time.March, 30)
	fact := subscriptionFact(renewal)
	require.NoError(t, store.SaveFact(context.Background(), fact))

	sched.OnFactChanged(context.Background(), fact, nil)

	alerts := store.alertsByKind(AlertRenewalUpcoming, AlertScheduled)
	require.Len(t, alerts, 1)
	assert.Equal(t, renewal.Add(-72*time.Hour), alerts[0].TriggerAt)
	assert.Equal(t, fact.ID, alerts[0].FactID)
	assert.Equal(t, 1, alerts[0].FactRevision)
}

func TestSchedulerIgnoresOneOffTransactions(t *testing.T) {
	store := newFakeStore()
	sched := newTestScheduler(store, &fakeDelivery{}, day(2026, time.March, 1))

	fact := subscriptionFact(day(2026, time.March, 30))
	fact.Kind = KindTransaction
	fact.Amount = decimal.Zero

	sched.OnFactChanged(context.Background(), fact, nil)
	assert.Empty(t, store.alertsByKind(AlertRenewalUpcoming, AlertScheduled))
}

func TestSchedulerReschedulesByCancelAndReplace(t *testing.T) {
	store := newFakeStore()
	now := day(2026, time.March, 1)
	sched := newTestScheduler(store, &fakeDelivery{}, now)
	ctx := context.Background()

	fact := subscriptionFact(day(2026, time.March, 30))
	sched.OnFactChanged(ctx, fact, nil)

	first := store.alertsByKind(AlertRenewalUpcoming, AlertScheduled)
	require.Len(t, first, 1)

	// The renewal moves by more than the tolerance: the old event is
	// cancelled, never mutated, and a replacement is scheduled.
	moved := day(2026, time.April, 14)
	fact.NextRenewal = &moved
	fact.Revision = 2
	sched.OnFactChanged(ctx, fact, nil)

	assert.Equal(t, AlertCancelled, store.alertStatus(first[0].ID))

	replaced := store.alertsByKind(AlertRenewalUpcoming, AlertScheduled)
	require.Len(t, replaced, 1)
	assert.Equal(t, moved.Add(-72*time.Hour), replaced[0].TriggerAt)
	assert.NotEqual(t, first[0].ID, replaced[0].ID)
}

func TestSchedulerKeepsScheduleWithinTolerance(t *testing.T) {
	store := newFakeStore()
	sched := newTestScheduler(store, &fakeDelivery{}, day(2026, time.March, 1))
	ctx := context.Background()

	fact := subscriptionFact(day(2026, time.March, 30))
	sched.OnFactChanged(ctx, fact, nil)

	first := store.alertsByKind(AlertRenewalUpcoming, AlertScheduled)
	require.Len(t, first, 1)

	// A 12 hour shift is inside the 24 hour tolerance; nothing changes.
	moved := day(2026, time.March, 30).Add(12 * time.Hour)
	fact.NextRenewal = &moved
	sched.OnFactChanged(ctx, fact, nil)

	kept := store.alertsByKind(AlertRenewalUpcoming, AlertScheduled)
	require.Len(t, kept, 1)
	assert.Equal(t, first[0].ID, kept[0].ID)
	assert.Equal(t, first[0].TriggerAt, kept[0].TriggerAt)
}

func TestSchedulerCancelsWhenRenewalUnpredictable(t *testing.T) {
	store := newFakeStore()
	sched := newTestScheduler(store, &fakeDelivery{}, day(2026, time.March, 1))
	ctx := context.Background()

	fact := subscriptionFact(day(2026, time.March, 30))
	sched.OnFactChanged(ctx, fact, nil)
	first := store.alertsByKind(AlertRenewalUpcoming, AlertScheduled)
	require.Len(t, first, 1)

	fact.NextRenewal = nil
	fact.TrialEnd = nil
	fact.RecurrenceDays = 0
	fact.Date = time.Time{}
	sched.OnFactChanged(ctx, fact, nil)

	assert.Equal(t, AlertCancelled, store.alertStatus(first[0].ID))
	assert.Empty(t, store.alertsByKind(AlertRenewalUpcoming, AlertScheduled))
}

func TestSchedulerPredictsRenewalFromCadence(t *testing.T) {
	store := newFakeStore()
	now := day(2026, time.March, 1)
	sched := newTestScheduler(store, &fakeDelivery{}, now)

	fact := subscriptionFact(now)
	fact.NextRenewal = nil
	fact.Date = day(2026, time.February, 10)
	fact.RecurrenceDays = 30

	sched.OnFactChanged(context.Background(), fact, nil)

	alerts := store.alertsByKind(AlertRenewalUpcoming, AlertScheduled)
	require.Len(t, alerts, 1)
	// Feb 10 + 30 days = Mar 12, minus the 72h lead.
	assert.Equal(t, day(2026, time.March, 12).Add(-72*time.Hour), alerts[0].TriggerAt)
}

func TestSchedulerFlagsAnomalousAmountOncePerRevision(t *testing.T) {
	store := newFakeStore()
	sched := newTestScheduler(store, &fakeDelivery{}, day(2026, time.March, 1))
	ctx := context.Background()

	// Stable history around 15.49, then a wildly larger charge.
	for i := 0; i < 4; i++ {
		f := subscriptionFact(day(2026, time.March, 30))
		f.ID = uuid.New()
		f.Key = f.Key + uuid.NewString()
		f.Amount = decimal.RequireFromString("15.49").Add(decimal.NewFromInt(int64(i)))
		require.NoError(t, store.SaveFact(ctx, f))
	}

	outlier := subscriptionFact(day(2026, time.March, 30))
	outlier.Kind = KindTransaction
	outlier.Amount = decimal.RequireFromString("450.00")
	outlier.Revision = 1
	require.NoError(t, store.SaveFact(ctx, outlier))

	sched.OnFactChanged(ctx, outlier, nil)
	require.Len(t, store.alertsByKind(AlertAnomaly, AlertScheduled), 1)

	// The same revision never produces a second anomaly alert.
	sched.OnFactChanged(ctx, outlier, nil)
	assert.Len(t, store.alertsByKind(AlertAnomaly, AlertScheduled), 1)

	// A new revision is scored again.
	outlier.Revision = 2
	sched.OnFactChanged(ctx, outlier, nil)
	assert.Len(t, store.alertsByKind(AlertAnomaly, AlertScheduled), 2)
}

func TestSchedulerSkipsAnomalyOnThinHistory(t *testing.T) {
	store := newFakeStore()
	sched := newTestScheduler(store, &fakeDelivery{}, day(2026, time.March, 1))
	ctx := context.Background()

	peer := subscriptionFact(day(2026, time.March, 30))
	peer.Amount = decimal.RequireFromString("15.49")
	require.NoError(t, store.SaveFact(ctx, peer))

	outlier := subscriptionFact(day(2026, time.March, 30))
	outlier.ID = uuid.New()
	outlier.Key = outlier.Key + "x"
	outlier.Amount = decimal.RequireFromString("450.00")
	require.NoError(t, store.SaveFact(ctx, outlier))

	sched.OnFactChanged(ctx, outlier, nil)
	assert.Empty(t, store.alertsByKind(AlertAnomaly, AlertScheduled))
}

func TestSchedulerFlagsScamWording(t *testing.T) {
	store := newFakeStore()
	sched := newTestScheduler(store, &fakeDelivery{}, day(2026, time.March, 1))

	fact := subscriptionFact(day(2026, time.March, 30))
	fact.Kind = KindTransaction
	fact.Merchant = "Urgent Gift Card Redemption"
	fact.MerchantKey = "urgent gift card redemption"

	sched.OnFactChanged(context.Background(), fact, nil)
	assert.Len(t, store.alertsByKind(AlertAnomaly, AlertScheduled), 1)
}

func TestDispatchDueFiresAndMarks(t *testing.T) {
	store := newFakeStore()
	delivery := &fakeDelivery{}
	now := day(2026, time.March, 27)
	sched := newTestScheduler(store, delivery, now)
	ctx := context.Background()

	due := &AlertEvent{
		ID:        uuid.New(),
		FactID:    uuid.New(),
		Kind:      AlertRenewalUpcoming,
		TriggerAt: now.Add(-time.Hour),
		Status:    AlertScheduled,
	}
	future := &AlertEvent{
		ID:        uuid.New(),
		FactID:    uuid.New(),
		Kind:      AlertRenewalUpcoming,
		TriggerAt: now.Add(48 * time.Hour),
		Status:    AlertScheduled,
	}
	require.NoError(t, store.SaveAlert(ctx, due))
	require.NoError(t, store.SaveAlert(ctx, future))

	fired, err := sched.DispatchDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.Len(t, delivery.notifications, 1)
	assert.Equal(t, due.ID, delivery.notifications[0].ID)
	assert.Equal(t, AlertFired, store.alertStatus(due.ID))
	assert.Equal(t, AlertScheduled, store.alertStatus(future.ID))
}

func TestDispatchDueLeavesScheduledOnHandoffFailure(t *testing.T) {
	store := newFakeStore()
	delivery := &fakeDelivery{notifyErr: assert.AnError}
	now := day(2026, time.March, 27)
	sched := newTestScheduler(store, delivery, now)
	ctx := context.Background()

	due := &AlertEvent{
		ID:        uuid.New(),
		FactID:    uuid.New(),
		Kind:      AlertRenewalUpcoming,
		TriggerAt: now.Add(-time.Hour),
		Status:    AlertScheduled,
	}
	require.NoError(t, store.SaveAlert(ctx, due))

	fired, err := sched.DispatchDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, fired)
	assert.Equal(t, AlertScheduled, store.alertStatus(due.ID))
}

func TestSuppressOnlyScheduledAlerts(t *testing.T) {
	store := newFakeStore()
	sched := newTestScheduler(store, &fakeDelivery{}, day(2026, time.March, 1))
	ctx := context.Background()

	ev := &AlertEvent{ID: uuid.New(), FactID: uuid.New(), Kind: AlertRenewalUpcoming, Status: AlertScheduled}
	require.NoError(t, store.SaveAlert(ctx, ev))

	require.NoError(t, sched.Suppress(ctx, ev.ID))
	assert.Equal(t, AlertSuppressed, store.alertStatus(ev.ID))

	// Suppressing again fails: the alert is no longer scheduled.
	assert.Error(t, sched.Suppress(ctx, ev.ID))
}
