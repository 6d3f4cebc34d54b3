package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AlertScheduler derives future-dated alert events from reconciled facts
// and maintains the due-queue. It consumes fact-change notifications from
// the reconciler and hands due events to the delivery boundary.
type AlertScheduler struct {
	alerts      AlertStore
	facts       FactStore
	delivery    DeliveryQueue
	logger      *zap.Logger
	leadTime    time.Duration
	tolerance   time.Duration
	zThreshold  float64
	minHistory  int
	nowFn       func() time.Time
}

// NewAlertScheduler creates a scheduler with the configured lead time,
// reschedule tolerance, and anomaly thresholds.
func NewAlertScheduler(
	alerts AlertStore,
	facts FactStore,
	delivery DeliveryQueue,
	logger *zap.Logger,
	leadTime time.Duration,
	tolerance time.Duration,
	zThreshold float64,
	minHistory int,
) *AlertScheduler {
	return &AlertScheduler{
		alerts:     alerts,
		facts:      facts,
		delivery:   delivery,
		logger:     logger,
		leadTime:   leadTime,
		tolerance:  tolerance,
		zThreshold: zThreshold,
		minHistory: minHistory,
		nowFn:      time.Now,
	}
}

// SetNow overrides the clock. Tests only.
func (s *AlertScheduler) SetNow(fn func() time.Time) { s.nowFn = fn }

// OnFactChanged recomputes alerts for a fact after every revision. Renewal
// alerts are rescheduled by cancel-and-replace, never by mutating a fired
// event; anomaly alerts are created at most once per revision.
func (s *AlertScheduler) OnFactChanged(ctx context.Context, fact *FinancialFact, trigger *ExtractedRecord) {
	if err := s.rescheduleRenewal(ctx, fact); err != nil {
		s.logger.Error("Failed to reschedule renewal alert",
			zap.String("fact_id", fact.ID.String()),
			zap.Error(err))
	}
	if err := s.checkAnomaly(ctx, fact); err != nil {
		s.logger.Error("Failed to run anomaly check",
			zap.String("fact_id", fact.ID.String()),
			zap.Error(err))
	}
}

func (s *AlertScheduler) rescheduleRenewal(ctx context.Context, fact *FinancialFact) error {
	if fact.Kind != KindSubscription {
		return nil
	}
	now := s.nowFn().UTC()

	scheduled, err := s.alerts.ListAlertsByFact(ctx, fact.ID, AlertScheduled)
	if err != nil {
		return fmt.Errorf("failed to list scheduled alerts: %w", err)
	}

	next, ok := nextRenewalFor(fact, now)
	if !ok {
		// No predictable renewal left: any pending renewal alert is stale.
		for _, ev := range scheduled {
			if ev.Kind != AlertRenewalUpcoming {
				continue
			}
			if err := s.alerts.UpdateAlertStatus(ctx, ev.ID, AlertCancelled); err != nil {
				return err
			}
		}
		return nil
	}

	triggerAt := next.Add(-s.leadTime)

	for _, ev := range scheduled {
		if ev.Kind != AlertRenewalUpcoming {
			continue
		}
		diff := ev.TriggerAt.Sub(triggerAt)
		if diff < 0 {
			diff = -diff
		}
		if diff <= s.tolerance {
			// Existing schedule still matches the recomputed trigger.
			return nil
		}
		if err := s.alerts.UpdateAlertStatus(ctx, ev.ID, AlertCancelled); err != nil {
			return fmt.Errorf("failed to cancel stale alert: %w", err)
		}
		s.logger.Info("Cancelled stale renewal alert",
			zap.String("fact_id", fact.ID.String()),
			zap.Time("old_trigger", ev.TriggerAt),
			zap.Time("new_trigger", triggerAt))
	}

	amount := ""
	if !fact.Amount.IsZero() {
		amount = fmt.Sprintf(" for %s %s", fact.Currency, fact.Amount.StringFixed(2))
	}
	ev := &AlertEvent{
		ID:           uuid.New(),
		FactID:       fact.ID,
		FactRevision: fact.Revision,
		Kind:         AlertRenewalUpcoming,
		TriggerAt:    triggerAt,
		Status:       AlertScheduled,
		Title:        fmt.Sprintf("Upcoming renewal: %s", fact.Merchant),
		Body:         fmt.Sprintf("Your %s subscription renews on %s%s.", fact.Merchant, next.Format("Jan 2, 2006"), amount),
		CreatedAt:    now,
	}
	if err := s.alerts.SaveAlert(ctx, ev); err != nil {
		return fmt.Errorf("failed to schedule renewal alert: %w", err)
	}
	s.logger.Debug("Scheduled renewal alert",
		zap.String("fact_id", fact.ID.String()),
		zap.Time("trigger_at", triggerAt))
	return nil
}

func (s *AlertScheduler) checkAnomaly(ctx context.Context, fact *FinancialFact) error {
	if fact.Amount.IsZero() {
		return nil
	}

	// One anomaly alert per anomalous revision, never re-fired.
	if existing, err := s.alerts.FindAlert(ctx, fact.ID, fact.Revision, AlertAnomaly); err == nil && existing != nil {
		return nil
	}

	history, err := s.merchantAmountHistory(ctx, fact)
	if err != nil {
		return err
	}
	verdict := detectAnomaly(fact, history, s.zThreshold, s.minHistory)
	if verdict == nil {
		return nil
	}

	now := s.nowFn().UTC()
	ev := &AlertEvent{
		ID:           uuid.New(),
		FactID:       fact.ID,
		FactRevision: fact.Revision,
		Kind:         AlertAnomaly,
		TriggerAt:    now,
		Status:       AlertScheduled,
		Title:        fmt.Sprintf("Unusual charge: %s", fact.Merchant),
		Body:         verdict.Reason,
		CreatedAt:    now,
	}
	if err := s.alerts.SaveAlert(ctx, ev); err != nil {
		return fmt.Errorf("failed to schedule anomaly alert: %w", err)
	}
	s.logger.Info("Flagged anomalous charge",
		zap.String("merchant", fact.Merchant),
		zap.Float64("z_score", verdict.ZScore))
	return nil
}

// merchantAmountHistory collects amounts of the merchant's other facts as
// the baseline for anomaly scoring.
func (s *AlertScheduler) merchantAmountHistory(ctx context.Context, fact *FinancialFact) ([]decimal.Decimal, error) {
	peers, err := s.facts.ListFactsByMerchant(ctx, fact.MerchantKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load merchant history: %w", err)
	}
	history := make([]decimal.Decimal, 0, len(peers))
	for _, p := range peers {
		if p.ID == fact.ID || p.Amount.IsZero() {
			continue
		}
		history = append(history, p.Amount)
	}
	return history, nil
}

// Suppress marks a scheduled alert suppressed on user opt-out.
func (s *AlertScheduler) Suppress(ctx context.Context, alertID uuid.UUID) error {
	ev, err := s.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return err
	}
	if ev.Status != AlertScheduled {
		return fmt.Errorf("alert %s is %s, only scheduled alerts can be suppressed", alertID, ev.Status)
	}
	return s.alerts.UpdateAlertStatus(ctx, alertID, AlertSuppressed)
}

// DispatchDue fires every scheduled alert whose trigger time has passed,
// handing it to the delivery boundary. A failed handoff leaves the event
// scheduled for the next dispatch tick.
func (s *AlertScheduler) DispatchDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.alerts.ListDueAlerts(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list due alerts: %w", err)
	}
	fired := 0
	for _, ev := range due {
		if err := s.delivery.EnqueueNotification(ctx, ev); err != nil {
			s.logger.Error("Failed to hand alert to delivery",
				zap.String("alert_id", ev.ID.String()),
				zap.Error(err))
			continue
		}
		if err := s.alerts.UpdateAlertStatus(ctx, ev.ID, AlertFired); err != nil {
			return fired, fmt.Errorf("failed to mark alert fired: %w", err)
		}
		fired++
	}
	if fired > 0 {
		s.logger.Info("Dispatched due alerts", zap.Int("fired", fired))
	}
	return fired, nil
}
