package delivery

import (
	"context"

	"go.uber.org/zap"

	"github.com/finpilot/mail-finance-pilot/internal/core"
)

// LogQueue is a stub DeliveryQueue that records every handoff in the
// structured log. Real transports (push, SMTP relay) slot in behind the
// same interface; the pipeline only guarantees construction and timing.
type LogQueue struct {
	logger *zap.Logger
}

// NewLogQueue creates a logging delivery queue.
func NewLogQueue(logger *zap.Logger) *LogQueue {
	return &LogQueue{logger: logger}
}

func (q *LogQueue) EnqueueNotification(_ context.Context, ev *core.AlertEvent) error {
	q.logger.Info("Notification enqueued",
		zap.String("alert_id", ev.ID.String()),
		zap.String("fact_id", ev.FactID.String()),
		zap.String("kind", string(ev.Kind)),
		zap.Time("trigger_at", ev.TriggerAt),
		zap.String("title", ev.Title))
	return nil
}

func (q *LogQueue) EnqueueEmail(_ context.Context, d *core.DraftEmail) error {
	q.logger.Info("Outbound email enqueued",
		zap.String("draft_id", d.ID.String()),
		zap.String("fact_id", d.FactID.String()),
		zap.String("action", d.Action),
		zap.String("to", d.ToAddress),
		zap.String("subject", d.Subject))
	return nil
}
