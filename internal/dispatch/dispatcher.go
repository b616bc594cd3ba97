package dispatch

import (
	"context"
	"time"

	"github.com/alert-engine/internal/alerterr"
	"github.com/alert-engine/internal/evaluate"
	"github.com/alert-engine/internal/logging"
	"github.com/alert-engine/internal/metrics"
	"github.com/alert-engine/internal/models"
	"github.com/alert-engine/internal/storage"
)

// TriggerCommitter applies the atomic post-dispatch state transition.
// Satisfied by storage.AlertRepository.
type TriggerCommitter interface {
	CommitTrigger(ctx context.Context, commit storage.TriggerCommit) error
}

// EventRecorder appends to the notification event history. Satisfied by
// storage.EventRepository.
type EventRecorder interface {
	Record(ctx context.Context, event *models.NotificationEvent) error
}

// Dispatcher turns satisfied outcomes into notifications. Ordering is fixed:
// send first, commit on ack. A failed send leaves the alert untouched so the
// next tick retries; a failed commit after an ack means another process beat
// us to it and the duplicate is suppressed by the conflict.
type Dispatcher struct {
	notifier Notifier
	alerts   TriggerCommitter
	events   EventRecorder
	now      func() time.Time
}

// New creates a dispatcher.
func New(notifier Notifier, alerts TriggerCommitter, events EventRecorder) *Dispatcher {
	return &Dispatcher{
		notifier: notifier,
		alerts:   alerts,
		events:   events,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock. Tests only.
func (d *Dispatcher) SetNow(now func() time.Time) {
	d.now = now
}

// Dispatch sends the notification for one satisfied alert and commits the
// trigger.
func (d *Dispatcher) Dispatch(ctx context.Context, da *storage.DueAlert, outcome *evaluate.Outcome) error {
	alert := &da.Alert
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"alertId": alert.ID,
		"userId":  alert.UserID,
		"kind":    alert.Kind,
	})

	if err := d.notifier.Notify(ctx, alert.UserID, outcome.Summary); err != nil {
		metrics.Dispatches.WithLabelValues("failed").Inc()
		logger.WithError(err).Warn("notification send failed, alert state untouched")
		d.record(ctx, alert, models.OutcomeDispatchFailed, outcome)
		return alerterr.DispatchFailed(alert.ID, err)
	}

	commit := storage.TriggerCommit{
		AlertID:              alert.ID,
		ExpectedTriggerCount: alert.TriggerCount,
		TriggeredAt:          d.now(),
		Deactivate:           alert.Kind.OneShot(),
		LastSeenValue:        outcome.NewLastSeen,
		TxCursors:            outcome.NextCursors,
	}
	if err := d.alerts.CommitTrigger(ctx, commit); err != nil {
		if alerterr.IsConflict(err) {
			metrics.Dispatches.WithLabelValues("conflict").Inc()
			logger.Warn("trigger commit lost to a concurrent writer")
			return err
		}
		metrics.Dispatches.WithLabelValues("commit_error").Inc()
		logger.WithError(err).Error("trigger commit failed after acknowledged send")
		return err
	}

	metrics.Dispatches.WithLabelValues("ok").Inc()
	logger.WithField("summary", outcome.Summary).Info("notification dispatched")
	d.record(ctx, alert, models.OutcomeDispatched, outcome)
	return nil
}

// record appends to the event history. Best effort: the history never
// blocks or rolls back dispatch.
func (d *Dispatcher) record(ctx context.Context, alert *models.Alert, eventOutcome models.EventOutcome, outcome *evaluate.Outcome) {
	event := &models.NotificationEvent{
		AlertID:   alert.ID,
		UserID:    alert.UserID,
		Kind:      alert.Kind,
		Outcome:   eventOutcome,
		Summary:   outcome.Summary,
		Value:     outcome.Value,
		CreatedAt: d.now(),
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := d.events.Record(recordCtx, event); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("failed to record notification event")
	}
}

// RecordOutcome appends a non-dispatch outcome (skips, malformed conditions)
// to the event history. The scheduler uses this for observability rows.
func (d *Dispatcher) RecordOutcome(ctx context.Context, alert *models.Alert, eventOutcome models.EventOutcome, summary string) {
	d.record(ctx, alert, eventOutcome, &evaluate.Outcome{Summary: summary})
}
