package models

import "time"

// EventOutcome classifies what happened to an alert in one tick.
type EventOutcome string

const (
	// OutcomeDispatched means a notification was sent and committed
	OutcomeDispatched EventOutcome = "dispatched"
	// OutcomeDispatchFailed means the messaging collaborator did not ack
	OutcomeDispatchFailed EventOutcome = "dispatch_failed"
	// OutcomeSkippedFeed means the alert's feed data was unavailable this tick
	OutcomeSkippedFeed EventOutcome = "skipped_feed"
	// OutcomeSkippedQuota means the user's daily call quota was exhausted
	OutcomeSkippedQuota EventOutcome = "skipped_quota"
	// OutcomeMalformed means the conditions payload did not parse
	OutcomeMalformed EventOutcome = "malformed_condition"
)

// NotificationEvent is one row of the append-only evaluation/dispatch
// history stored in ClickHouse.
type NotificationEvent struct {
	EventID   string       `json:"eventId" ch:"event_id"`
	AlertID   string       `json:"alertId" ch:"alert_id"`
	UserID    int64        `json:"userId" ch:"user_id"`
	Kind      AlertKind    `json:"kind" ch:"kind"`
	Outcome   EventOutcome `json:"outcome" ch:"outcome"`
	Summary   string       `json:"summary" ch:"summary"`
	Value     *float64     `json:"value,omitempty" ch:"value"`
	CreatedAt time.Time    `json:"createdAt" ch:"created_at"`
}
