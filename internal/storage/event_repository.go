package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alert-engine/internal/models"
)

// EventRepository writes the append-only notification event history to
// ClickHouse. Writes are best-effort from the dispatcher's point of view: a
// failed history insert never rolls back a committed trigger.
type EventRepository struct {
	db *ClickHouseDB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *ClickHouseDB) *EventRepository {
	return &EventRepository{db: db}
}

// Record appends one event row
func (r *EventRepository) Record(ctx context.Context, event *models.NotificationEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var value float64
	if event.Value != nil {
		value = *event.Value
	}

	query := `
		INSERT INTO notification_events (event_id, alert_id, user_id, kind, outcome, summary, value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	err := r.db.Exec(ctx, query,
		event.EventID, event.AlertID, event.UserID,
		string(event.Kind), string(event.Outcome), event.Summary,
		value, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record notification event: %w", err)
	}
	return nil
}

// Recent retrieves the most recent events, newest first
func (r *EventRepository) Recent(ctx context.Context, limit int) ([]*models.NotificationEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT event_id, alert_id, user_id, kind, outcome, summary, value, created_at
		FROM notification_events
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.Conn().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer rows.Close()

	var events []*models.NotificationEvent
	for rows.Next() {
		var (
			e       models.NotificationEvent
			kind    string
			outcome string
			value   float64
		)
		if err := rows.Scan(&e.EventID, &e.AlertID, &e.UserID, &kind, &outcome, &e.Summary, &value, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Kind = models.AlertKind(kind)
		e.Outcome = models.EventOutcome(outcome)
		if value != 0 {
			e.Value = &value
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// CountByOutcome aggregates event counts per outcome since a cutoff
func (r *EventRepository) CountByOutcome(ctx context.Context, since time.Time) (map[models.EventOutcome]uint64, error) {
	query := `
		SELECT outcome, count() AS total
		FROM notification_events
		WHERE created_at >= $1
		GROUP BY outcome
	`

	rows, err := r.db.Conn().Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate events: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.EventOutcome]uint64)
	for rows.Next() {
		var outcome string
		var total uint64
		if err := rows.Scan(&outcome, &total); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		counts[models.EventOutcome(outcome)] = total
	}
	return counts, rows.Err()
}
