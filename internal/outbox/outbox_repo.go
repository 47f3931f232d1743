// Package outbox relays stored order events to Kafka.
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Event statuses.
const (
	StatusPending = "PENDING"
	StatusSent    = "SENT"
	StatusFailed  = "FAILED"
)

// Event is a row of outbox_events.
type Event struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Attempts      int
}

type Repository interface {
	ListPending(ctx context.Context, limit int) ([]Event, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error, maxAttempts int) error
}

type sqlRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository returns a Repository over the outbox_events table.
func NewRepository(database *sql.DB) Repository {
	return &sqlRepository{db: database, now: time.Now}
}

func (r *sqlRepository) ListPending(ctx context.Context, limit int) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, attempts
		FROM outbox_events
		WHERE status = ?
		ORDER BY datetime(created_at), id
		LIMIT ?
	`, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Payload, &e.Attempts); err != nil {
			return nil, fmt.Errorf("scan pending event: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending events: %w", err)
	}

	return events, nil
}

func (r *sqlRepository) MarkSent(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events SET status = ?, sent_at = ? WHERE id = ?
	`, StatusSent, r.now().UTC().Format(time.DateTime), id)
	if err != nil {
		return fmt.Errorf("mark event sent: %w", err)
	}
	return expectOne(result, id)
}

// MarkFailed records a failed publish. The event stays pending until it has
// failed maxAttempts times.
func (r *sqlRepository) MarkFailed(ctx context.Context, id string, cause error, maxAttempts int) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET attempts = attempts + 1,
			last_error = ?,
			status = CASE WHEN attempts + 1 >= ? THEN ? ELSE status END
		WHERE id = ?
	`, cause.Error(), maxAttempts, StatusFailed, id)
	if err != nil {
		return fmt.Errorf("mark event failed: %w", err)
	}
	return expectOne(result, id)
}

func expectOne(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("read affected events: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("outbox event %s not found", id)
	}
	return nil
}
