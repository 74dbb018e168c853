package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-automation/internal/events"
)

// EventAuditRecord is an archived copy of a published event.
type EventAuditRecord struct {
	ID            string
	EventID       string
	EventType     string
	OccurredAt    time.Time
	Source        string
	CorrelationID *string
	CausationID   *string
	UserID        *string
	Payload       json.RawMessage
	CreatedAt     time.Time
}

// EventAuditRepository archives published events. Implements the bus's
// AuditSink; appends are best-effort from the bus's point of view.
type EventAuditRepository interface {
	Append(ctx context.Context, event events.Event) error
	ListRecent(ctx context.Context, eventType string, limit int) ([]EventAuditRecord, error)
}

type eventAuditRepository struct {
	pool *pgxpool.Pool
}

// NewEventAuditRepository builds repository.
func NewEventAuditRepository(pool *pgxpool.Pool) EventAuditRepository {
	return &eventAuditRepository{pool: pool}
}

func (r *eventAuditRepository) Append(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	const query = `
        INSERT INTO event_audit (event_id, event_type, occurred_at, source, correlation_id, causation_id, user_id, payload)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err = r.pool.Exec(ctx, query,
		event.ID,
		string(event.Type),
		event.Timestamp,
		event.Metadata.Source,
		nullable(event.Metadata.CorrelationID),
		nullable(event.Metadata.CausationID),
		nullable(event.Metadata.UserID),
		payload,
	)
	return err
}

func (r *eventAuditRepository) ListRecent(ctx context.Context, eventType string, limit int) ([]EventAuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
        SELECT id, event_id, event_type, occurred_at, source, correlation_id, causation_id, user_id, payload, created_at
        FROM event_audit
        WHERE ($1 = '' OR event_type = $1)
        ORDER BY occurred_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, eventType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []EventAuditRecord
	for rows.Next() {
		var rec EventAuditRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.EventID,
			&rec.EventType,
			&rec.OccurredAt,
			&rec.Source,
			&rec.CorrelationID,
			&rec.CausationID,
			&rec.UserID,
			&rec.Payload,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
