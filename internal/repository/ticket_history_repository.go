package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-automation/internal/domain"
)

// TicketHistoryRepository stores audit entries. Beyond the plain trail it
// answers the two questions the rule engine asks: has a named escalation
// rule already fired for a ticket, and when did a ticket last enter a
// given status.
type TicketHistoryRepository interface {
	Create(ctx context.Context, history *domain.TicketHistory) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketHistory, error)
	HasEscalation(ctx context.Context, ticketID, ruleName string) (bool, error)
	LastStatusChangeAt(ctx context.Context, ticketID string, status domain.TicketStatus) (*time.Time, error)
}

type ticketHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewTicketHistoryRepository builds repository.
func NewTicketHistoryRepository(pool *pgxpool.Pool) TicketHistoryRepository {
	return &ticketHistoryRepository{pool: pool}
}

func (r *ticketHistoryRepository) Create(ctx context.Context, history *domain.TicketHistory) error {
	const query = `
        INSERT INTO ticket_history (ticket_id, changed_by_type, changed_by_id, change_type, old_value, new_value)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		history.TicketID,
		history.ChangedByType,
		history.ChangedByID,
		history.ChangeType,
		history.OldValue,
		history.NewValue,
	).Scan(&history.ID, &history.CreatedAt)
}

func (r *ticketHistoryRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	const query = `
        SELECT id, ticket_id, changed_by_type, changed_by_id, change_type, old_value, new_value, created_at
        FROM ticket_history WHERE ticket_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TicketHistory
	for rows.Next() {
		var history domain.TicketHistory
		if err := rows.Scan(
			&history.ID,
			&history.TicketID,
			&history.ChangedByType,
			&history.ChangedByID,
			&history.ChangeType,
			&history.OldValue,
			&history.NewValue,
			&history.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, history)
	}
	return result, rows.Err()
}

func (r *ticketHistoryRepository) HasEscalation(ctx context.Context, ticketID, ruleName string) (bool, error) {
	const query = `
        SELECT EXISTS (
            SELECT 1 FROM ticket_history
            WHERE ticket_id=$1 AND change_type=$2 AND new_value->>'rule_name'=$3
        )`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, ticketID, domain.ChangeTypeEscalation, ruleName).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *ticketHistoryRepository) LastStatusChangeAt(ctx context.Context, ticketID string, status domain.TicketStatus) (*time.Time, error) {
	const query = `
        SELECT created_at FROM ticket_history
        WHERE ticket_id=$1 AND change_type=$2 AND new_value->>'status'=$3
        ORDER BY created_at DESC LIMIT 1`
	var at time.Time
	err := r.pool.QueryRow(ctx, query, ticketID, domain.ChangeTypeStatus, string(status)).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		// no entry means the ticket has held the status since creation
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &at, nil
}
