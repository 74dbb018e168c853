package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-automation/internal/domain"
)

// BreachFilter narrows breach listings.
type BreachFilter struct {
	TicketID *string
	Status   *domain.BreachStatus
	Limit    int
	Offset   int
}

// SLABreachRepository persists breach records. Creation is get-or-create
// on (sla_metric_id, breach_type) over the partial OPEN unique index so
// repeated detection of the same breach is idempotent.
type SLABreachRepository interface {
	GetOrCreateOpen(ctx context.Context, breach *domain.SLABreach) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.SLABreach, error)
	List(ctx context.Context, filter BreachFilter) ([]domain.SLABreach, error)
	Acknowledge(ctx context.Context, id, byUserID string, at time.Time) error
	Resolve(ctx context.Context, id, notes string) error
}

type slaBreachRepository struct {
	pool *pgxpool.Pool
}

// NewSLABreachRepository builds repository.
func NewSLABreachRepository(pool *pgxpool.Pool) SLABreachRepository {
	return &slaBreachRepository{pool: pool}
}

const breachColumns = `id, ticket_id, sla_metric_id, sla_policy_id, breach_type, breached_at,
        actual_time_mins, target_time_mins, overage_mins, stage_index, status,
        acknowledged_at, acknowledged_by_id, resolution_notes, created_at, updated_at`

// GetOrCreateOpen inserts an Open breach unless one already exists for
// (metric, type). Returns true when this call created the record; on
// false the existing record is loaded into breach.
func (r *slaBreachRepository) GetOrCreateOpen(ctx context.Context, breach *domain.SLABreach) (bool, error) {
	const insert = `
        INSERT INTO sla_breaches (ticket_id, sla_metric_id, sla_policy_id, breach_type, breached_at,
            actual_time_mins, target_time_mins, overage_mins, stage_index, status)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,'OPEN')
        ON CONFLICT (sla_metric_id, breach_type) WHERE status = 'OPEN' DO NOTHING
        RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, insert,
		breach.TicketID,
		breach.SLAMetricID,
		breach.SLAPolicyID,
		breach.BreachType,
		breach.BreachedAt,
		breach.ActualTimeMins,
		breach.TargetTimeMins,
		breach.OverageMins,
		breach.StageIndex,
	).Scan(&breach.ID, &breach.CreatedAt, &breach.UpdatedAt)
	if err == nil {
		breach.Status = domain.BreachStatusOpen
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}

	existing, err := r.getOpen(ctx, breach.SLAMetricID, breach.BreachType)
	if err != nil {
		return false, err
	}
	*breach = *existing
	return false, nil
}

func (r *slaBreachRepository) getOpen(ctx context.Context, metricID string, breachType domain.BreachType) (*domain.SLABreach, error) {
	query := `SELECT ` + breachColumns + ` FROM sla_breaches
        WHERE sla_metric_id=$1 AND breach_type=$2 AND status='OPEN'`
	return r.fetchSingle(ctx, query, metricID, breachType)
}

func (r *slaBreachRepository) GetByID(ctx context.Context, id string) (*domain.SLABreach, error) {
	query := `SELECT ` + breachColumns + ` FROM sla_breaches WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *slaBreachRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.SLABreach, error) {
	var breach domain.SLABreach
	if err := r.pool.QueryRow(ctx, query, args...).Scan(
		&breach.ID,
		&breach.TicketID,
		&breach.SLAMetricID,
		&breach.SLAPolicyID,
		&breach.BreachType,
		&breach.BreachedAt,
		&breach.ActualTimeMins,
		&breach.TargetTimeMins,
		&breach.OverageMins,
		&breach.StageIndex,
		&breach.Status,
		&breach.AcknowledgedAt,
		&breach.AcknowledgedByID,
		&breach.ResolutionNotes,
		&breach.CreatedAt,
		&breach.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &breach, nil
}

func (r *slaBreachRepository) List(ctx context.Context, filter BreachFilter) ([]domain.SLABreach, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if filter.TicketID != nil {
		args = append(args, *filter.TicketID)
		clauses = append(clauses, fmt.Sprintf("ticket_id=$%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT %s FROM sla_breaches WHERE %s ORDER BY breached_at DESC LIMIT %d OFFSET %d`,
		breachColumns, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.SLABreach
	for rows.Next() {
		var breach domain.SLABreach
		if err := rows.Scan(
			&breach.ID,
			&breach.TicketID,
			&breach.SLAMetricID,
			&breach.SLAPolicyID,
			&breach.BreachType,
			&breach.BreachedAt,
			&breach.ActualTimeMins,
			&breach.TargetTimeMins,
			&breach.OverageMins,
			&breach.StageIndex,
			&breach.Status,
			&breach.AcknowledgedAt,
			&breach.AcknowledgedByID,
			&breach.ResolutionNotes,
			&breach.CreatedAt,
			&breach.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, breach)
	}
	return result, rows.Err()
}

func (r *slaBreachRepository) Acknowledge(ctx context.Context, id, byUserID string, at time.Time) error {
	const query = `
        UPDATE sla_breaches SET status=$1, acknowledged_at=$2, acknowledged_by_id=$3, updated_at=NOW()
        WHERE id=$4 AND status=$5`
	cmd, err := r.pool.Exec(ctx, query,
		domain.BreachStatusAcknowledged, at, byUserID, id, domain.BreachStatusOpen)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *slaBreachRepository) Resolve(ctx context.Context, id, notes string) error {
	const query = `
        UPDATE sla_breaches SET status=$1, resolution_notes=$2, updated_at=NOW()
        WHERE id=$3 AND status=$4`
	cmd, err := r.pool.Exec(ctx, query,
		domain.BreachStatusResolved, notes, id, domain.BreachStatusAcknowledged)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
