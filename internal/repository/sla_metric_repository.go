package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-automation/internal/domain"
)

// SLAMetricRepository persists per-ticket SLA metrics.
type SLAMetricRepository interface {
	// CreateIfAbsent inserts the metric unless one already exists for the
	// ticket. Returns false when the insert was a no-op.
	CreateIfAbsent(ctx context.Context, metric *domain.SLAMetric) (bool, error)
	Update(ctx context.Context, metric *domain.SLAMetric) error
	GetByTicketID(ctx context.Context, ticketID string) (*domain.SLAMetric, error)
	// ListOpen returns metrics with any phase still incomplete: unresolved
	// tickets, plus resolved ones whose tracked approval is pending. This
	// is the set the periodic monitoring job re-evaluates.
	ListOpen(ctx context.Context, limit, offset int) ([]domain.SLAMetric, error)
}

type slaMetricRepository struct {
	pool *pgxpool.Pool
}

// NewSLAMetricRepository builds repository.
func NewSLAMetricRepository(pool *pgxpool.Pool) SLAMetricRepository {
	return &slaMetricRepository{pool: pool}
}

const metricColumns = `id, ticket_id, sla_policy_id, ticket_created_at, first_response_at, resolved_at,
        approval_completed_at, response_time_mins, resolution_time_mins, approval_time_mins,
        target_response_time_mins, target_resolution_time_mins, target_approval_time_mins,
        status, created_at, updated_at`

func (r *slaMetricRepository) CreateIfAbsent(ctx context.Context, metric *domain.SLAMetric) (bool, error) {
	const query = `
        INSERT INTO sla_metrics (ticket_id, sla_policy_id, ticket_created_at,
            target_response_time_mins, target_resolution_time_mins, target_approval_time_mins, status)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (ticket_id) DO NOTHING
        RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, query,
		metric.TicketID,
		metric.SLAPolicyID,
		metric.TicketCreatedAt,
		metric.TargetResponseTimeMins,
		metric.TargetResolutionTimeMins,
		metric.TargetApprovalTimeMins,
		metric.Status,
	).Scan(&metric.ID, &metric.CreatedAt, &metric.UpdatedAt)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *slaMetricRepository) Update(ctx context.Context, metric *domain.SLAMetric) error {
	const query = `
        UPDATE sla_metrics SET first_response_at=$1, resolved_at=$2, approval_completed_at=$3,
            response_time_mins=$4, resolution_time_mins=$5, approval_time_mins=$6, status=$7, updated_at=NOW()
        WHERE id=$8`
	cmd, err := r.pool.Exec(ctx, query,
		metric.FirstResponseAt,
		metric.ResolvedAt,
		metric.ApprovalCompletedAt,
		metric.ResponseTimeMins,
		metric.ResolutionTimeMins,
		metric.ApprovalTimeMins,
		metric.Status,
		metric.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *slaMetricRepository) GetByTicketID(ctx context.Context, ticketID string) (*domain.SLAMetric, error) {
	query := `SELECT ` + metricColumns + ` FROM sla_metrics WHERE ticket_id=$1`
	var metric domain.SLAMetric
	if err := r.pool.QueryRow(ctx, query, ticketID).Scan(
		&metric.ID,
		&metric.TicketID,
		&metric.SLAPolicyID,
		&metric.TicketCreatedAt,
		&metric.FirstResponseAt,
		&metric.ResolvedAt,
		&metric.ApprovalCompletedAt,
		&metric.ResponseTimeMins,
		&metric.ResolutionTimeMins,
		&metric.ApprovalTimeMins,
		&metric.TargetResponseTimeMins,
		&metric.TargetResolutionTimeMins,
		&metric.TargetApprovalTimeMins,
		&metric.Status,
		&metric.CreatedAt,
		&metric.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &metric, nil
}

func (r *slaMetricRepository) ListOpen(ctx context.Context, limit, offset int) ([]domain.SLAMetric, error) {
	if limit <= 0 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + metricColumns + ` FROM sla_metrics
        WHERE resolved_at IS NULL
           OR (target_approval_time_mins IS NOT NULL AND approval_completed_at IS NULL)
        ORDER BY ticket_created_at ASC LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.SLAMetric
	for rows.Next() {
		var metric domain.SLAMetric
		if err := rows.Scan(
			&metric.ID,
			&metric.TicketID,
			&metric.SLAPolicyID,
			&metric.TicketCreatedAt,
			&metric.FirstResponseAt,
			&metric.ResolvedAt,
			&metric.ApprovalCompletedAt,
			&metric.ResponseTimeMins,
			&metric.ResolutionTimeMins,
			&metric.ApprovalTimeMins,
			&metric.TargetResponseTimeMins,
			&metric.TargetResolutionTimeMins,
			&metric.TargetApprovalTimeMins,
			&metric.Status,
			&metric.CreatedAt,
			&metric.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, metric)
	}
	return result, rows.Err()
}
