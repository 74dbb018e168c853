package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-automation/internal/domain"
)

// SLAPolicyRepository persists SLA policies.
type SLAPolicyRepository interface {
	Create(ctx context.Context, policy *domain.SLAPolicy) error
	Update(ctx context.Context, policy *domain.SLAPolicy) error
	GetByID(ctx context.Context, id string) (*domain.SLAPolicy, error)
	ListActive(ctx context.Context) ([]domain.SLAPolicy, error)
	// HasActiveConflict reports whether another active policy already has
	// the same (category, priority, workflow) matching tuple. Null fields
	// are compared null-sensitively since they act as wildcards.
	HasActiveConflict(ctx context.Context, policy *domain.SLAPolicy) (bool, error)
}

type slaPolicyRepository struct {
	pool *pgxpool.Pool
}

// NewSLAPolicyRepository builds repository.
func NewSLAPolicyRepository(pool *pgxpool.Pool) SLAPolicyRepository {
	return &slaPolicyRepository{pool: pool}
}

func (r *slaPolicyRepository) Create(ctx context.Context, policy *domain.SLAPolicy) error {
	const query = `
        INSERT INTO sla_policies (name, is_active, response_time_mins, resolution_time_mins, approval_time_mins, warning_threshold, category, priority, workflow_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		policy.Name,
		policy.IsActive,
		policy.ResponseTimeMins,
		policy.ResolutionTimeMins,
		policy.ApprovalTimeMins,
		policy.WarningThreshold,
		policy.Category,
		policy.Priority,
		policy.WorkflowID,
	).Scan(&policy.ID, &policy.CreatedAt, &policy.UpdatedAt)
}

func (r *slaPolicyRepository) Update(ctx context.Context, policy *domain.SLAPolicy) error {
	const query = `
        UPDATE sla_policies SET name=$1, is_active=$2, response_time_mins=$3, resolution_time_mins=$4,
            approval_time_mins=$5, warning_threshold=$6, category=$7, priority=$8, workflow_id=$9, updated_at=NOW()
        WHERE id=$10`
	cmd, err := r.pool.Exec(ctx, query,
		policy.Name,
		policy.IsActive,
		policy.ResponseTimeMins,
		policy.ResolutionTimeMins,
		policy.ApprovalTimeMins,
		policy.WarningThreshold,
		policy.Category,
		policy.Priority,
		policy.WorkflowID,
		policy.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *slaPolicyRepository) GetByID(ctx context.Context, id string) (*domain.SLAPolicy, error) {
	const query = `
        SELECT id, name, is_active, response_time_mins, resolution_time_mins, approval_time_mins,
               warning_threshold, category, priority, workflow_id, created_at, updated_at
        FROM sla_policies WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *slaPolicyRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.SLAPolicy, error) {
	var policy domain.SLAPolicy
	if err := r.pool.QueryRow(ctx, query, arg).Scan(
		&policy.ID,
		&policy.Name,
		&policy.IsActive,
		&policy.ResponseTimeMins,
		&policy.ResolutionTimeMins,
		&policy.ApprovalTimeMins,
		&policy.WarningThreshold,
		&policy.Category,
		&policy.Priority,
		&policy.WorkflowID,
		&policy.CreatedAt,
		&policy.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &policy, nil
}

func (r *slaPolicyRepository) ListActive(ctx context.Context) ([]domain.SLAPolicy, error) {
	const query = `
        SELECT id, name, is_active, response_time_mins, resolution_time_mins, approval_time_mins,
               warning_threshold, category, priority, workflow_id, created_at, updated_at
        FROM sla_policies WHERE is_active=TRUE ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.SLAPolicy
	for rows.Next() {
		var policy domain.SLAPolicy
		if err := rows.Scan(
			&policy.ID,
			&policy.Name,
			&policy.IsActive,
			&policy.ResponseTimeMins,
			&policy.ResolutionTimeMins,
			&policy.ApprovalTimeMins,
			&policy.WarningThreshold,
			&policy.Category,
			&policy.Priority,
			&policy.WorkflowID,
			&policy.CreatedAt,
			&policy.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, policy)
	}
	return result, rows.Err()
}

func (r *slaPolicyRepository) HasActiveConflict(ctx context.Context, policy *domain.SLAPolicy) (bool, error) {
	const query = `
        SELECT EXISTS (
            SELECT 1 FROM sla_policies
            WHERE is_active=TRUE
              AND id IS DISTINCT FROM $1
              AND category IS NOT DISTINCT FROM $2
              AND priority IS NOT DISTINCT FROM $3
              AND workflow_id IS NOT DISTINCT FROM $4
        )`
	var id any
	if policy.ID != "" {
		id = policy.ID
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, query, id, policy.Category, policy.Priority, policy.WorkflowID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
