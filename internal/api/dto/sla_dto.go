package dto

import (
	"time"

	"github.com/spec-kit/ticket-automation/internal/domain"
)

// PolicyRequest creates or updates an SLA policy.
type PolicyRequest struct {
	Name               string                 `json:"name"`
	IsActive           *bool                  `json:"is_active,omitempty"`
	ResponseTimeMins   int                    `json:"response_time_mins"`
	ResolutionTimeMins int                    `json:"resolution_time_mins"`
	ApprovalTimeMins   *int                   `json:"approval_time_mins,omitempty"`
	WarningThreshold   *float64               `json:"warning_threshold,omitempty"`
	Category           *string                `json:"category,omitempty"`
	Priority           *domain.TicketPriority `json:"priority,omitempty"`
	WorkflowID         *string                `json:"workflow_id,omitempty"`
}

// PolicyResponse is the policy representation.
type PolicyResponse struct {
	ID                 string                 `json:"id"`
	Name               string                 `json:"name"`
	IsActive           bool                   `json:"is_active"`
	ResponseTimeMins   int                    `json:"response_time_mins"`
	ResolutionTimeMins int                    `json:"resolution_time_mins"`
	ApprovalTimeMins   *int                   `json:"approval_time_mins,omitempty"`
	WarningThreshold   float64                `json:"warning_threshold"`
	Category           *string                `json:"category,omitempty"`
	Priority           *domain.TicketPriority `json:"priority,omitempty"`
	WorkflowID         *string                `json:"workflow_id,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

// MetricResponse is the compliance snapshot for one ticket.
type MetricResponse struct {
	ID                       string           `json:"id"`
	TicketID                 string           `json:"ticket_id"`
	SLAPolicyID              string           `json:"sla_policy_id"`
	Status                   domain.SLAStatus `json:"status"`
	TicketCreatedAt          time.Time        `json:"ticket_created_at"`
	FirstResponseAt          *time.Time       `json:"first_response_at,omitempty"`
	ResolvedAt               *time.Time       `json:"resolved_at,omitempty"`
	ApprovalCompletedAt      *time.Time       `json:"approval_completed_at,omitempty"`
	ResponseTimeMins         *int             `json:"response_time_mins,omitempty"`
	ResolutionTimeMins       *int             `json:"resolution_time_mins,omitempty"`
	ApprovalTimeMins         *int             `json:"approval_time_mins,omitempty"`
	TargetResponseTimeMins   int              `json:"target_response_time_mins"`
	TargetResolutionTimeMins int              `json:"target_resolution_time_mins"`
	TargetApprovalTimeMins   *int             `json:"target_approval_time_mins,omitempty"`
}

// BreachResponse is the breach representation.
type BreachResponse struct {
	ID               string              `json:"id"`
	TicketID         string              `json:"ticket_id"`
	SLAMetricID      string              `json:"sla_metric_id"`
	SLAPolicyID      string              `json:"sla_policy_id"`
	BreachType       domain.BreachType   `json:"breach_type"`
	Status           domain.BreachStatus `json:"status"`
	BreachedAt       time.Time           `json:"breached_at"`
	ActualTimeMins   int                 `json:"actual_time_mins"`
	TargetTimeMins   int                 `json:"target_time_mins"`
	OverageMins      int                 `json:"overage_mins"`
	AcknowledgedAt   *time.Time          `json:"acknowledged_at,omitempty"`
	AcknowledgedByID *string             `json:"acknowledged_by_id,omitempty"`
	ResolutionNotes  *string             `json:"resolution_notes,omitempty"`
}

// ResolveBreachRequest carries resolution notes.
type ResolveBreachRequest struct {
	Notes string `json:"notes"`
}
