package dto

import (
	"time"

	"github.com/spec-kit/ticket-automation/internal/domain"
)

// CreateTicketRequest is the ticket creation payload.
type CreateTicketRequest struct {
	RequesterID string                `json:"requester_id"`
	Category    string                `json:"category"`
	WorkflowID  *string               `json:"workflow_id,omitempty"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Priority    domain.TicketPriority `json:"priority,omitempty"`
	Tags        []string              `json:"tags,omitempty"`
}

// ChangeStatusRequest moves a ticket along its lifecycle.
type ChangeStatusRequest struct {
	Status domain.TicketStatus `json:"status"`
}

// PhaseTimestampRequest optionally backdates a phase completion.
type PhaseTimestampRequest struct {
	At *time.Time `json:"at,omitempty"`
}

// TicketSummary is the list representation of a ticket.
type TicketSummary struct {
	ID          string                `json:"id"`
	ExternalKey string                `json:"external_key"`
	RequesterID string                `json:"requester_id"`
	Category    string                `json:"category"`
	WorkflowID  *string               `json:"workflow_id,omitempty"`
	AssigneeID  *string               `json:"assignee_id,omitempty"`
	Title       string                `json:"title"`
	Status      domain.TicketStatus   `json:"status"`
	Priority    domain.TicketPriority `json:"priority"`
	Tags        []string              `json:"tags,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	ClosedAt    *time.Time            `json:"closed_at,omitempty"`
}

// HistoryEntry is one audit trail record.
type HistoryEntry struct {
	ID            string                  `json:"id"`
	ChangedByType domain.ActorType        `json:"changed_by_type"`
	ChangedByID   *string                 `json:"changed_by_id,omitempty"`
	ChangeType    domain.TicketChangeType `json:"change_type"`
	OldValue      map[string]any          `json:"old_value,omitempty"`
	NewValue      map[string]any          `json:"new_value,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
}

// TicketDetailResponse is the single-ticket representation.
type TicketDetailResponse struct {
	TicketSummary
	Description string         `json:"description"`
	History     []HistoryEntry `json:"history"`
}
