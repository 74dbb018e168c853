package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/ticket-automation/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated         EventType = "ticket.created"
	EventTicketUpdated         EventType = "ticket.updated"
	EventTicketStatusChanged   EventType = "ticket.status_changed"
	EventTicketEscalated       EventType = "ticket.escalated"
	EventPrioritizationApplied EventType = "automation.prioritization_applied"
	EventAssignmentApplied     EventType = "automation.assignment_applied"
	EventSLAWarning            EventType = "sla.warning"
	EventSLABreached           EventType = "sla.breached"
)

// Payload is implemented by every event payload variant. The event type
// is derived from the payload, keeping the pairing compile-time checked.
type Payload interface {
	EventType() EventType
}

// Metadata carries event provenance.
type Metadata struct {
	UserID        string `json:"user_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	CausationID   string `json:"causation_id,omitempty"`
	Source        string `json:"source"`
	Version       int    `json:"version"`
}

// Event is the envelope published on the bus. Immutable once published.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Payload   `json:"payload"`
	Metadata  Metadata  `json:"metadata"`
	Priority  int       `json:"priority"`
}

// NewEventID returns a globally unique, roughly time-ordered identifier.
func NewEventID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	TicketID   string                `json:"ticket_id"`
	Category   string                `json:"category"`
	WorkflowID *string               `json:"workflow_id,omitempty"`
	Priority   domain.TicketPriority `json:"priority"`
	Title      string                `json:"title"`
}

func (TicketCreatedPayload) EventType() EventType { return EventTicketCreated }

// TicketUpdatedPayload payload.
type TicketUpdatedPayload struct {
	TicketID      string   `json:"ticket_id"`
	ChangedFields []string `json:"changed_fields"`
}

func (TicketUpdatedPayload) EventType() EventType { return EventTicketUpdated }

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	TicketID  string              `json:"ticket_id"`
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
}

func (TicketStatusChangedPayload) EventType() EventType { return EventTicketStatusChanged }

// TicketEscalatedPayload payload.
type TicketEscalatedPayload struct {
	TicketID        string                 `json:"ticket_id"`
	RuleName        string                 `json:"rule_name"`
	EscalatedToRole domain.UserRole        `json:"escalated_to_role"`
	AssigneeID      string                 `json:"assignee_id"`
	OldPriority     domain.TicketPriority  `json:"old_priority"`
	NewPriority     *domain.TicketPriority `json:"new_priority,omitempty"`
}

func (TicketEscalatedPayload) EventType() EventType { return EventTicketEscalated }

// PrioritizationAppliedPayload payload.
type PrioritizationAppliedPayload struct {
	TicketID    string                `json:"ticket_id"`
	Keyword     string                `json:"keyword"`
	OldPriority domain.TicketPriority `json:"old_priority"`
	NewPriority domain.TicketPriority `json:"new_priority"`
}

func (PrioritizationAppliedPayload) EventType() EventType { return EventPrioritizationApplied }

// AssignmentAppliedPayload payload.
type AssignmentAppliedPayload struct {
	TicketID      string          `json:"ticket_id"`
	Role          domain.UserRole `json:"role"`
	OldAssigneeID *string         `json:"old_assignee_id,omitempty"`
	NewAssigneeID string          `json:"new_assignee_id"`
}

func (AssignmentAppliedPayload) EventType() EventType { return EventAssignmentApplied }

// SLAWarningPayload payload.
type SLAWarningPayload struct {
	TicketID    string          `json:"ticket_id"`
	MetricID    string          `json:"metric_id"`
	Phase       domain.SLAPhase `json:"phase"`
	ElapsedMins int             `json:"elapsed_mins"`
	TargetMins  int             `json:"target_mins"`
}

func (SLAWarningPayload) EventType() EventType { return EventSLAWarning }

// SLABreachedPayload payload.
type SLABreachedPayload struct {
	TicketID    string            `json:"ticket_id"`
	MetricID    string            `json:"metric_id"`
	BreachID    string            `json:"breach_id"`
	BreachType  domain.BreachType `json:"breach_type"`
	ElapsedMins int               `json:"elapsed_mins"`
	TargetMins  int               `json:"target_mins"`
	OverageMins int               `json:"overage_mins"`
}

func (SLABreachedPayload) EventType() EventType { return EventSLABreached }
