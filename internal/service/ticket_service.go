package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-automation/internal/domain"
	"github.com/spec-kit/ticket-automation/internal/events"
	"github.com/spec-kit/ticket-automation/internal/repository"
	apperrors "github.com/spec-kit/ticket-automation/pkg/util"
)

// validStatusTransitions is the forward edge set of the ticket
// lifecycle. Terminal states have no outgoing edges except reopening a
// resolved ticket.
var validStatusTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusOpen:        {domain.TicketStatusInProgress, domain.TicketStatusPendingUser, domain.TicketStatusResolved, domain.TicketStatusCancelled},
	domain.TicketStatusInProgress:  {domain.TicketStatusPendingUser, domain.TicketStatusResolved, domain.TicketStatusCancelled},
	domain.TicketStatusPendingUser: {domain.TicketStatusInProgress, domain.TicketStatusResolved, domain.TicketStatusCancelled},
	domain.TicketStatusResolved:    {domain.TicketStatusClosed, domain.TicketStatusInProgress},
}

// TicketService owns the ticket lifecycle. Each mutation records a
// history entry and publishes the matching event, which is what feeds
// the rule engine.
type TicketService struct {
	tickets repository.TicketRepository
	history repository.TicketHistoryRepository
	sla     *SLAService
	bus     *events.Bus
	logger  *zap.Logger
	now     func() time.Time
}

// TicketDependencies bundles collaborators.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	HistoryRepo repository.TicketHistoryRepository
	SLA         *SLAService
	Bus         *events.Bus
	Logger      *zap.Logger
	Now         func() time.Time
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &TicketService{
		tickets: deps.TicketRepo,
		history: deps.HistoryRepo,
		sla:     deps.SLA,
		bus:     deps.Bus,
		logger:  logger,
		now:     now,
	}
}

// CreateTicketInput is the creation payload.
type CreateTicketInput struct {
	RequesterID string
	Category    string
	WorkflowID  *string
	Title       string
	Description string
	Priority    domain.TicketPriority
	Tags        []string
}

// CreateTicket stores a new ticket, starts its SLA tracking and
// publishes ticket.created so automation rules run against it.
func (s *TicketService) CreateTicket(ctx context.Context, input CreateTicketInput) (*domain.Ticket, error) {
	if input.Title == "" {
		return nil, apperrors.NewValidationError("title is required", nil)
	}
	if input.RequesterID == "" {
		return nil, apperrors.NewValidationError("requester is required", nil)
	}
	if input.Category == "" {
		return nil, apperrors.NewValidationError("category is required", nil)
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}

	ticket := &domain.Ticket{
		ExternalKey: newExternalKey(),
		RequesterID: input.RequesterID,
		Category:    input.Category,
		WorkflowID:  input.WorkflowID,
		Title:       input.Title,
		Description: input.Description,
		Status:      domain.TicketStatusOpen,
		Priority:    priority,
		Tags:        input.Tags,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, err
	}
	s.logger.Info("ticket created",
		zap.String("ticket_id", ticket.ID),
		zap.String("external_key", ticket.ExternalKey))

	// tracking starts at creation; a missing policy is logged, not fatal,
	// so tickets in unconfigured categories still flow through
	if s.sla != nil {
		if _, err := s.sla.EnsureMetric(ctx, ticket); err != nil {
			s.logger.Warn("sla tracking not started",
				zap.String("ticket_id", ticket.ID),
				zap.Error(err))
		}
	}

	s.publish(ctx, events.TicketCreatedPayload{
		TicketID:   ticket.ID,
		Category:   ticket.Category,
		WorkflowID: ticket.WorkflowID,
		Priority:   ticket.Priority,
		Title:      ticket.Title,
	})
	return ticket, nil
}

// GetTicket loads a ticket by id.
func (s *TicketService) GetTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, err
	}
	return ticket, nil
}

// ListTickets exposes the filtered ticket search.
func (s *TicketService) ListTickets(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	return s.tickets.ListWithFilter(ctx, filter)
}

// ChangeStatus moves a ticket along the lifecycle, recording the
// transition and publishing ticket.status_changed. Resolving also
// completes the SLA resolution phase.
func (s *TicketService) ChangeStatus(ctx context.Context, ticketID string, newStatus domain.TicketStatus, byUserID *string) (*domain.Ticket, error) {
	ticket, err := s.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status == newStatus {
		return ticket, nil
	}
	if !transitionAllowed(ticket.Status, newStatus) {
		return nil, apperrors.NewConflict("invalid status transition", map[string]any{
			"ticket_id": ticketID,
			"from":      ticket.Status,
			"to":        newStatus,
		})
	}

	oldStatus := ticket.Status
	ticket.Status = newStatus
	now := s.now()
	if newStatus.IsTerminal() {
		ticket.ClosedAt = &now
	} else {
		ticket.ClosedAt = nil
	}
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, err
	}

	if err := s.history.Create(ctx, &domain.TicketHistory{
		TicketID:      ticket.ID,
		ChangedByType: actorType(byUserID),
		ChangedByID:   byUserID,
		ChangeType:    domain.ChangeTypeStatus,
		OldValue:      map[string]any{"status": string(oldStatus)},
		NewValue:      map[string]any{"status": string(newStatus)},
	}); err != nil {
		return nil, err
	}

	if newStatus == domain.TicketStatusResolved && s.sla != nil {
		if _, err := s.sla.RecordPhase(ctx, ticket.ID, domain.PhaseResolution, now); err != nil {
			// tickets in unconfigured categories have no metric; resolving
			// them is still fine
			var domainErr *apperrors.DomainError
			if !errors.As(err, &domainErr) || domainErr.Code != "NOT_FOUND" {
				return nil, err
			}
		}
	}

	s.publish(ctx, events.TicketStatusChangedPayload{
		TicketID:  ticket.ID,
		OldStatus: oldStatus,
		NewStatus: newStatus,
	})
	return ticket, nil
}

// RecordFirstResponse completes the SLA response phase at the given
// instant. Only the first call has an effect.
func (s *TicketService) RecordFirstResponse(ctx context.Context, ticketID string, at *time.Time) (*domain.SLAMetric, error) {
	ts := s.now()
	if at != nil {
		ts = *at
	}
	return s.sla.RecordPhase(ctx, ticketID, domain.PhaseResponse, ts)
}

// RecordApproval completes the SLA approval phase at the given instant.
func (s *TicketService) RecordApproval(ctx context.Context, ticketID string, at *time.Time) (*domain.SLAMetric, error) {
	ts := s.now()
	if at != nil {
		ts = *at
	}
	return s.sla.RecordPhase(ctx, ticketID, domain.PhaseApproval, ts)
}

// Resolve transitions the ticket to RESOLVED on behalf of a user.
func (s *TicketService) Resolve(ctx context.Context, ticketID string, byUserID *string) (*domain.Ticket, error) {
	return s.ChangeStatus(ctx, ticketID, domain.TicketStatusResolved, byUserID)
}

// History returns the ticket's audit trail.
func (s *TicketService) History(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	return s.history.ListByTicket(ctx, ticketID)
}

func (s *TicketService) publish(ctx context.Context, payload events.Payload) {
	if s.bus == nil {
		return
	}
	if _, err := s.bus.Publish(ctx, payload); err != nil {
		s.logger.Error("publish ticket event", zap.Error(err))
	}
}

func transitionAllowed(from, to domain.TicketStatus) bool {
	for _, next := range validStatusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func actorType(userID *string) domain.ActorType {
	if userID == nil {
		return domain.ActorTypeSystem
	}
	return domain.ActorTypeUser
}

func newExternalKey() string {
	return "TCK-" + strings.ToUpper(uuid.NewString()[:8])
}
