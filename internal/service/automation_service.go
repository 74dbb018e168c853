package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-automation/internal/domain"
	"github.com/spec-kit/ticket-automation/internal/events"
	"github.com/spec-kit/ticket-automation/internal/observability"
	"github.com/spec-kit/ticket-automation/internal/repository"
	"github.com/spec-kit/ticket-automation/internal/rules"
	apperrors "github.com/spec-kit/ticket-automation/pkg/util"
)

// AutomationService evaluates the three rule families against ticket
// snapshots. Every mutation path is a no-op when the target value is
// already in place, so reactive and periodic invocations can overlap
// safely.
type AutomationService struct {
	tickets    repository.TicketRepository
	users      repository.UserRepository
	history    repository.TicketHistoryRepository
	roundRobin *RoundRobinService
	rules      *rules.RuleSet
	bus        *events.Bus
	logger     *zap.Logger
	counters   *observability.Metrics
	now        func() time.Time
}

// AutomationDependencies bundles collaborators.
type AutomationDependencies struct {
	TicketRepo  repository.TicketRepository
	UserRepo    repository.UserRepository
	HistoryRepo repository.TicketHistoryRepository
	RoundRobin  *RoundRobinService
	Rules       *rules.RuleSet
	Bus         *events.Bus
	Logger      *zap.Logger
	Counters    *observability.Metrics
	Now         func() time.Time
}

// NewAutomationService constructs the service.
func NewAutomationService(deps AutomationDependencies) *AutomationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ruleSet := deps.Rules
	if ruleSet == nil {
		ruleSet = &rules.RuleSet{}
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &AutomationService{
		tickets:    deps.TicketRepo,
		users:      deps.UserRepo,
		history:    deps.HistoryRepo,
		roundRobin: deps.RoundRobin,
		rules:      ruleSet,
		bus:        deps.Bus,
		logger:     logger,
		counters:   deps.Counters,
		now:        now,
	}
}

// RegisterHandlers subscribes the rule engine to ticket lifecycle
// events.
func (s *AutomationService) RegisterHandlers(bus *events.Bus) {
	handler := func(ctx context.Context, event events.Event) error {
		ticketID := ticketIDFromEvent(event)
		if ticketID == "" {
			return nil
		}
		return s.ApplyRules(ctx, ticketID)
	}
	bus.Subscribe(events.EventTicketCreated, handler)
	bus.Subscribe(events.EventTicketUpdated, handler)
	bus.Subscribe(events.EventTicketStatusChanged, handler)
}

func ticketIDFromEvent(event events.Event) string {
	switch payload := event.Payload.(type) {
	case events.TicketCreatedPayload:
		return payload.TicketID
	case events.TicketUpdatedPayload:
		return payload.TicketID
	case events.TicketStatusChangedPayload:
		return payload.TicketID
	}
	return ""
}

// ApplyRules evaluates all three rule families against the ticket. Each
// family's failure is logged without blocking the others.
func (s *AutomationService) ApplyRules(ctx context.Context, ticketID string) error {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return err
	}

	if err := s.applyPrioritization(ctx, ticket); err != nil {
		s.logger.Error("prioritization rules failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
	}
	if err := s.applyAssignment(ctx, ticket); err != nil {
		s.logger.Error("assignment rules failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
	}
	if err := s.ApplyEscalation(ctx, ticket); err != nil {
		s.logger.Error("escalation rules failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
	}
	return nil
}

// applyPrioritization applies the first active rule whose keyword
// appears in the ticket text and whose target differs from the current
// priority.
func (s *AutomationService) applyPrioritization(ctx context.Context, ticket *domain.Ticket) error {
	haystack := strings.ToLower(ticket.Title + " " + ticket.Description)
	for _, rule := range s.rules.ActivePrioritization() {
		if !strings.Contains(haystack, strings.ToLower(rule.Keyword)) {
			continue
		}
		if rule.Priority == ticket.Priority {
			continue
		}

		oldPriority := ticket.Priority
		ticket.Priority = rule.Priority
		if err := s.tickets.Update(ctx, ticket); err != nil {
			return err
		}
		if err := s.recordHistory(ctx, ticket.ID, domain.ChangeTypePriority,
			map[string]any{"priority": string(oldPriority)},
			map[string]any{"priority": string(rule.Priority), "keyword": rule.Keyword},
		); err != nil {
			return err
		}
		if s.counters != nil {
			s.counters.Inc(observability.CounterPrioritiesApplied)
		}
		s.publish(ctx, events.PrioritizationAppliedPayload{
			TicketID:    ticket.ID,
			Keyword:     rule.Keyword,
			OldPriority: oldPriority,
			NewPriority: rule.Priority,
		})
		return nil
	}
	return nil
}

// applyAssignment routes the ticket to the next member of the role
// mapped from its category. Re-selecting the current assignee is a
// no-op.
func (s *AutomationService) applyAssignment(ctx context.Context, ticket *domain.Ticket) error {
	for _, rule := range s.rules.ActiveAssignment() {
		if rule.Category != ticket.Category {
			continue
		}

		candidate, err := s.nextCandidate(ctx, rule.Role)
		if err != nil {
			return err
		}
		if candidate == nil {
			s.logger.Debug("no assignable users for role",
				zap.String("role", string(rule.Role)),
				zap.String("ticket_id", ticket.ID))
			return nil
		}
		if ticket.AssigneeID != nil && *ticket.AssigneeID == candidate.ID {
			return nil
		}

		oldAssignee := ticket.AssigneeID
		ticket.AssigneeID = &candidate.ID
		if err := s.tickets.Update(ctx, ticket); err != nil {
			return err
		}
		if err := s.recordHistory(ctx, ticket.ID, domain.ChangeTypeAssignee,
			map[string]any{"assignee_user_id": derefOrNil(oldAssignee)},
			map[string]any{"assignee_user_id": candidate.ID, "role": string(rule.Role)},
		); err != nil {
			return err
		}
		if s.counters != nil {
			s.counters.Inc(observability.CounterAssignmentsApplied)
		}
		s.publish(ctx, events.AssignmentAppliedPayload{
			TicketID:      ticket.ID,
			Role:          rule.Role,
			OldAssigneeID: oldAssignee,
			NewAssigneeID: candidate.ID,
		})
		return nil
	}
	return nil
}

// ApplyEscalation fires every matching escalation rule that has not
// already been applied to the ticket. The history entry keyed by rule
// name is the run-once guard.
func (s *AutomationService) ApplyEscalation(ctx context.Context, ticket *domain.Ticket) error {
	for _, rule := range s.rules.ActiveEscalation() {
		if ticket.Priority != rule.Priority || ticket.Status != rule.Status {
			continue
		}

		enteredAt := ticket.CreatedAt
		if at, err := s.history.LastStatusChangeAt(ctx, ticket.ID, ticket.Status); err != nil {
			return err
		} else if at != nil {
			enteredAt = *at
		}
		if s.now().Sub(enteredAt).Hours() <= rule.HoursThreshold {
			continue
		}

		applied, err := s.history.HasEscalation(ctx, ticket.ID, rule.Name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		if err := s.escalate(ctx, ticket, rule); err != nil {
			return err
		}
	}
	return nil
}

func (s *AutomationService) escalate(ctx context.Context, ticket *domain.Ticket, rule rules.EscalationRule) error {
	candidate, err := s.nextCandidate(ctx, rule.EscalateToRole)
	if err != nil {
		return err
	}
	if candidate == nil {
		return apperrors.NewConflict("no assignable users for escalation role", map[string]any{
			"role": rule.EscalateToRole,
			"rule": rule.Name,
		})
	}

	oldAssignee := ticket.AssigneeID
	oldPriority := ticket.Priority
	ticket.AssigneeID = &candidate.ID
	if rule.NewPriority != nil {
		ticket.Priority = *rule.NewPriority
	}
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return err
	}

	if err := s.recordHistory(ctx, ticket.ID, domain.ChangeTypeEscalation,
		map[string]any{
			"assignee_user_id": derefOrNil(oldAssignee),
			"priority":         string(oldPriority),
		},
		map[string]any{
			"rule_name":         rule.Name,
			"escalated_to_role": string(rule.EscalateToRole),
			"assignee_user_id":  candidate.ID,
			"priority":          string(ticket.Priority),
		},
	); err != nil {
		return err
	}

	if s.counters != nil {
		s.counters.Inc(observability.CounterEscalationsApplied)
	}
	s.logger.Info("ticket escalated",
		zap.String("ticket_id", ticket.ID),
		zap.String("rule", rule.Name),
		zap.String("assignee", candidate.ID))

	s.publish(ctx, events.TicketEscalatedPayload{
		TicketID:        ticket.ID,
		RuleName:        rule.Name,
		EscalatedToRole: rule.EscalateToRole,
		AssigneeID:      candidate.ID,
		OldPriority:     oldPriority,
		NewPriority:     rule.NewPriority,
	})
	return nil
}

// RunEscalationScan is the periodic sweep over tickets eligible under
// any active escalation rule. Per-ticket errors are logged; the batch
// continues.
func (s *AutomationService) RunEscalationScan(ctx context.Context) (int, error) {
	statuses, priorities := s.rules.EscalationScanFilter()
	if len(statuses) == 0 {
		return 0, nil
	}

	const pageSize = 500
	scanned := 0
	for offset := 0; ; offset += pageSize {
		page, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{
			Statuses:   statuses,
			Priorities: priorities,
			Limit:      pageSize,
			Offset:     offset,
		})
		if err != nil {
			return scanned, err
		}
		for i := range page {
			ticket := page[i]
			if err := s.ApplyEscalation(ctx, &ticket); err != nil {
				s.logger.Error("escalation failed",
					zap.String("ticket_id", ticket.ID),
					zap.Error(err))
			}
			scanned++
		}
		if len(page) < pageSize {
			return scanned, nil
		}
	}
}

func (s *AutomationService) nextCandidate(ctx context.Context, role domain.UserRole) (*domain.User, error) {
	candidates, err := s.users.ListAssignableByRole(ctx, role)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	index, err := s.roundRobin.Next(ctx, string(role), len(candidates))
	if err != nil {
		return nil, err
	}
	return &candidates[index], nil
}

func (s *AutomationService) recordHistory(ctx context.Context, ticketID string, changeType domain.TicketChangeType, oldValue, newValue map[string]any) error {
	return s.history.Create(ctx, &domain.TicketHistory{
		TicketID:      ticketID,
		ChangedByType: domain.ActorTypeSystem,
		ChangeType:    changeType,
		OldValue:      oldValue,
		NewValue:      newValue,
	})
}

func (s *AutomationService) publish(ctx context.Context, payload events.Payload) {
	if s.bus == nil {
		return
	}
	if _, err := s.bus.Publish(ctx, payload); err != nil {
		s.logger.Error("publish automation event", zap.Error(err))
	}
}

func derefOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
