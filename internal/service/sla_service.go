package service

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-automation/internal/domain"
	"github.com/spec-kit/ticket-automation/internal/events"
	"github.com/spec-kit/ticket-automation/internal/observability"
	"github.com/spec-kit/ticket-automation/internal/repository"
	apperrors "github.com/spec-kit/ticket-automation/pkg/util"
)

// SLAService owns the per-ticket compliance state machine. Each tracked
// phase moves forward-only through WithinSLA -> Warning -> Breached;
// breach creation is get-or-create so re-running a check never produces
// duplicates.
type SLAService struct {
	policies repository.SLAPolicyRepository
	metrics  repository.SLAMetricRepository
	breaches repository.SLABreachRepository
	bus      *events.Bus
	logger   *zap.Logger
	counters *observability.Metrics
	now      func() time.Time
}

// SLADependencies bundles collaborators.
type SLADependencies struct {
	PolicyRepo repository.SLAPolicyRepository
	MetricRepo repository.SLAMetricRepository
	BreachRepo repository.SLABreachRepository
	Bus        *events.Bus
	Logger     *zap.Logger
	Counters   *observability.Metrics
	Now        func() time.Time
}

// NewSLAService constructs the service.
func NewSLAService(deps SLADependencies) *SLAService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &SLAService{
		policies: deps.PolicyRepo,
		metrics:  deps.MetricRepo,
		breaches: deps.BreachRepo,
		bus:      deps.Bus,
		logger:   logger,
		counters: deps.Counters,
		now:      now,
	}
}

// EvaluatePhase is the transition function for one tracked phase: given
// elapsed minutes e, target T and warning threshold w, e > T is a
// breach and e >= floor(T*w) is a warning.
func EvaluatePhase(elapsedMins, targetMins int, warningThreshold float64) domain.SLAStatus {
	if elapsedMins > targetMins {
		return domain.SLAStatusBreached
	}
	if elapsedMins >= int(math.Floor(float64(targetMins)*warningThreshold)) {
		return domain.SLAStatusWarning
	}
	return domain.SLAStatusWithin
}

// ElapsedMinutes floors the wall-clock difference to whole minutes.
func ElapsedMinutes(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	return int(to.Sub(from) / time.Minute)
}

// FindMatchingPolicy resolves the active policy for a ticket's
// (category, priority, workflow) tuple. Precedence: exact match over
// partial (workflow wildcard) over fallback (category only). Absence of
// any match is an error, not a silent skip.
func (s *SLAService) FindMatchingPolicy(ctx context.Context, category string, priority domain.TicketPriority, workflowID *string) (*domain.SLAPolicy, error) {
	policies, err := s.policies.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	var best *domain.SLAPolicy
	bestScore := -1
	for i := range policies {
		policy := &policies[i]
		score, ok := matchScore(policy, category, priority, workflowID)
		if ok && score > bestScore {
			best = policy
			bestScore = score
		}
	}
	if best == nil {
		return nil, apperrors.NewNotFound("matching SLA policy", map[string]any{
			"category": category,
			"priority": priority,
		})
	}
	return best, nil
}

// matchScore weights populated condition fields so more specific
// policies outrank wildcards: category 4, priority 2, workflow 1.
func matchScore(policy *domain.SLAPolicy, category string, priority domain.TicketPriority, workflowID *string) (int, bool) {
	score := 0
	if policy.Category != nil {
		if *policy.Category != category {
			return 0, false
		}
		score += 4
	}
	if policy.Priority != nil {
		if *policy.Priority != priority {
			return 0, false
		}
		score += 2
	}
	if policy.WorkflowID != nil {
		if workflowID == nil || *policy.WorkflowID != *workflowID {
			return 0, false
		}
		score++
	}
	return score, true
}

// EnsureMetric creates the ticket's metric from the matched policy's
// targets, snapshotted now; later policy edits never touch it. Safe to
// call repeatedly.
func (s *SLAService) EnsureMetric(ctx context.Context, ticket *domain.Ticket) (*domain.SLAMetric, error) {
	policy, err := s.FindMatchingPolicy(ctx, ticket.Category, ticket.Priority, ticket.WorkflowID)
	if err != nil {
		return nil, err
	}

	metric := &domain.SLAMetric{
		TicketID:                 ticket.ID,
		SLAPolicyID:              policy.ID,
		TicketCreatedAt:          ticket.CreatedAt,
		TargetResponseTimeMins:   policy.ResponseTimeMins,
		TargetResolutionTimeMins: policy.ResolutionTimeMins,
		TargetApprovalTimeMins:   policy.ApprovalTimeMins,
		Status:                   domain.SLAStatusWithin,
	}
	created, err := s.metrics.CreateIfAbsent(ctx, metric)
	if err != nil {
		return nil, err
	}
	if !created {
		return s.metrics.GetByTicketID(ctx, ticket.ID)
	}
	s.logger.Info("sla metric created",
		zap.String("ticket_id", ticket.ID),
		zap.String("policy_id", policy.ID))
	return metric, nil
}

// RecordPhase records a phase completion timestamp and evaluates the
// phase against elapsed = completion - ticket creation. Recording an
// already-completed phase is a no-op.
func (s *SLAService) RecordPhase(ctx context.Context, ticketID string, phase domain.SLAPhase, ts time.Time) (*domain.SLAMetric, error) {
	metric, err := s.metrics.GetByTicketID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("sla metric", map[string]any{"ticket_id": ticketID})
		}
		return nil, err
	}

	target, tracked := metric.PhaseTarget(phase)
	if !tracked {
		return nil, apperrors.NewValidationError("phase not tracked for this metric", map[string]any{
			"ticket_id": ticketID,
			"phase":     phase,
		})
	}
	if metric.PhaseCompleted(phase) {
		return metric, nil
	}

	elapsed := ElapsedMinutes(metric.TicketCreatedAt, ts)
	switch phase {
	case domain.PhaseResponse:
		metric.FirstResponseAt = &ts
		metric.ResponseTimeMins = &elapsed
	case domain.PhaseResolution:
		metric.ResolvedAt = &ts
		metric.ResolutionTimeMins = &elapsed
	case domain.PhaseApproval:
		metric.ApprovalCompletedAt = &ts
		metric.ApprovalTimeMins = &elapsed
	}

	policy, err := s.policies.GetByID(ctx, metric.SLAPolicyID)
	if err != nil {
		return nil, err
	}

	status := EvaluatePhase(elapsed, target, policy.WarningThreshold)
	if status == domain.SLAStatusBreached {
		if err := s.ensureBreach(ctx, metric, phase, elapsed, target, ts); err != nil {
			return nil, err
		}
	}

	// the completed phase leaves the active set; the aggregate reflects
	// whatever is still being tracked, or the completion outcome if it
	// is the most severe
	aggregate := s.activeSeverity(metric, policy, s.now())
	if status.Severity() > aggregate.Severity() {
		aggregate = status
	}
	metric.Status = aggregate

	if err := s.metrics.Update(ctx, metric); err != nil {
		return nil, err
	}
	return metric, nil
}

// CheckCompliance evaluates all still-active phases of the ticket's
// metric against the current wall clock. Called both synchronously and
// from the periodic monitoring job; repeated runs converge.
func (s *SLAService) CheckCompliance(ctx context.Context, ticketID string) (*domain.SLAMetric, error) {
	metric, err := s.metrics.GetByTicketID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("sla metric", map[string]any{"ticket_id": ticketID})
		}
		return nil, err
	}
	if err := s.evaluateMetric(ctx, metric); err != nil {
		return nil, err
	}
	return metric, nil
}

// CheckAllOpenMetrics runs the periodic batch evaluation over every
// unresolved metric. Per-metric failures are logged and skipped.
func (s *SLAService) CheckAllOpenMetrics(ctx context.Context) (int, error) {
	const pageSize = 500
	checked := 0
	for offset := 0; ; offset += pageSize {
		page, err := s.metrics.ListOpen(ctx, pageSize, offset)
		if err != nil {
			return checked, err
		}
		for i := range page {
			metric := page[i]
			if err := s.evaluateMetric(ctx, &metric); err != nil {
				s.logger.Error("sla check failed",
					zap.String("ticket_id", metric.TicketID),
					zap.Error(err))
			}
			checked++
		}
		if len(page) < pageSize {
			return checked, nil
		}
	}
}

func (s *SLAService) evaluateMetric(ctx context.Context, metric *domain.SLAMetric) error {
	policy, err := s.policies.GetByID(ctx, metric.SLAPolicyID)
	if err != nil {
		return err
	}

	now := s.now()
	previous := metric.Status
	aggregate := domain.SLAStatusWithin

	for _, phase := range s.activePhases(metric) {
		target, tracked := metric.PhaseTarget(phase)
		if !tracked {
			continue
		}
		elapsed := ElapsedMinutes(metric.TicketCreatedAt, now)
		status := EvaluatePhase(elapsed, target, policy.WarningThreshold)
		if status == domain.SLAStatusBreached {
			if err := s.ensureBreach(ctx, metric, phase, elapsed, target, now); err != nil {
				return err
			}
		}
		if status.Severity() > aggregate.Severity() {
			aggregate = status
		}
	}

	if aggregate == metric.Status {
		return nil
	}
	metric.Status = aggregate
	if err := s.metrics.Update(ctx, metric); err != nil {
		return err
	}

	if aggregate == domain.SLAStatusWarning && previous.Severity() < aggregate.Severity() {
		s.publishWarning(ctx, metric, policy, now)
	}
	return nil
}

// activePhases returns the phases currently under evaluation: response
// until first response, then resolution; approval runs alongside either
// whenever the metric tracks it, since approval is workflow-stage-bound.
func (s *SLAService) activePhases(metric *domain.SLAMetric) []domain.SLAPhase {
	var phases []domain.SLAPhase
	if metric.FirstResponseAt == nil {
		phases = append(phases, domain.PhaseResponse)
	} else if metric.ResolvedAt == nil {
		phases = append(phases, domain.PhaseResolution)
	}
	if metric.TargetApprovalTimeMins != nil && metric.ApprovalCompletedAt == nil {
		phases = append(phases, domain.PhaseApproval)
	}
	return phases
}

// activeSeverity computes the aggregate over still-active phases without
// side effects; used when a phase completion needs a fresh aggregate.
func (s *SLAService) activeSeverity(metric *domain.SLAMetric, policy *domain.SLAPolicy, now time.Time) domain.SLAStatus {
	aggregate := domain.SLAStatusWithin
	for _, phase := range s.activePhases(metric) {
		target, tracked := metric.PhaseTarget(phase)
		if !tracked {
			continue
		}
		status := EvaluatePhase(ElapsedMinutes(metric.TicketCreatedAt, now), target, policy.WarningThreshold)
		if status.Severity() > aggregate.Severity() {
			aggregate = status
		}
	}
	return aggregate
}

// ensureBreach get-or-creates the Open breach for (metric, phase). Only
// a creation emits the breach event, so concurrent and repeated checks
// produce exactly one record and one event.
func (s *SLAService) ensureBreach(ctx context.Context, metric *domain.SLAMetric, phase domain.SLAPhase, elapsed, target int, at time.Time) error {
	breach := &domain.SLABreach{
		TicketID:       metric.TicketID,
		SLAMetricID:    metric.ID,
		SLAPolicyID:    metric.SLAPolicyID,
		BreachType:     domain.BreachTypeForPhase(phase),
		BreachedAt:     at,
		ActualTimeMins: elapsed,
		TargetTimeMins: target,
		OverageMins:    elapsed - target,
	}
	created, err := s.breaches.GetOrCreateOpen(ctx, breach)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	if s.counters != nil {
		s.counters.Inc(observability.CounterBreachesDetected)
	}
	s.logger.Warn("sla breach detected",
		zap.String("ticket_id", metric.TicketID),
		zap.String("breach_type", string(breach.BreachType)),
		zap.Int("overage_mins", breach.OverageMins))

	if s.bus != nil {
		if _, err := s.bus.Publish(ctx, events.SLABreachedPayload{
			TicketID:    metric.TicketID,
			MetricID:    metric.ID,
			BreachID:    breach.ID,
			BreachType:  breach.BreachType,
			ElapsedMins: elapsed,
			TargetMins:  target,
			OverageMins: breach.OverageMins,
		}); err != nil {
			s.logger.Error("publish sla breach event", zap.Error(err))
		}
	}
	return nil
}

func (s *SLAService) publishWarning(ctx context.Context, metric *domain.SLAMetric, policy *domain.SLAPolicy, now time.Time) {
	if s.counters != nil {
		s.counters.Inc(observability.CounterWarningsDetected)
	}
	if s.bus == nil {
		return
	}
	phases := s.activePhases(metric)
	if len(phases) == 0 {
		return
	}
	phase := phases[0]
	target, _ := metric.PhaseTarget(phase)
	if _, err := s.bus.Publish(ctx, events.SLAWarningPayload{
		TicketID:    metric.TicketID,
		MetricID:    metric.ID,
		Phase:       phase,
		ElapsedMins: ElapsedMinutes(metric.TicketCreatedAt, now),
		TargetMins:  target,
	}); err != nil {
		s.logger.Error("publish sla warning event", zap.Error(err))
	}
}

// AcknowledgeBreach moves an Open breach to Acknowledged.
func (s *SLAService) AcknowledgeBreach(ctx context.Context, breachID, byUserID string) error {
	if err := s.breaches.Acknowledge(ctx, breachID, byUserID, s.now()); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("open sla breach", map[string]any{"breach_id": breachID})
		}
		return err
	}
	return nil
}

// ResolveBreach closes an Acknowledged breach with resolution notes.
func (s *SLAService) ResolveBreach(ctx context.Context, breachID, notes string) error {
	if err := s.breaches.Resolve(ctx, breachID, notes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("acknowledged sla breach", map[string]any{"breach_id": breachID})
		}
		return err
	}
	return nil
}

// ListBreaches exposes breach records for operator dashboards.
func (s *SLAService) ListBreaches(ctx context.Context, filter repository.BreachFilter) ([]domain.SLABreach, error) {
	return s.breaches.List(ctx, filter)
}

// GetMetric returns the ticket's metric.
func (s *SLAService) GetMetric(ctx context.Context, ticketID string) (*domain.SLAMetric, error) {
	metric, err := s.metrics.GetByTicketID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("sla metric", map[string]any{"ticket_id": ticketID})
		}
		return nil, err
	}
	return metric, nil
}

// CreatePolicy validates and stores a policy, enforcing that no other
// active policy shares its matching tuple.
func (s *SLAService) CreatePolicy(ctx context.Context, policy *domain.SLAPolicy) error {
	if err := validatePolicy(policy); err != nil {
		return err
	}
	if policy.IsActive {
		conflict, err := s.policies.HasActiveConflict(ctx, policy)
		if err != nil {
			return err
		}
		if conflict {
			return apperrors.NewConflict("an active policy already matches this tuple", map[string]any{
				"category": policy.Category,
				"priority": policy.Priority,
			})
		}
	}
	return s.policies.Create(ctx, policy)
}

// UpdatePolicy applies the same validation and uniqueness rules as
// creation. Existing metrics keep their snapshotted targets.
func (s *SLAService) UpdatePolicy(ctx context.Context, policy *domain.SLAPolicy) error {
	if err := validatePolicy(policy); err != nil {
		return err
	}
	if policy.IsActive {
		conflict, err := s.policies.HasActiveConflict(ctx, policy)
		if err != nil {
			return err
		}
		if conflict {
			return apperrors.NewConflict("an active policy already matches this tuple", map[string]any{
				"category": policy.Category,
				"priority": policy.Priority,
			})
		}
	}
	if err := s.policies.Update(ctx, policy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("sla policy", map[string]any{"policy_id": policy.ID})
		}
		return err
	}
	return nil
}

// ListPolicies returns the active policies.
func (s *SLAService) ListPolicies(ctx context.Context) ([]domain.SLAPolicy, error) {
	return s.policies.ListActive(ctx)
}

func validatePolicy(policy *domain.SLAPolicy) error {
	if policy.Name == "" {
		return apperrors.NewValidationError("policy name is required", nil)
	}
	if policy.ResponseTimeMins <= 0 || policy.ResolutionTimeMins <= 0 {
		return apperrors.NewValidationError("response and resolution targets must be positive", nil)
	}
	if policy.ApprovalTimeMins != nil && *policy.ApprovalTimeMins <= 0 {
		return apperrors.NewValidationError("approval target must be positive", nil)
	}
	if policy.WarningThreshold < 0 || policy.WarningThreshold > 1 {
		return apperrors.NewValidationError("warning threshold must be within [0,1]", nil)
	}
	return nil
}
