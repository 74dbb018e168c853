package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/ticket-automation/internal/domain"
	"github.com/spec-kit/ticket-automation/internal/repository"
)

type fakePolicyRepo struct {
	mu       sync.Mutex
	policies map[string]*domain.SLAPolicy
	nextID   int
}

func newFakePolicyRepo() *fakePolicyRepo {
	return &fakePolicyRepo{policies: make(map[string]*domain.SLAPolicy)}
}

func (r *fakePolicyRepo) Create(ctx context.Context, policy *domain.SLAPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	policy.ID = fmt.Sprintf("policy-%d", r.nextID)
	policy.CreatedAt = time.Now().UTC()
	policy.UpdatedAt = policy.CreatedAt
	clone := *policy
	r.policies[policy.ID] = &clone
	return nil
}

func (r *fakePolicyRepo) Update(ctx context.Context, policy *domain.SLAPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.policies[policy.ID]; !ok {
		return pgx.ErrNoRows
	}
	clone := *policy
	r.policies[policy.ID] = &clone
	return nil
}

func (r *fakePolicyRepo) GetByID(ctx context.Context, id string) (*domain.SLAPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	policy, ok := r.policies[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *policy
	return &clone, nil
}

func (r *fakePolicyRepo) ListActive(ctx context.Context) ([]domain.SLAPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SLAPolicy
	for _, policy := range r.policies {
		if policy.IsActive {
			out = append(out, *policy)
		}
	}
	return out, nil
}

func (r *fakePolicyRepo) HasActiveConflict(ctx context.Context, policy *domain.SLAPolicy) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, other := range r.policies {
		if other.ID == policy.ID || !other.IsActive {
			continue
		}
		if strPtrEq(other.Category, policy.Category) &&
			priPtrEq(other.Priority, policy.Priority) &&
			strPtrEq(other.WorkflowID, policy.WorkflowID) {
			return true, nil
		}
	}
	return false, nil
}

func strPtrEq(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func priPtrEq(a, b *domain.TicketPriority) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

type fakeMetricRepo struct {
	mu      sync.Mutex
	metrics map[string]*domain.SLAMetric
	nextID  int
}

func newFakeMetricRepo() *fakeMetricRepo {
	return &fakeMetricRepo{metrics: make(map[string]*domain.SLAMetric)}
}

func (r *fakeMetricRepo) CreateIfAbsent(ctx context.Context, metric *domain.SLAMetric) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.metrics[metric.TicketID]; ok {
		return false, nil
	}
	r.nextID++
	metric.ID = fmt.Sprintf("metric-%d", r.nextID)
	metric.CreatedAt = time.Now().UTC()
	metric.UpdatedAt = metric.CreatedAt
	clone := *metric
	r.metrics[metric.TicketID] = &clone
	return true, nil
}

func (r *fakeMetricRepo) Update(ctx context.Context, metric *domain.SLAMetric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.metrics[metric.TicketID]; !ok {
		return pgx.ErrNoRows
	}
	clone := *metric
	r.metrics[metric.TicketID] = &clone
	return nil
}

func (r *fakeMetricRepo) GetByTicketID(ctx context.Context, ticketID string) (*domain.SLAMetric, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	metric, ok := r.metrics[ticketID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *metric
	return &clone, nil
}

func (r *fakeMetricRepo) ListOpen(ctx context.Context, limit, offset int) ([]domain.SLAMetric, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var open []domain.SLAMetric
	for _, metric := range r.metrics {
		pendingApproval := metric.TargetApprovalTimeMins != nil && metric.ApprovalCompletedAt == nil
		if metric.ResolvedAt == nil || pendingApproval {
			open = append(open, *metric)
		}
	}
	if offset >= len(open) {
		return nil, nil
	}
	open = open[offset:]
	if limit > 0 && len(open) > limit {
		open = open[:limit]
	}
	return open, nil
}

type fakeBreachRepo struct {
	mu       sync.Mutex
	breaches []*domain.SLABreach
	nextID   int
}

func newFakeBreachRepo() *fakeBreachRepo { return &fakeBreachRepo{} }

func (r *fakeBreachRepo) GetOrCreateOpen(ctx context.Context, breach *domain.SLABreach) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.breaches {
		if existing.SLAMetricID == breach.SLAMetricID &&
			existing.BreachType == breach.BreachType &&
			existing.Status == domain.BreachStatusOpen {
			*breach = *existing
			return false, nil
		}
	}
	r.nextID++
	breach.ID = fmt.Sprintf("breach-%d", r.nextID)
	breach.Status = domain.BreachStatusOpen
	breach.CreatedAt = time.Now().UTC()
	breach.UpdatedAt = breach.CreatedAt
	clone := *breach
	r.breaches = append(r.breaches, &clone)
	return true, nil
}

func (r *fakeBreachRepo) GetByID(ctx context.Context, id string) (*domain.SLABreach, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, breach := range r.breaches {
		if breach.ID == id {
			clone := *breach
			return &clone, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeBreachRepo) List(ctx context.Context, filter repository.BreachFilter) ([]domain.SLABreach, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SLABreach
	for _, breach := range r.breaches {
		if filter.TicketID != nil && breach.TicketID != *filter.TicketID {
			continue
		}
		if filter.Status != nil && breach.Status != *filter.Status {
			continue
		}
		out = append(out, *breach)
	}
	return out, nil
}

func (r *fakeBreachRepo) Acknowledge(ctx context.Context, id, byUserID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, breach := range r.breaches {
		if breach.ID == id && breach.Status == domain.BreachStatusOpen {
			breach.Status = domain.BreachStatusAcknowledged
			breach.AcknowledgedAt = &at
			breach.AcknowledgedByID = &byUserID
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (r *fakeBreachRepo) Resolve(ctx context.Context, id, notes string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, breach := range r.breaches {
		if breach.ID == id && breach.Status == domain.BreachStatusAcknowledged {
			breach.Status = domain.BreachStatusResolved
			breach.ResolutionNotes = &notes
			return nil
		}
	}
	return pgx.ErrNoRows
}

type fakeTicketRepo struct {
	mu      sync.Mutex
	tickets map[string]*domain.Ticket
	nextID  int
	clock   func() time.Time
}

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{
		tickets: make(map[string]*domain.Ticket),
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *fakeTicketRepo) Create(ctx context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	ticket.ID = fmt.Sprintf("ticket-%d", r.nextID)
	ticket.CreatedAt = r.clock()
	ticket.UpdatedAt = ticket.CreatedAt
	clone := *ticket
	r.tickets[ticket.ID] = &clone
	return nil
}

func (r *fakeTicketRepo) Update(ctx context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tickets[ticket.ID]; !ok {
		return pgx.ErrNoRows
	}
	ticket.UpdatedAt = r.clock()
	clone := *ticket
	r.tickets[ticket.ID] = &clone
	return nil
}

func (r *fakeTicketRepo) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *ticket
	return &clone, nil
}

func (r *fakeTicketRepo) ListWithFilter(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Ticket
	for _, ticket := range r.tickets {
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, ticket.Status) {
			continue
		}
		if len(filter.Priorities) > 0 && !containsPriority(filter.Priorities, ticket.Priority) {
			continue
		}
		if filter.Category != nil && ticket.Category != *filter.Category {
			continue
		}
		out = append(out, *ticket)
	}
	return out, nil
}

func containsStatus(set []domain.TicketStatus, status domain.TicketStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

func containsPriority(set []domain.TicketPriority, priority domain.TicketPriority) bool {
	for _, p := range set {
		if p == priority {
			return true
		}
	}
	return false
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users []domain.User
}

func newFakeUserRepo(users ...domain.User) *fakeUserRepo {
	return &fakeUserRepo{users: users}
}

func (r *fakeUserRepo) Create(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, *user)
	return nil
}

func (r *fakeUserRepo) Update(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.users {
		if r.users[i].ID == user.ID {
			r.users[i] = *user
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.users {
		if r.users[i].ID == id {
			clone := r.users[i]
			return &clone, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeUserRepo) ListAssignableByRole(ctx context.Context, role domain.UserRole) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.User
	for _, user := range r.users {
		if user.Role == role && user.Active && !user.IsSystem {
			out = append(out, user)
		}
	}
	return out, nil
}

type fakeHistoryRepo struct {
	mu      sync.Mutex
	entries []domain.TicketHistory
	nextID  int
	clock   func() time.Time
}

func newFakeHistoryRepo() *fakeHistoryRepo {
	return &fakeHistoryRepo{clock: func() time.Time { return time.Now().UTC() }}
}

func (r *fakeHistoryRepo) Create(ctx context.Context, history *domain.TicketHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	history.ID = fmt.Sprintf("hist-%d", r.nextID)
	history.CreatedAt = r.clock()
	r.entries = append(r.entries, *history)
	return nil
}

func (r *fakeHistoryRepo) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TicketHistory
	for _, entry := range r.entries {
		if entry.TicketID == ticketID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (r *fakeHistoryRepo) HasEscalation(ctx context.Context, ticketID, ruleName string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.entries {
		if entry.TicketID == ticketID && entry.ChangeType == domain.ChangeTypeEscalation {
			if name, ok := entry.NewValue["rule_name"].(string); ok && name == ruleName {
				return true, nil
			}
		}
	}
	return false, nil
}

func (r *fakeHistoryRepo) LastStatusChangeAt(ctx context.Context, ticketID string, status domain.TicketStatus) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *time.Time
	for i := range r.entries {
		entry := r.entries[i]
		if entry.TicketID != ticketID || entry.ChangeType != domain.ChangeTypeStatus {
			continue
		}
		if value, ok := entry.NewValue["status"].(string); ok && domain.TicketStatus(value) == status {
			if latest == nil || entry.CreatedAt.After(*latest) {
				at := entry.CreatedAt
				latest = &at
			}
		}
	}
	return latest, nil
}

type fakeCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{counts: make(map[string]int64)}
}

func (c *fakeCounter) Incr(ctx context.Context, role string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[role]++
	return c.counts[role], nil
}

func (c *fakeCounter) Reset(ctx context.Context, role string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, role)
	return nil
}
