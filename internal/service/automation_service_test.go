package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-automation/internal/domain"
	"github.com/spec-kit/ticket-automation/internal/rules"
)

type automationFixture struct {
	service *AutomationService
	tickets *fakeTicketRepo
	users   *fakeUserRepo
	history *fakeHistoryRepo
	now     time.Time
	mu      sync.Mutex
}

func newAutomationFixture(t *testing.T, ruleSet *rules.RuleSet, users ...domain.User) *automationFixture {
	t.Helper()
	f := &automationFixture{
		tickets: newFakeTicketRepo(),
		users:   newFakeUserRepo(users...),
		history: newFakeHistoryRepo(),
		now:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.now
	}
	f.tickets.clock = clock
	f.history.clock = clock
	f.service = NewAutomationService(AutomationDependencies{
		TicketRepo:  f.tickets,
		UserRepo:    f.users,
		HistoryRepo: f.history,
		RoundRobin:  NewRoundRobinService(newFakeCounter()),
		Rules:       ruleSet,
		Now:         clock,
	})
	return f
}

func (f *automationFixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *automationFixture) addTicket(t *testing.T, ticket domain.Ticket) *domain.Ticket {
	t.Helper()
	if ticket.Status == "" {
		ticket.Status = domain.TicketStatusOpen
	}
	if ticket.Priority == "" {
		ticket.Priority = domain.TicketPriorityMedium
	}
	require.NoError(t, f.tickets.Create(context.Background(), &ticket))
	return &ticket
}

func agents(n int) []domain.User {
	users := make([]domain.User, 0, n)
	for i := 0; i < n; i++ {
		users = append(users, domain.User{
			ID: fmt.Sprintf("agent-%d", i), Role: domain.RoleAgent, Active: true,
		})
	}
	return users
}

func TestPrioritizationMatchesKeywordCaseInsensitively(t *testing.T) {
	ruleSet := &rules.RuleSet{
		Prioritization: []rules.PrioritizationRule{
			{Keyword: "outage", Priority: domain.TicketPriorityUrgent, Active: true},
		},
	}
	f := newAutomationFixture(t, ruleSet)
	ticket := f.addTicket(t, domain.Ticket{Title: "Major OUTAGE in eu-west", Category: "infrastructure"})

	require.NoError(t, f.service.ApplyRules(context.Background(), ticket.ID))

	updated, err := f.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityUrgent, updated.Priority)

	entries, err := f.history.ListByTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ChangeTypePriority, entries[0].ChangeType)
	assert.Equal(t, domain.ActorTypeSystem, entries[0].ChangedByType)
}

func TestPrioritizationSkipsWhenAlreadyAtTarget(t *testing.T) {
	ruleSet := &rules.RuleSet{
		Prioritization: []rules.PrioritizationRule{
			{Keyword: "outage", Priority: domain.TicketPriorityUrgent, Active: true},
		},
	}
	f := newAutomationFixture(t, ruleSet)
	ticket := f.addTicket(t, domain.Ticket{
		Title: "outage again", Category: "infrastructure",
		Priority: domain.TicketPriorityUrgent,
	})

	require.NoError(t, f.service.ApplyRules(context.Background(), ticket.ID))

	entries, err := f.history.ListByTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Empty(t, entries, "no-op changes leave no history")
}

func TestPrioritizationFirstMatchWins(t *testing.T) {
	ruleSet := &rules.RuleSet{
		Prioritization: []rules.PrioritizationRule{
			{Keyword: "urgent", Priority: domain.TicketPriorityHigh, Active: true},
			{Keyword: "outage", Priority: domain.TicketPriorityUrgent, Active: true},
		},
	}
	f := newAutomationFixture(t, ruleSet)
	ticket := f.addTicket(t, domain.Ticket{Title: "urgent outage", Category: "infrastructure"})

	require.NoError(t, f.service.ApplyRules(context.Background(), ticket.ID))

	updated, err := f.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityHigh, updated.Priority)
}

func TestAssignmentDistributesRoundRobin(t *testing.T) {
	ruleSet := &rules.RuleSet{
		Assignment: []rules.AssignmentRule{
			{Category: "billing", Role: domain.RoleAgent, Active: true},
		},
	}
	f := newAutomationFixture(t, ruleSet, agents(3)...)

	assigned := make(map[string]int)
	for i := 0; i < 9; i++ {
		ticket := f.addTicket(t, domain.Ticket{Title: fmt.Sprintf("invoice %d", i), Category: "billing"})
		require.NoError(t, f.service.ApplyRules(context.Background(), ticket.ID))

		updated, err := f.tickets.GetByID(context.Background(), ticket.ID)
		require.NoError(t, err)
		require.NotNil(t, updated.AssigneeID)
		assigned[*updated.AssigneeID]++
	}

	require.Len(t, assigned, 3, "all agents receive work")
	for agent, count := range assigned {
		assert.Equal(t, 3, count, "agent %s share", agent)
	}
}

func TestAssignmentNoCandidatesIsNoOp(t *testing.T) {
	ruleSet := &rules.RuleSet{
		Assignment: []rules.AssignmentRule{
			{Category: "billing", Role: domain.RoleAgent, Active: true},
		},
	}
	f := newAutomationFixture(t, ruleSet) // no users at all
	ticket := f.addTicket(t, domain.Ticket{Title: "invoice", Category: "billing"})

	require.NoError(t, f.service.ApplyRules(context.Background(), ticket.ID))

	updated, err := f.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Nil(t, updated.AssigneeID)
}

func TestAssignmentExcludesInactiveAndSystemUsers(t *testing.T) {
	ruleSet := &rules.RuleSet{
		Assignment: []rules.AssignmentRule{
			{Category: "billing", Role: domain.RoleAgent, Active: true},
		},
	}
	f := newAutomationFixture(t, ruleSet,
		domain.User{ID: "inactive", Role: domain.RoleAgent, Active: false},
		domain.User{ID: "bot", Role: domain.RoleAgent, Active: true, IsSystem: true},
		domain.User{ID: "human", Role: domain.RoleAgent, Active: true},
	)

	for i := 0; i < 4; i++ {
		ticket := f.addTicket(t, domain.Ticket{Title: fmt.Sprintf("invoice %d", i), Category: "billing"})
		require.NoError(t, f.service.ApplyRules(context.Background(), ticket.ID))
		updated, err := f.tickets.GetByID(context.Background(), ticket.ID)
		require.NoError(t, err)
		require.NotNil(t, updated.AssigneeID)
		assert.Equal(t, "human", *updated.AssigneeID)
	}
}

func escalationRules() *rules.RuleSet {
	return &rules.RuleSet{
		Escalation: []rules.EscalationRule{
			{
				Name:           "urgent-open-2h",
				Priority:       domain.TicketPriorityUrgent,
				Status:         domain.TicketStatusOpen,
				HoursThreshold: 2,
				EscalateToRole: domain.RoleManager,
				Active:         true,
			},
		},
	}
}

func TestEscalationFiresOncePerRule(t *testing.T) {
	f := newAutomationFixture(t, escalationRules(),
		domain.User{ID: "mgr-1", Role: domain.RoleManager, Active: true})
	ticket := f.addTicket(t, domain.Ticket{
		Title: "prod down", Category: "infrastructure",
		Priority: domain.TicketPriorityUrgent,
	})

	// not yet past the threshold
	f.advance(90 * time.Minute)
	scanned, err := f.service.RunEscalationScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, scanned)
	entries, err := f.history.ListByTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// past the threshold: exactly one escalation across repeated scans
	f.advance(time.Hour)
	for i := 0; i < 3; i++ {
		_, err := f.service.RunEscalationScan(context.Background())
		require.NoError(t, err)
	}

	entries, err = f.history.ListByTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ChangeTypeEscalation, entries[0].ChangeType)
	assert.Equal(t, "urgent-open-2h", entries[0].NewValue["rule_name"])

	updated, err := f.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.AssigneeID)
	assert.Equal(t, "mgr-1", *updated.AssigneeID)
}

func TestEscalationAppliesNewPriority(t *testing.T) {
	urgent := domain.TicketPriorityUrgent
	ruleSet := &rules.RuleSet{
		Escalation: []rules.EscalationRule{
			{
				Name:           "high-stale",
				Priority:       domain.TicketPriorityHigh,
				Status:         domain.TicketStatusInProgress,
				HoursThreshold: 24,
				EscalateToRole: domain.RoleManager,
				NewPriority:    &urgent,
				Active:         true,
			},
		},
	}
	f := newAutomationFixture(t, ruleSet,
		domain.User{ID: "mgr-1", Role: domain.RoleManager, Active: true})
	ticket := f.addTicket(t, domain.Ticket{
		Title: "slow burn", Category: "infrastructure",
		Priority: domain.TicketPriorityHigh,
		Status:   domain.TicketStatusInProgress,
	})

	f.advance(25 * time.Hour)
	_, err := f.service.RunEscalationScan(context.Background())
	require.NoError(t, err)

	updated, err := f.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityUrgent, updated.Priority)
}

func TestEscalationMeasuresTimeInCurrentStatus(t *testing.T) {
	f := newAutomationFixture(t, escalationRules(),
		domain.User{ID: "mgr-1", Role: domain.RoleManager, Active: true})
	ticket := f.addTicket(t, domain.Ticket{
		Title: "flapping", Category: "infrastructure",
		Priority: domain.TicketPriorityUrgent,
	})

	// the ticket re-entered OPEN one hour ago; the three hours since
	// creation must not count
	f.advance(2 * time.Hour)
	require.NoError(t, f.history.Create(context.Background(), &domain.TicketHistory{
		TicketID:   ticket.ID,
		ChangeType: domain.ChangeTypeStatus,
		NewValue:   map[string]any{"status": string(domain.TicketStatusOpen)},
	}))
	f.advance(time.Hour)

	_, err := f.service.RunEscalationScan(context.Background())
	require.NoError(t, err)

	entries, _ := f.history.ListByTicket(context.Background(), ticket.ID)
	escalations := 0
	for _, entry := range entries {
		if entry.ChangeType == domain.ChangeTypeEscalation {
			escalations++
		}
	}
	assert.Equal(t, 0, escalations, "clock restarts when the status is re-entered")
}

func TestScanIgnoresTicketsOutsideRuleShape(t *testing.T) {
	f := newAutomationFixture(t, escalationRules(),
		domain.User{ID: "mgr-1", Role: domain.RoleManager, Active: true})
	f.addTicket(t, domain.Ticket{
		Title: "wrong priority", Category: "x",
		Priority: domain.TicketPriorityLow,
	})
	f.addTicket(t, domain.Ticket{
		Title: "wrong status", Category: "x",
		Priority: domain.TicketPriorityUrgent,
		Status:   domain.TicketStatusResolved,
	})

	f.advance(10 * time.Hour)
	scanned, err := f.service.RunEscalationScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, scanned, "scan filter excludes non-matching tickets")
}
