package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/spec-kit/ticket-automation/internal/domain"
)

// PrioritizationRule raises or lowers a ticket's priority when its
// keyword appears in the title or description.
type PrioritizationRule struct {
	Keyword  string                `yaml:"keyword"`
	Priority domain.TicketPriority `yaml:"priority"`
	Active   bool                  `yaml:"-"`
}

// AssignmentRule maps a ticket category to the role whose members take
// turns receiving the ticket.
type AssignmentRule struct {
	Category string          `yaml:"category"`
	Role     domain.UserRole `yaml:"role"`
	Active   bool            `yaml:"-"`
}

// EscalationRule reassigns tickets stuck in a (priority, status) pair
// longer than the threshold. Name doubles as the idempotence key in the
// ticket history.
type EscalationRule struct {
	Name           string                 `yaml:"name"`
	Priority       domain.TicketPriority  `yaml:"priority"`
	Status         domain.TicketStatus    `yaml:"status"`
	HoursThreshold float64                `yaml:"hours_threshold"`
	EscalateToRole domain.UserRole        `yaml:"escalate_to_role"`
	NewPriority    *domain.TicketPriority `yaml:"new_priority,omitempty"`
	Active         bool                   `yaml:"-"`
}

// RuleSet is the loaded automation configuration.
type RuleSet struct {
	Prioritization []PrioritizationRule
	Assignment     []AssignmentRule
	Escalation     []EscalationRule
}

type rawPrioritization struct {
	PrioritizationRule `yaml:",inline"`
	Active             *bool `yaml:"active"`
}

type rawAssignment struct {
	AssignmentRule `yaml:",inline"`
	Active         *bool `yaml:"active"`
}

type rawEscalation struct {
	EscalationRule `yaml:",inline"`
	Active         *bool `yaml:"active"`
}

type rawRuleSet struct {
	Prioritization []rawPrioritization `yaml:"prioritization"`
	Assignment     []rawAssignment     `yaml:"assignment"`
	Escalation     []rawEscalation     `yaml:"escalation"`
}

// Load reads and validates the rule file. A missing file yields an
// empty rule set so the engine can run with automation disabled.
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &RuleSet{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a rule document.
func Parse(data []byte) (*RuleSet, error) {
	var raw rawRuleSet
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	set := &RuleSet{}
	for i, r := range raw.Prioritization {
		rule := r.PrioritizationRule
		rule.Active = r.Active == nil || *r.Active
		if rule.Keyword == "" {
			return nil, fmt.Errorf("prioritization rule %d: keyword is required", i)
		}
		if !validPriority(rule.Priority) {
			return nil, fmt.Errorf("prioritization rule %d: invalid priority %q", i, rule.Priority)
		}
		set.Prioritization = append(set.Prioritization, rule)
	}

	for i, r := range raw.Assignment {
		rule := r.AssignmentRule
		rule.Active = r.Active == nil || *r.Active
		if rule.Category == "" {
			return nil, fmt.Errorf("assignment rule %d: category is required", i)
		}
		if rule.Role == "" {
			return nil, fmt.Errorf("assignment rule %d: role is required", i)
		}
		set.Assignment = append(set.Assignment, rule)
	}

	names := make(map[string]bool)
	for i, r := range raw.Escalation {
		rule := r.EscalationRule
		rule.Active = r.Active == nil || *r.Active
		if rule.Name == "" {
			return nil, fmt.Errorf("escalation rule %d: name is required", i)
		}
		if names[rule.Name] {
			return nil, fmt.Errorf("escalation rule %d: duplicate name %q", i, rule.Name)
		}
		names[rule.Name] = true
		if !validPriority(rule.Priority) {
			return nil, fmt.Errorf("escalation rule %q: invalid priority %q", rule.Name, rule.Priority)
		}
		if rule.Status == "" {
			return nil, fmt.Errorf("escalation rule %q: status is required", rule.Name)
		}
		if rule.HoursThreshold <= 0 {
			return nil, fmt.Errorf("escalation rule %q: hours_threshold must be positive", rule.Name)
		}
		if rule.EscalateToRole == "" {
			return nil, fmt.Errorf("escalation rule %q: escalate_to_role is required", rule.Name)
		}
		if rule.NewPriority != nil && !validPriority(*rule.NewPriority) {
			return nil, fmt.Errorf("escalation rule %q: invalid new_priority %q", rule.Name, *rule.NewPriority)
		}
		set.Escalation = append(set.Escalation, rule)
	}

	return set, nil
}

// ActiveEscalation returns the enabled escalation rules.
func (s *RuleSet) ActiveEscalation() []EscalationRule {
	out := make([]EscalationRule, 0, len(s.Escalation))
	for _, r := range s.Escalation {
		if r.Active {
			out = append(out, r)
		}
	}
	return out
}

// ActivePrioritization returns the enabled prioritization rules.
func (s *RuleSet) ActivePrioritization() []PrioritizationRule {
	out := make([]PrioritizationRule, 0, len(s.Prioritization))
	for _, r := range s.Prioritization {
		if r.Active {
			out = append(out, r)
		}
	}
	return out
}

// ActiveAssignment returns the enabled assignment rules.
func (s *RuleSet) ActiveAssignment() []AssignmentRule {
	out := make([]AssignmentRule, 0, len(s.Assignment))
	for _, r := range s.Assignment {
		if r.Active {
			out = append(out, r)
		}
	}
	return out
}

// EscalationScanFilter returns the status and priority sets named by the
// active escalation rules, used to narrow the periodic ticket scan.
func (s *RuleSet) EscalationScanFilter() ([]domain.TicketStatus, []domain.TicketPriority) {
	statusSet := make(map[domain.TicketStatus]bool)
	prioritySet := make(map[domain.TicketPriority]bool)
	for _, r := range s.ActiveEscalation() {
		statusSet[r.Status] = true
		prioritySet[r.Priority] = true
	}
	statuses := make([]domain.TicketStatus, 0, len(statusSet))
	for st := range statusSet {
		statuses = append(statuses, st)
	}
	priorities := make([]domain.TicketPriority, 0, len(prioritySet))
	for pr := range prioritySet {
		priorities = append(priorities, pr)
	}
	return statuses, priorities
}

func validPriority(p domain.TicketPriority) bool {
	switch p {
	case domain.TicketPriorityLow, domain.TicketPriorityMedium, domain.TicketPriorityHigh, domain.TicketPriorityUrgent:
		return true
	}
	return false
}
