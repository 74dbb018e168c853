package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-automation/internal/domain"
)

const sampleRules = `
prioritization:
  - keyword: outage
    priority: URGENT
  - keyword: question
    priority: LOW
    active: false

assignment:
  - category: billing
    role: AGENT

escalation:
  - name: urgent-open-2h
    priority: URGENT
    status: OPEN
    hours_threshold: 2
    escalate_to_role: MANAGER
  - name: high-stale
    priority: HIGH
    status: IN_PROGRESS
    hours_threshold: 24
    escalate_to_role: MANAGER
    new_priority: URGENT
    active: false
`

func TestParseFullDocument(t *testing.T) {
	set, err := Parse([]byte(sampleRules))
	require.NoError(t, err)

	require.Len(t, set.Prioritization, 2)
	assert.True(t, set.Prioritization[0].Active)
	assert.False(t, set.Prioritization[1].Active)
	assert.Equal(t, domain.TicketPriorityUrgent, set.Prioritization[0].Priority)

	require.Len(t, set.Assignment, 1)
	assert.Equal(t, domain.RoleAgent, set.Assignment[0].Role)

	require.Len(t, set.Escalation, 2)
	first := set.Escalation[0]
	assert.Equal(t, "urgent-open-2h", first.Name)
	assert.Equal(t, domain.TicketStatusOpen, first.Status)
	assert.InDelta(t, 2.0, first.HoursThreshold, 0.001)
	assert.Nil(t, first.NewPriority)

	second := set.Escalation[1]
	require.NotNil(t, second.NewPriority)
	assert.Equal(t, domain.TicketPriorityUrgent, *second.NewPriority)
	assert.False(t, second.Active)
}

func TestActiveFiltersSkipDisabledRules(t *testing.T) {
	set, err := Parse([]byte(sampleRules))
	require.NoError(t, err)

	assert.Len(t, set.ActivePrioritization(), 1)
	assert.Len(t, set.ActiveAssignment(), 1)
	escalation := set.ActiveEscalation()
	require.Len(t, escalation, 1)
	assert.Equal(t, "urgent-open-2h", escalation[0].Name)
}

func TestEscalationScanFilterCoversActiveRulesOnly(t *testing.T) {
	set, err := Parse([]byte(sampleRules))
	require.NoError(t, err)

	statuses, priorities := set.EscalationScanFilter()
	assert.ElementsMatch(t, []domain.TicketStatus{domain.TicketStatusOpen}, statuses)
	assert.ElementsMatch(t, []domain.TicketPriority{domain.TicketPriorityUrgent}, priorities)
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"missing keyword": `
prioritization:
  - priority: HIGH`,
		"invalid priority": `
prioritization:
  - keyword: x
    priority: SOMEDAY`,
		"missing role": `
assignment:
  - category: billing`,
		"duplicate escalation name": `
escalation:
  - name: dup
    priority: HIGH
    status: OPEN
    hours_threshold: 1
    escalate_to_role: MANAGER
  - name: dup
    priority: LOW
    status: OPEN
    hours_threshold: 1
    escalate_to_role: MANAGER`,
		"non-positive threshold": `
escalation:
  - name: zero
    priority: HIGH
    status: OPEN
    hours_threshold: 0
    escalate_to_role: MANAGER`,
		"invalid new_priority": `
escalation:
  - name: bad
    priority: HIGH
    status: OPEN
    hours_threshold: 1
    escalate_to_role: MANAGER
    new_priority: WHENEVER`,
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFileYieldsEmptySet(t *testing.T) {
	set, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, set.Prioritization)
	assert.Empty(t, set.Assignment)
	assert.Empty(t, set.Escalation)
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRules), 0o644))

	set, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, set.Escalation, 2)
}
