package domain

import "time"

// SLAStatus is the compliance state of a metric. Transitions within a
// tracked phase are forward-only: WithinSLA -> Warning -> Breached.
type SLAStatus string

const (
	SLAStatusWithin   SLAStatus = "WITHIN_SLA"
	SLAStatusWarning  SLAStatus = "WARNING"
	SLAStatusBreached SLAStatus = "BREACHED"
)

// Severity orders statuses for aggregate computation.
func (s SLAStatus) Severity() int {
	switch s {
	case SLAStatusBreached:
		return 2
	case SLAStatusWarning:
		return 1
	default:
		return 0
	}
}

// SLAPhase identifies a tracked phase of a metric.
type SLAPhase string

const (
	PhaseResponse   SLAPhase = "RESPONSE"
	PhaseResolution SLAPhase = "RESOLUTION"
	PhaseApproval   SLAPhase = "APPROVAL"
)

// BreachType mirrors SLAPhase for breach records.
type BreachType string

const (
	BreachResponseTime   BreachType = "RESPONSE_TIME"
	BreachResolutionTime BreachType = "RESOLUTION_TIME"
	BreachApprovalTime   BreachType = "APPROVAL_TIME"
)

// BreachTypeForPhase maps a tracked phase to its breach type.
func BreachTypeForPhase(phase SLAPhase) BreachType {
	switch phase {
	case PhaseResolution:
		return BreachResolutionTime
	case PhaseApproval:
		return BreachApprovalTime
	default:
		return BreachResponseTime
	}
}

// BreachStatus is the operator-facing lifecycle of a breach record.
type BreachStatus string

const (
	BreachStatusOpen         BreachStatus = "OPEN"
	BreachStatusAcknowledged BreachStatus = "ACKNOWLEDGED"
	BreachStatusResolved     BreachStatus = "RESOLVED"
)

// SLAPolicy defines response/resolution/approval targets. Category,
// Priority and WorkflowID act as match conditions; nil means wildcard.
// Among active policies at most one may match a given tuple.
type SLAPolicy struct {
	ID                 string
	Name               string
	IsActive           bool
	ResponseTimeMins   int
	ResolutionTimeMins int
	ApprovalTimeMins   *int
	WarningThreshold   float64
	Category           *string
	Priority           *TicketPriority
	WorkflowID         *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SLAMetric tracks one ticket against the policy targets snapshotted at
// ticket creation. Policy edits never retroactively change a metric.
type SLAMetric struct {
	ID                       string
	TicketID                 string
	SLAPolicyID              string
	TicketCreatedAt          time.Time
	FirstResponseAt          *time.Time
	ResolvedAt               *time.Time
	ApprovalCompletedAt      *time.Time
	ResponseTimeMins         *int
	ResolutionTimeMins       *int
	ApprovalTimeMins         *int
	TargetResponseTimeMins   int
	TargetResolutionTimeMins int
	TargetApprovalTimeMins   *int
	Status                   SLAStatus
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// PhaseCompleted reports whether the phase's completion timestamp is set.
func (m *SLAMetric) PhaseCompleted(phase SLAPhase) bool {
	switch phase {
	case PhaseResponse:
		return m.FirstResponseAt != nil
	case PhaseResolution:
		return m.ResolvedAt != nil
	case PhaseApproval:
		return m.ApprovalCompletedAt != nil
	}
	return false
}

// PhaseTarget returns the snapshotted target for the phase; ok is false
// when the phase is not tracked for this metric.
func (m *SLAMetric) PhaseTarget(phase SLAPhase) (int, bool) {
	switch phase {
	case PhaseResponse:
		return m.TargetResponseTimeMins, m.TargetResponseTimeMins > 0
	case PhaseResolution:
		return m.TargetResolutionTimeMins, m.TargetResolutionTimeMins > 0
	case PhaseApproval:
		if m.TargetApprovalTimeMins == nil {
			return 0, false
		}
		return *m.TargetApprovalTimeMins, true
	}
	return 0, false
}

// SLABreach records one detected breach. At most one Open breach exists
// per (SLAMetricID, BreachType); detection is get-or-create on that pair.
type SLABreach struct {
	ID               string
	TicketID         string
	SLAMetricID      string
	SLAPolicyID      string
	BreachType       BreachType
	BreachedAt       time.Time
	ActualTimeMins   int
	TargetTimeMins   int
	OverageMins      int
	StageIndex       *int
	Status           BreachStatus
	AcknowledgedAt   *time.Time
	AcknowledgedByID *string
	ResolutionNotes  *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
