package service

import (
	"context"

	apperrors "github.com/spec-kit/ticket-automation/pkg/util"
)

// AssignmentCounter is the durable per-role counter primitive. The
// store guarantees atomic increments; the service layers the modulo on
// top.
type AssignmentCounter interface {
	Incr(ctx context.Context, role string) (int64, error)
	Reset(ctx context.Context, role string) error
}

// RoundRobinService distributes assignments across a role's members.
// The index is computed modulo the current candidate count, so fairness
// is approximate when membership changes between calls.
type RoundRobinService struct {
	counter AssignmentCounter
}

// NewRoundRobinService constructs the service.
func NewRoundRobinService(counter AssignmentCounter) *RoundRobinService {
	return &RoundRobinService{counter: counter}
}

// Next atomically advances the role's counter and returns the index of
// the next candidate in [0, candidateCount).
func (s *RoundRobinService) Next(ctx context.Context, role string, candidateCount int) (int, error) {
	if candidateCount <= 0 {
		return 0, apperrors.NewValidationError("candidate count must be positive", map[string]any{"role": role})
	}
	n, err := s.counter.Incr(ctx, role)
	if err != nil {
		return 0, err
	}
	return int((n - 1) % int64(candidateCount)), nil
}

// Reset clears the role's counter.
func (s *RoundRobinService) Reset(ctx context.Context, role string) error {
	return s.counter.Reset(ctx, role)
}
