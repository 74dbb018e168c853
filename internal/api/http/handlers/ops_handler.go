package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-automation/internal/observability"
	"github.com/spec-kit/ticket-automation/internal/queue"
	"github.com/spec-kit/ticket-automation/internal/service"
	apperrors "github.com/spec-kit/ticket-automation/pkg/util"
)

// OpsHandler exposes operational introspection: queue state, engine
// counters and the assignment counter reset.
type OpsHandler struct {
	queues     *queue.Manager
	metrics    *observability.Metrics
	roundRobin *service.RoundRobinService
}

// NewOpsHandler constructs handler.
func NewOpsHandler(queues *queue.Manager, metrics *observability.Metrics, roundRobin *service.RoundRobinService) *OpsHandler {
	return &OpsHandler{queues: queues, metrics: metrics, roundRobin: roundRobin}
}

// QueueStats GET /ops/queues.
func (h *OpsHandler) QueueStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.queues.JobCounts()})
}

// FailedJobs GET /ops/queues/:name/failed.
func (h *OpsHandler) FailedJobs(c *fiber.Ctx) error {
	jobs := h.queues.FailedJobs(c.Params("name"))
	items := make([]fiber.Map, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, fiber.Map{
			"id":           job.ID,
			"queue":        job.Queue,
			"attempts":     job.Attempts,
			"max_attempts": job.MaxAttempts,
			"error":        job.Error,
			"enqueued_at":  job.EnqueuedAt,
			"finished_at":  job.FinishedAt,
		})
	}
	return c.JSON(fiber.Map{"data": items})
}

// Counters GET /ops/metrics.
func (h *OpsHandler) Counters(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.metrics.Snapshot()})
}

// ResetAssignmentCounter DELETE /ops/assignment-counters/:role.
func (h *OpsHandler) ResetAssignmentCounter(c *fiber.Ctx) error {
	role := c.Params("role")
	if role == "" {
		return apperrors.NewValidationError("role required", nil)
	}
	if err := h.roundRobin.Reset(c.UserContext(), role); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"role": role, "reset": true}})
}
