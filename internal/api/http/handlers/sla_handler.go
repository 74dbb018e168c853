package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-automation/internal/api/dto"
	"github.com/spec-kit/ticket-automation/internal/auth"
	"github.com/spec-kit/ticket-automation/internal/domain"
	"github.com/spec-kit/ticket-automation/internal/repository"
	"github.com/spec-kit/ticket-automation/internal/service"
	apperrors "github.com/spec-kit/ticket-automation/pkg/util"
)

// SLAHandler exposes policies, metrics and breach management.
type SLAHandler struct {
	service *service.SLAService
}

// NewSLAHandler constructs handler.
func NewSLAHandler(slaService *service.SLAService) *SLAHandler {
	return &SLAHandler{service: slaService}
}

// CreatePolicy POST /sla/policies.
func (h *SLAHandler) CreatePolicy(c *fiber.Ctx) error {
	policy, err := parsePolicyRequest(c)
	if err != nil {
		return err
	}
	if err := h.service.CreatePolicy(c.UserContext(), policy); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": policyResponse(policy)})
}

// UpdatePolicy PUT /sla/policies/:id.
func (h *SLAHandler) UpdatePolicy(c *fiber.Ctx) error {
	policy, err := parsePolicyRequest(c)
	if err != nil {
		return err
	}
	policy.ID = c.Params("id")
	if err := h.service.UpdatePolicy(c.UserContext(), policy); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": policyResponse(policy)})
}

// ListPolicies GET /sla/policies.
func (h *SLAHandler) ListPolicies(c *fiber.Ctx) error {
	policies, err := h.service.ListPolicies(c.UserContext())
	if err != nil {
		return err
	}
	items := make([]dto.PolicyResponse, 0, len(policies))
	for i := range policies {
		items = append(items, policyResponse(&policies[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetMetric GET /sla/metrics/:ticketID.
func (h *SLAHandler) GetMetric(c *fiber.Ctx) error {
	metric, err := h.service.GetMetric(c.UserContext(), c.Params("ticketID"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": metricResponse(metric)})
}

// CheckCompliance POST /sla/metrics/:ticketID/check.
func (h *SLAHandler) CheckCompliance(c *fiber.Ctx) error {
	metric, err := h.service.CheckCompliance(c.UserContext(), c.Params("ticketID"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": metricResponse(metric)})
}

// ListBreaches GET /sla/breaches.
func (h *SLAHandler) ListBreaches(c *fiber.Ctx) error {
	filter := repository.BreachFilter{}
	if ticketID := c.Query("ticket_id"); ticketID != "" {
		filter.TicketID = &ticketID
	}
	if statusStr := c.Query("status"); statusStr != "" {
		status := domain.BreachStatus(strings.ToUpper(strings.TrimSpace(statusStr)))
		filter.Status = &status
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize

	breaches, err := h.service.ListBreaches(c.UserContext(), filter)
	if err != nil {
		return err
	}
	items := make([]dto.BreachResponse, 0, len(breaches))
	for i := range breaches {
		items = append(items, breachResponse(&breaches[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// AcknowledgeBreach POST /sla/breaches/:id/ack.
func (h *SLAHandler) AcknowledgeBreach(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	if err := h.service.AcknowledgeBreach(c.UserContext(), c.Params("id"), principal.UserID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"status": domain.BreachStatusAcknowledged}})
}

// ResolveBreach POST /sla/breaches/:id/resolve.
func (h *SLAHandler) ResolveBreach(c *fiber.Ctx) error {
	var req dto.ResolveBreachRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Notes) == "" {
		return apperrors.NewValidationError("notes required", nil)
	}
	if err := h.service.ResolveBreach(c.UserContext(), c.Params("id"), req.Notes); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"status": domain.BreachStatusResolved}})
}

func parsePolicyRequest(c *fiber.Ctx) (*domain.SLAPolicy, error) {
	var req dto.PolicyRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, apperrors.NewValidationError("invalid payload", nil)
	}

	policy := &domain.SLAPolicy{
		Name:               req.Name,
		IsActive:           true,
		ResponseTimeMins:   req.ResponseTimeMins,
		ResolutionTimeMins: req.ResolutionTimeMins,
		ApprovalTimeMins:   req.ApprovalTimeMins,
		WarningThreshold:   0.8,
		Category:           req.Category,
		Priority:           req.Priority,
		WorkflowID:         req.WorkflowID,
	}
	if req.IsActive != nil {
		policy.IsActive = *req.IsActive
	}
	if req.WarningThreshold != nil {
		policy.WarningThreshold = *req.WarningThreshold
	}
	return policy, nil
}

func policyResponse(policy *domain.SLAPolicy) dto.PolicyResponse {
	return dto.PolicyResponse{
		ID:                 policy.ID,
		Name:               policy.Name,
		IsActive:           policy.IsActive,
		ResponseTimeMins:   policy.ResponseTimeMins,
		ResolutionTimeMins: policy.ResolutionTimeMins,
		ApprovalTimeMins:   policy.ApprovalTimeMins,
		WarningThreshold:   policy.WarningThreshold,
		Category:           policy.Category,
		Priority:           policy.Priority,
		WorkflowID:         policy.WorkflowID,
		CreatedAt:          policy.CreatedAt,
		UpdatedAt:          policy.UpdatedAt,
	}
}

func metricResponse(metric *domain.SLAMetric) dto.MetricResponse {
	return dto.MetricResponse{
		ID:                       metric.ID,
		TicketID:                 metric.TicketID,
		SLAPolicyID:              metric.SLAPolicyID,
		Status:                   metric.Status,
		TicketCreatedAt:          metric.TicketCreatedAt,
		FirstResponseAt:          metric.FirstResponseAt,
		ResolvedAt:               metric.ResolvedAt,
		ApprovalCompletedAt:      metric.ApprovalCompletedAt,
		ResponseTimeMins:         metric.ResponseTimeMins,
		ResolutionTimeMins:       metric.ResolutionTimeMins,
		ApprovalTimeMins:         metric.ApprovalTimeMins,
		TargetResponseTimeMins:   metric.TargetResponseTimeMins,
		TargetResolutionTimeMins: metric.TargetResolutionTimeMins,
		TargetApprovalTimeMins:   metric.TargetApprovalTimeMins,
	}
}

func breachResponse(breach *domain.SLABreach) dto.BreachResponse {
	return dto.BreachResponse{
		ID:               breach.ID,
		TicketID:         breach.TicketID,
		SLAMetricID:      breach.SLAMetricID,
		SLAPolicyID:      breach.SLAPolicyID,
		BreachType:       breach.BreachType,
		Status:           breach.Status,
		BreachedAt:       breach.BreachedAt,
		ActualTimeMins:   breach.ActualTimeMins,
		TargetTimeMins:   breach.TargetTimeMins,
		OverageMins:      breach.OverageMins,
		AcknowledgedAt:   breach.AcknowledgedAt,
		AcknowledgedByID: breach.AcknowledgedByID,
		ResolutionNotes:  breach.ResolutionNotes,
	}
}
