package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-automation/internal/api/http/handlers"
	"github.com/spec-kit/ticket-automation/internal/auth"
	"github.com/spec-kit/ticket-automation/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	SLA            *handlers.SLAHandler
	Ops            *handlers.OpsHandler
	AuthMiddleware *auth.Middleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle)
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Post("/:id/status", cfg.Tickets.ChangeStatus)
	tickets.Post("/:id/respond", cfg.Tickets.RecordFirstResponse)
	tickets.Post("/:id/approve", cfg.Tickets.RecordApproval)
	tickets.Post("/:id/resolve", cfg.Tickets.Resolve)

	sla := app.Group("/sla", cfg.AuthMiddleware.Handle)
	sla.Get("/policies", cfg.SLA.ListPolicies)
	sla.Post("/policies", cfg.AuthMiddleware.RequireRole(domain.RoleManager), cfg.SLA.CreatePolicy)
	sla.Put("/policies/:id", cfg.AuthMiddleware.RequireRole(domain.RoleManager), cfg.SLA.UpdatePolicy)
	sla.Get("/metrics/:ticketID", cfg.SLA.GetMetric)
	sla.Post("/metrics/:ticketID/check", cfg.SLA.CheckCompliance)
	sla.Get("/breaches", cfg.SLA.ListBreaches)
	sla.Post("/breaches/:id/ack", cfg.SLA.AcknowledgeBreach)
	sla.Post("/breaches/:id/resolve", cfg.AuthMiddleware.RequireRole(domain.RoleManager), cfg.SLA.ResolveBreach)

	ops := app.Group("/ops", cfg.AuthMiddleware.Handle, cfg.AuthMiddleware.RequireRole(domain.RoleManager))
	ops.Get("/queues", cfg.Ops.QueueStats)
	ops.Get("/queues/:name/failed", cfg.Ops.FailedJobs)
	ops.Get("/metrics", cfg.Ops.Counters)
	ops.Delete("/assignment-counters/:role", cfg.Ops.ResetAssignmentCounter)
}
