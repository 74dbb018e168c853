package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ticket-automation/internal/api/http"
	"github.com/spec-kit/ticket-automation/internal/api/http/handlers"
	"github.com/spec-kit/ticket-automation/internal/auth"
	"github.com/spec-kit/ticket-automation/internal/config"
	"github.com/spec-kit/ticket-automation/internal/events"
	"github.com/spec-kit/ticket-automation/internal/observability"
	"github.com/spec-kit/ticket-automation/internal/persistence"
	"github.com/spec-kit/ticket-automation/internal/queue"
	"github.com/spec-kit/ticket-automation/internal/repository"
	"github.com/spec-kit/ticket-automation/internal/rules"
	"github.com/spec-kit/ticket-automation/internal/service"
	"github.com/spec-kit/ticket-automation/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()

	pool := pg.PoolHandle()
	ticketRepo := repository.NewTicketRepository(pool)
	userRepo := repository.NewUserRepository(pool)
	historyRepo := repository.NewTicketHistoryRepository(pool)
	policyRepo := repository.NewSLAPolicyRepository(pool)
	metricRepo := repository.NewSLAMetricRepository(pool)
	breachRepo := repository.NewSLABreachRepository(pool)
	auditRepo := repository.NewEventAuditRepository(pool)

	var dedup events.DedupCache
	if cfg.Events.DedupEnabled {
		dedup = events.NewRedisDedup(redis.Client, cfg.Events.DedupTTL())
	}
	bus := events.NewBus(events.BusDependencies{
		Broadcaster: events.NewRedisBroadcaster(redis.Client, cfg.Events.Channel, logger),
		Dedup:       dedup,
		Audit:       auditRepo,
		Logger:      logger,
		Metrics:     metrics,
		Source:      cfg.Events.Source,
	})
	if err := bus.Connect(ctx); err != nil {
		logger.Fatal("failed to connect event bus", zap.Error(err))
	}

	ruleSet, err := rules.Load(cfg.Automation.RulesPath)
	if err != nil {
		logger.Fatal("failed to load automation rules", zap.Error(err))
	}
	logger.Info("automation rules loaded",
		zap.Int("prioritization", len(ruleSet.Prioritization)),
		zap.Int("assignment", len(ruleSet.Assignment)),
		zap.Int("escalation", len(ruleSet.Escalation)))

	manager := queue.NewManager(queue.ManagerOptions{
		RetryAttempts:   cfg.Queue.RetryAttempts,
		RetryBackoff:    cfg.Queue.RetryBackoff(),
		RetainCompleted: cfg.Queue.RetainCompleted,
		RetainFailed:    cfg.Queue.RetainFailed,
		Logger:          logger,
		Metrics:         metrics,
	})

	roundRobin := service.NewRoundRobinService(persistence.NewRedisAssignmentCounter(redis.Client))
	slaService := service.NewSLAService(service.SLADependencies{
		PolicyRepo: policyRepo,
		MetricRepo: metricRepo,
		BreachRepo: breachRepo,
		Bus:        bus,
		Logger:     logger,
		Counters:   metrics,
	})
	automationService := service.NewAutomationService(service.AutomationDependencies{
		TicketRepo:  ticketRepo,
		UserRepo:    userRepo,
		HistoryRepo: historyRepo,
		RoundRobin:  roundRobin,
		Rules:       ruleSet,
		Bus:         bus,
		Logger:      logger,
		Counters:    metrics,
	})
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  ticketRepo,
		HistoryRepo: historyRepo,
		SLA:         slaService,
		Bus:         bus,
		Logger:      logger,
	})

	engineWorker := worker.NewEngineWorker(worker.EngineWorkerDependencies{
		Manager:    manager,
		SLA:        slaService,
		Automation: automationService,
		Bus:        bus,
		Scheduler:  cfg.Scheduler,
		Logger:     logger,
	})
	engineWorker.Start(cfg.Queue.SLAConcurrency, cfg.Queue.EscalationConcurrency)

	authMiddleware := auth.NewMiddleware(auth.NewTokenVerifier(cfg.Auth.JWTSecret))

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		SLA:            handlers.NewSLAHandler(slaService),
		Ops:            handlers.NewOpsHandler(manager, metrics, roundRobin),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
	engineWorker.Stop()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	if err := manager.Shutdown(drainCtx); err != nil {
		logger.Warn("queue drain incomplete", zap.Error(err))
	}
	if err := bus.Close(); err != nil {
		logger.Warn("event bus close", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
