package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-automation/internal/config"
	"github.com/spec-kit/ticket-automation/internal/events"
	"github.com/spec-kit/ticket-automation/internal/queue"
	"github.com/spec-kit/ticket-automation/internal/service"
)

// Queue names.
const (
	QueueSLAMonitoring   = "sla-monitoring"
	QueueEscalationCheck = "escalation-check"
)

type slaCheckJob struct {
	Reason string `json:"reason"`
}

type escalationScanJob struct {
	Reason string `json:"reason"`
}

// EngineWorker connects the periodic producers, the job queues and the
// event bus subscriptions. Batch jobs are idempotent, so overlapping
// ticks and retried jobs converge on the same state.
type EngineWorker struct {
	manager    *queue.Manager
	sla        *service.SLAService
	automation *service.AutomationService
	bus        *events.Bus
	scheduler  config.SchedulerConfig
	logger     *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// EngineWorkerDependencies bundles collaborators.
type EngineWorkerDependencies struct {
	Manager    *queue.Manager
	SLA        *service.SLAService
	Automation *service.AutomationService
	Bus        *events.Bus
	Scheduler  config.SchedulerConfig
	Logger     *zap.Logger
}

// NewEngineWorker constructs the worker.
func NewEngineWorker(deps EngineWorkerDependencies) *EngineWorker {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EngineWorker{
		manager:    deps.Manager,
		sla:        deps.SLA,
		automation: deps.Automation,
		bus:        deps.Bus,
		scheduler:  deps.Scheduler,
		logger:     logger,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start registers queue consumers and bus handlers, then launches the
// periodic producers.
func (w *EngineWorker) Start(slaConcurrency, escalationConcurrency int) {
	w.manager.Worker(QueueSLAMonitoring, w.handleSLACheck, slaConcurrency)
	w.manager.Worker(QueueEscalationCheck, w.handleEscalationScan, escalationConcurrency)
	w.automation.RegisterHandlers(w.bus)

	go w.tickLoop()
	w.logger.Info("engine worker started",
		zap.Duration("sla_interval", w.scheduler.SLAMonitorInterval()),
		zap.Duration("escalation_interval", w.scheduler.EscalationInterval()))
}

// Stop halts the periodic producers. Queue draining is the manager's
// Shutdown concern.
func (w *EngineWorker) Stop() {
	close(w.stop)
	<-w.done
	w.logger.Info("engine worker stopped")
}

func (w *EngineWorker) tickLoop() {
	defer close(w.done)

	slaTicker := time.NewTicker(w.scheduler.SLAMonitorInterval())
	escalationTicker := time.NewTicker(w.scheduler.EscalationInterval())
	defer slaTicker.Stop()
	defer escalationTicker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-slaTicker.C:
			w.enqueue(QueueSLAMonitoring, slaCheckJob{Reason: "scheduled"})
		case <-escalationTicker.C:
			w.enqueue(QueueEscalationCheck, escalationScanJob{Reason: "scheduled"})
		}
	}
}

func (w *EngineWorker) enqueue(queueName string, payload any) {
	if _, err := w.manager.Enqueue(queueName, payload); err != nil {
		w.logger.Warn("enqueue scheduled job",
			zap.String("queue", queueName),
			zap.Error(err))
	}
}

func (w *EngineWorker) handleSLACheck(ctx context.Context, job *queue.Job) error {
	checked, err := w.sla.CheckAllOpenMetrics(ctx)
	if err != nil {
		return err
	}
	w.logger.Debug("sla monitoring pass finished",
		zap.String("job_id", job.ID),
		zap.Int("metrics_checked", checked))
	return nil
}

func (w *EngineWorker) handleEscalationScan(ctx context.Context, job *queue.Job) error {
	scanned, err := w.automation.RunEscalationScan(ctx)
	if err != nil {
		return err
	}
	w.logger.Debug("escalation scan finished",
		zap.String("job_id", job.ID),
		zap.Int("tickets_scanned", scanned))
	return nil
}
