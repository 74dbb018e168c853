package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-automation/internal/observability"
)

// State is a job's lifecycle state.
type State string

const (
	StateWaiting   State = "WAITING"
	StateActive    State = "ACTIVE"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

// Job is one unit of queued work.
type Job struct {
	ID          string
	Queue       string
	Payload     json.RawMessage
	Priority    int
	Attempts    int
	MaxAttempts int
	State       State
	Error       string
	EnqueuedAt  time.Time
	FinishedAt  time.Time
}

// Bind unmarshals the job payload into out.
func (j *Job) Bind(out any) error {
	if len(j.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(j.Payload, out)
}

// Handler processes a job. A nil return marks the job Completed; an
// error triggers a retry until attempts are exhausted.
type Handler func(ctx context.Context, job *Job) error

// Counts summarizes a queue for introspection.
type Counts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// ManagerOptions tunes queue defaults.
type ManagerOptions struct {
	RetryAttempts   int
	RetryBackoff    time.Duration
	RetainCompleted int
	RetainFailed    int
	BufferSize      int
	Logger          *zap.Logger
	Metrics         *observability.Metrics
}

// Manager owns the named queues and their worker pools.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*namedQueue
	opts   ManagerOptions
	closed bool
	wg     sync.WaitGroup
}

type namedQueue struct {
	name string
	jobs chan *Job

	mu        sync.Mutex
	waiting   int
	active    int
	completed []*Job
	failed    []*Job
}

// EnqueueOption customizes a single enqueue.
type EnqueueOption func(*Job)

// WithJobID sets an explicit job id.
func WithJobID(id string) EnqueueOption {
	return func(j *Job) { j.ID = id }
}

// WithPriority records a job priority.
func WithPriority(priority int) EnqueueOption {
	return func(j *Job) { j.Priority = priority }
}

// WithMaxAttempts overrides the default retry limit for this job.
func WithMaxAttempts(attempts int) EnqueueOption {
	return func(j *Job) {
		if attempts > 0 {
			j.MaxAttempts = attempts
		}
	}
}

// NewManager builds a queue manager.
func NewManager(opts ManagerOptions) *Manager {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	if opts.RetainCompleted <= 0 {
		opts.RetainCompleted = 100
	}
	if opts.RetainFailed <= 0 {
		opts.RetainFailed = 500
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1024
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		queues: make(map[string]*namedQueue),
		opts:   opts,
	}
}

func (m *Manager) queue(name string) *namedQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[name]
	if !ok {
		q = &namedQueue{name: name, jobs: make(chan *Job, m.opts.BufferSize)}
		m.queues[name] = q
	}
	return q
}

// Enqueue admits a job to the named queue.
func (m *Manager) Enqueue(queueName string, payload any, opts ...EnqueueOption) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}

	job := &Job{
		ID:          uuid.NewString(),
		Queue:       queueName,
		Payload:     data,
		MaxAttempts: m.opts.RetryAttempts,
		State:       StateWaiting,
		EnqueuedAt:  time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(job)
	}

	if err := m.admit(m.queue(queueName), job); err != nil {
		return nil, err
	}
	return job, nil
}

// admit holds the manager lock across the send so Shutdown cannot close
// the channel between the closed check and the send. The send is
// non-blocking, so the lock is only held momentarily.
func (m *Manager) admit(q *namedQueue, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("queue manager shutting down")
	}

	select {
	case q.jobs <- job:
		q.mu.Lock()
		q.waiting++
		q.mu.Unlock()
		return nil
	default:
		return fmt.Errorf("queue %s is full", q.name)
	}
}

// Worker registers a handler on the named queue with the given
// concurrency cap. No more than concurrency handler invocations for the
// queue run at once.
func (m *Manager) Worker(queueName string, handler Handler, concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q := m.queue(queueName)
	for i := 0; i < concurrency; i++ {
		m.wg.Add(1)
		go m.workLoop(q, handler)
	}
}

func (m *Manager) workLoop(q *namedQueue, handler Handler) {
	defer m.wg.Done()
	for job := range q.jobs {
		m.process(q, handler, job)
	}
}

func (m *Manager) process(q *namedQueue, handler Handler, job *Job) {
	q.mu.Lock()
	q.waiting--
	q.active++
	q.mu.Unlock()

	job.State = StateActive
	job.Attempts++

	err := m.run(handler, job)

	q.mu.Lock()
	q.active--
	q.mu.Unlock()

	if err == nil {
		job.State = StateCompleted
		job.FinishedAt = time.Now().UTC()
		q.retainCompleted(job, m.opts.RetainCompleted)
		if m.opts.Metrics != nil {
			m.opts.Metrics.Inc(observability.CounterJobsCompleted)
		}
		return
	}

	job.Error = err.Error()
	m.opts.Logger.Warn("job failed",
		zap.String("queue", q.name),
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.Attempts),
		zap.Int("max_attempts", job.MaxAttempts),
		zap.Error(err))

	if job.Attempts < job.MaxAttempts {
		m.scheduleRetry(q, job)
		return
	}

	// exhausted: parked for operator inspection
	job.State = StateFailed
	job.FinishedAt = time.Now().UTC()
	q.retainFailed(job, m.opts.RetainFailed)
	if m.opts.Metrics != nil {
		m.opts.Metrics.Inc(observability.CounterJobsFailed)
	}
}

func (m *Manager) run(handler Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(context.Background(), job)
}

// scheduleRetry re-admits the job after an exponential backoff starting
// at the configured base delay.
func (m *Manager) scheduleRetry(q *namedQueue, job *Job) {
	delay := m.opts.RetryBackoff << (job.Attempts - 1)
	job.State = StateWaiting

	m.wg.Add(1)
	time.AfterFunc(delay, func() {
		defer m.wg.Done()
		if err := m.admit(q, job); err != nil {
			job.State = StateFailed
			job.Error = fmt.Sprintf("retry abandoned: %v", err)
			job.FinishedAt = time.Now().UTC()
			q.retainFailed(job, m.opts.RetainFailed)
		}
	})
}

func (q *namedQueue) retainCompleted(job *Job, max int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, job)
	if len(q.completed) > max {
		q.completed = q.completed[len(q.completed)-max:]
	}
}

func (q *namedQueue) retainFailed(job *Job, max int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed = append(q.failed, job)
	if len(q.failed) > max {
		q.failed = q.failed[len(q.failed)-max:]
	}
}

// JobCounts reports per-queue state counts for dashboards.
func (m *Manager) JobCounts() map[string]Counts {
	m.mu.Lock()
	queues := make([]*namedQueue, 0, len(m.queues))
	for _, q := range m.queues {
		queues = append(queues, q)
	}
	m.mu.Unlock()

	out := make(map[string]Counts, len(queues))
	for _, q := range queues {
		q.mu.Lock()
		out[q.name] = Counts{
			Waiting:   q.waiting,
			Active:    q.active,
			Completed: len(q.completed),
			Failed:    len(q.failed),
		}
		q.mu.Unlock()
	}
	return out
}

// FailedJobs returns the retained failed jobs for a queue.
func (m *Manager) FailedJobs(queueName string) []*Job {
	q := m.queue(queueName)
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Job{}, q.failed...)
}

// Shutdown stops admitting jobs, closes the queues and waits for
// in-flight handlers to finish. Active handlers are never cancelled.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for _, q := range m.queues {
		close(q.jobs)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
