package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueAndComplete(t *testing.T) {
	m := NewManager(ManagerOptions{})
	defer shutdown(t, m)

	done := make(chan string, 1)
	m.Worker("test", func(ctx context.Context, job *Job) error {
		var payload map[string]string
		require.NoError(t, job.Bind(&payload))
		done <- payload["ticket_id"]
		return nil
	}, 1)

	job, err := m.Enqueue("test", map[string]string{"ticket_id": "t1"})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)

	select {
	case got := <-done:
		assert.Equal(t, "t1", got)
	case <-time.After(time.Second):
		t.Fatal("job was not processed")
	}
}

func TestRetryWithBackoffThenSuccess(t *testing.T) {
	m := NewManager(ManagerOptions{
		RetryAttempts: 3,
		RetryBackoff:  10 * time.Millisecond,
	})
	defer shutdown(t, m)

	var attempts int32
	done := make(chan struct{})
	m.Worker("flaky", func(ctx context.Context, job *Job) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}, 1)

	_, err := m.Enqueue("flaky", nil)
	require.NoError(t, err)

	select {
	case <-done:
		assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	case <-time.After(2 * time.Second):
		t.Fatal("job never succeeded")
	}
}

func TestExhaustedRetriesParkJobAsFailed(t *testing.T) {
	m := NewManager(ManagerOptions{
		RetryAttempts: 2,
		RetryBackoff:  5 * time.Millisecond,
	})
	defer shutdown(t, m)

	var attempts int32
	m.Worker("doomed", func(ctx context.Context, job *Job) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("permanent")
	}, 1)

	_, err := m.Enqueue("doomed", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(m.FailedJobs("doomed")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
	failed := m.FailedJobs("doomed")[0]
	assert.Equal(t, StateFailed, failed.State)
	assert.Contains(t, failed.Error, "permanent")
}

func TestPanickingHandlerIsRetriedNotFatal(t *testing.T) {
	m := NewManager(ManagerOptions{
		RetryAttempts: 2,
		RetryBackoff:  5 * time.Millisecond,
	})
	defer shutdown(t, m)

	done := make(chan struct{})
	var attempts int32
	m.Worker("panicky", func(ctx context.Context, job *Job) error {
		if atomic.AddInt32(&attempts, 1) == 1 {
			panic("boom")
		}
		close(done)
		return nil
	}, 1)

	_, err := m.Enqueue("panicky", nil)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("panicking job was not retried")
	}
}

func TestConcurrencyCapIsRespected(t *testing.T) {
	m := NewManager(ManagerOptions{})
	defer shutdown(t, m)

	const concurrency = 3
	var active, peak int32
	var mu sync.Mutex
	release := make(chan struct{})

	m.Worker("capped", func(ctx context.Context, job *Job) error {
		current := atomic.AddInt32(&active, 1)
		mu.Lock()
		if current > peak {
			peak = current
		}
		mu.Unlock()
		<-release
		atomic.AddInt32(&active, -1)
		return nil
	}, concurrency)

	for i := 0; i < 10; i++ {
		_, err := m.Enqueue("capped", nil)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&active) == concurrency
	}, time.Second, 5*time.Millisecond)
	close(release)

	require.Eventually(t, func() bool {
		return m.JobCounts()["capped"].Completed == 10
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, int32(concurrency))
}

func TestJobCountsTrackStates(t *testing.T) {
	m := NewManager(ManagerOptions{RetryAttempts: 1})
	defer shutdown(t, m)

	m.Worker("mixed", func(ctx context.Context, job *Job) error {
		var payload map[string]bool
		_ = job.Bind(&payload)
		if payload["fail"] {
			return errors.New("no")
		}
		return nil
	}, 1)

	for i := 0; i < 3; i++ {
		_, err := m.Enqueue("mixed", map[string]bool{"fail": false})
		require.NoError(t, err)
	}
	_, err := m.Enqueue("mixed", map[string]bool{"fail": true})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		counts := m.JobCounts()["mixed"]
		return counts.Completed == 3 && counts.Failed == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEnqueueOptions(t *testing.T) {
	m := NewManager(ManagerOptions{})
	defer shutdown(t, m)

	job, err := m.Enqueue("opts", nil,
		WithJobID("fixed-id"),
		WithPriority(7),
		WithMaxAttempts(5))
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", job.ID)
	assert.Equal(t, 7, job.Priority)
	assert.Equal(t, 5, job.MaxAttempts)
}

func TestShutdownDrainsInFlightJobs(t *testing.T) {
	m := NewManager(ManagerOptions{})

	var processed int32
	m.Worker("drain", func(ctx context.Context, job *Job) error {
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&processed, 1)
		return nil
	}, 2)

	for i := 0; i < 4; i++ {
		_, err := m.Enqueue("drain", nil)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	assert.Equal(t, int32(4), atomic.LoadInt32(&processed))

	_, err := m.Enqueue("drain", nil)
	require.Error(t, err, "enqueue after shutdown must fail")
}

func shutdown(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
}
