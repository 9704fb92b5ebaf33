package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contractiq/backend/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

func newTestPool(t *testing.T, cfg WorkerPoolConfig, exec SyncExecutorFunc) *WorkerPool {
	t.Helper()
	pool, err := NewWorkerPool(cfg, exec, zap.NewNop())
	require.NoError(t, err)
	return pool
}

func newTestJob() *SyncJob {
	return NewSyncJob(uuid.New(), uuid.New(), integration.SyncTypeFull, integration.TriggerManual)
}

// ---------------------------------------------------------------------------
// Config Tests
// ---------------------------------------------------------------------------

func TestWorkerPoolConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*WorkerPoolConfig)
		ok     bool
	}{
		{"default", func(*WorkerPoolConfig) {}, true},
		{"zero workers", func(c *WorkerPoolConfig) { c.Workers = 0 }, false},
		{"zero queue", func(c *WorkerPoolConfig) { c.QueueSize = 0 }, false},
		{"zero timeout", func(c *WorkerPoolConfig) { c.JobTimeout = 0 }, false},
		{"negative history", func(c *WorkerPoolConfig) { c.HistorySize = -1 }, false},
		{"no history", func(c *WorkerPoolConfig) { c.HistorySize = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultWorkerPoolConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// WorkerPool Tests
// ---------------------------------------------------------------------------

func TestWorkerPool_SubmitBeforeStart(t *testing.T) {
	pool := newTestPool(t, DefaultWorkerPoolConfig(), func(context.Context, *SyncJob) error { return nil })

	err := pool.Submit(newTestJob())

	assert.ErrorIs(t, err, ErrSchedulerNotRunning)
}

func TestWorkerPool_ExecutesJobs(t *testing.T) {
	var executed atomic.Int32
	pool := newTestPool(t, DefaultWorkerPoolConfig(), func(_ context.Context, job *SyncJob) error {
		executed.Add(1)
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop(context.Background())

	job := newTestJob()
	require.NoError(t, pool.Submit(job))
	require.NoError(t, job.Wait(context.Background()))

	status, msg := job.Snapshot()
	assert.Equal(t, SyncJobStatusSuccess, status)
	assert.Empty(t, msg)
	assert.Equal(t, int32(1), executed.Load())
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)
}

func TestWorkerPool_RecordsFailure(t *testing.T) {
	pool := newTestPool(t, DefaultWorkerPoolConfig(), func(context.Context, *SyncJob) error {
		return errors.New("provider down")
	})
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop(context.Background())

	job := newTestJob()
	require.NoError(t, pool.Submit(job))
	require.NoError(t, job.Wait(context.Background()))

	status, msg := job.Snapshot()
	assert.Equal(t, SyncJobStatusFailed, status)
	assert.Equal(t, "provider down", msg)
}

func TestWorkerPool_RecoversPanics(t *testing.T) {
	pool := newTestPool(t, DefaultWorkerPoolConfig(), func(context.Context, *SyncJob) error {
		panic("boom")
	})
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop(context.Background())

	job := newTestJob()
	require.NoError(t, pool.Submit(job))
	require.NoError(t, job.Wait(context.Background()))

	status, msg := job.Snapshot()
	assert.Equal(t, SyncJobStatusFailed, status)
	assert.Contains(t, msg, "boom")
}

func TestWorkerPool_AppliesJobTimeout(t *testing.T) {
	cfg := DefaultWorkerPoolConfig()
	cfg.JobTimeout = 20 * time.Millisecond
	pool := newTestPool(t, cfg, func(ctx context.Context, _ *SyncJob) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop(context.Background())

	job := newTestJob()
	require.NoError(t, pool.Submit(job))
	require.NoError(t, job.Wait(context.Background()))

	_, msg := job.Snapshot()
	assert.Equal(t, context.DeadlineExceeded.Error(), msg)
}

func TestWorkerPool_QueueFull(t *testing.T) {
	cfg := DefaultWorkerPoolConfig()
	cfg.Workers = 1
	cfg.QueueSize = 1

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	pool := newTestPool(t, cfg, func(context.Context, *SyncJob) error {
		started <- struct{}{}
		<-release
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	first := newTestJob()
	require.NoError(t, pool.Submit(first))
	<-started // worker is busy with the first job

	require.NoError(t, pool.Submit(newTestJob()))
	assert.ErrorIs(t, pool.Submit(newTestJob()), ErrJobQueueFull)

	close(release)
	require.NoError(t, pool.Stop(context.Background()))
}

func TestWorkerPool_RunsConcurrently(t *testing.T) {
	cfg := DefaultWorkerPoolConfig()
	cfg.Workers = 3

	var (
		mu      sync.Mutex
		current int
		peak    int
	)
	gate := make(chan struct{})
	pool := newTestPool(t, cfg, func(context.Context, *SyncJob) error {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()
		<-gate
		mu.Lock()
		current--
		mu.Unlock()
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	jobs := []*SyncJob{newTestJob(), newTestJob(), newTestJob()}
	for _, job := range jobs {
		require.NoError(t, pool.Submit(job))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return current == 3
	}, time.Second, 5*time.Millisecond)

	close(gate)
	for _, job := range jobs {
		require.NoError(t, job.Wait(context.Background()))
	}
	require.NoError(t, pool.Stop(context.Background()))
	assert.Equal(t, 3, peak)
}

func TestWorkerPool_History(t *testing.T) {
	cfg := DefaultWorkerPoolConfig()
	cfg.Workers = 1
	cfg.HistorySize = 2
	pool := newTestPool(t, cfg, func(context.Context, *SyncJob) error { return nil })
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop(context.Background())

	integrationID := uuid.New()
	jobs := make([]*SyncJob, 3)
	for i := range jobs {
		jobs[i] = NewSyncJob(integrationID, uuid.New(), integration.SyncTypeIncremental, integration.TriggerScheduled)
		require.NoError(t, pool.Submit(jobs[i]))
		require.NoError(t, jobs[i].Wait(context.Background()))
	}

	history := pool.History(0)
	require.Len(t, history, 2)
	assert.Equal(t, jobs[2].ID, history[0].ID)
	assert.Equal(t, jobs[1].ID, history[1].ID)

	assert.Len(t, pool.HistoryByIntegration(integrationID, 1), 1)
	assert.Empty(t, pool.HistoryByIntegration(uuid.New(), 10))
}

func TestWorkerPool_StopIsIdempotent(t *testing.T) {
	pool := newTestPool(t, DefaultWorkerPoolConfig(), func(context.Context, *SyncJob) error { return nil })
	require.NoError(t, pool.Start(context.Background()))
	assert.True(t, pool.IsRunning())

	require.NoError(t, pool.Stop(context.Background()))
	require.NoError(t, pool.Stop(context.Background()))
	assert.False(t, pool.IsRunning())
	assert.ErrorIs(t, pool.Submit(newTestJob()), ErrSchedulerNotRunning)
}

func TestSyncJob_WaitHonorsContext(t *testing.T) {
	job := newTestJob()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, job.Wait(ctx), context.DeadlineExceeded)
}
