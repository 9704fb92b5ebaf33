package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// WorkerPoolConfig
// ---------------------------------------------------------------------------

// WorkerPoolConfig holds configuration for the sync worker pool
type WorkerPoolConfig struct {
	// Workers is the number of runs executed concurrently across all integrations
	Workers int
	// QueueSize is the number of jobs buffered before Submit fails
	QueueSize int
	// JobTimeout is the maximum time a run can take
	JobTimeout time.Duration
	// HistorySize is the number of finished jobs kept for monitoring
	HistorySize int
}

// DefaultWorkerPoolConfig returns default configuration
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:     4,
		QueueSize:   64,
		JobTimeout:  30 * time.Minute,
		HistorySize: 100,
	}
}

// Validate validates the configuration
func (c *WorkerPoolConfig) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("%w: queue size must be positive", ErrInvalidConfig)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("%w: job timeout must be positive", ErrInvalidConfig)
	}
	if c.HistorySize < 0 {
		return fmt.Errorf("%w: history size must not be negative", ErrInvalidConfig)
	}
	return nil
}

// ---------------------------------------------------------------------------
// WorkerPool
// ---------------------------------------------------------------------------

// WorkerPool executes sync jobs from manual, scheduled and webhook triggers
type WorkerPool struct {
	config   WorkerPoolConfig
	executor SyncExecutor
	logger   *zap.Logger

	jobs      chan *SyncJob
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	historyMu sync.RWMutex
	history   []*SyncJob
}

// NewWorkerPool creates a worker pool
func NewWorkerPool(config WorkerPoolConfig, executor SyncExecutor, logger *zap.Logger) (*WorkerPool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerPool{
		config:   config,
		executor: executor,
		logger:   logger.Named("sync_pool"),
		jobs:     make(chan *SyncJob, config.QueueSize),
		history:  make([]*SyncJob, 0, config.HistorySize),
	}, nil
}

// Start starts the workers
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isRunning {
		return nil
	}
	p.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.logger.Info("Sync worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize),
		zap.Duration("job_timeout", p.config.JobTimeout),
	)
	return nil
}

// Stop stops accepting jobs and waits for in-flight runs. Queued jobs that
// were not picked up are finished with ErrSchedulerNotRunning.
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = false
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Sync worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.Warn("Sync worker pool stop timed out, cancelling runs")
		if p.cancel != nil {
			p.cancel()
		}
		return ctx.Err()
	}
}

// IsRunning returns true between Start and Stop
func (p *WorkerPool) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isRunning
}

// Submit queues a job without blocking
func (p *WorkerPool) Submit(job *SyncJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.isRunning {
		return ErrSchedulerNotRunning
	}

	select {
	case p.jobs <- job:
		p.logger.Debug("Sync job submitted",
			zap.String("job_id", job.ID.String()),
			zap.String("integration_id", job.IntegrationID.String()),
			zap.String("sync_operation_id", job.OperationID.String()),
			zap.String("trigger", string(job.Trigger)),
		)
		return nil
	default:
		return ErrJobQueueFull
	}
}

// QueueDepth returns the number of jobs waiting for a worker
func (p *WorkerPool) QueueDepth() int {
	return len(p.jobs)
}

func (p *WorkerPool) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()

	for job := range p.jobs {
		if ctx.Err() != nil {
			p.addToHistory(job)
			job.Finish(ErrSchedulerNotRunning)
			continue
		}
		p.processJob(ctx, job, workerID)
	}
	p.logger.Debug("Sync worker stopping", zap.Int("worker_id", workerID))
}

func (p *WorkerPool) processJob(ctx context.Context, job *SyncJob, workerID int) {
	job.Start()
	log := p.logger.With(
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("integration_id", job.IntegrationID.String()),
		zap.String("sync_operation_id", job.OperationID.String()),
	)
	log.Info("Processing sync job", zap.String("type", string(job.Type)))

	jobCtx, cancel := context.WithTimeout(ctx, p.config.JobTimeout)
	defer cancel()

	err := p.execute(jobCtx, job)
	p.addToHistory(job)
	job.Finish(err)

	if err != nil {
		log.Error("Sync job failed", zap.Error(err))
		return
	}
	log.Info("Sync job completed", zap.Duration("queued_for", job.StartedAt.Sub(job.SubmittedAt)))
}

// execute isolates executor panics so one bad run cannot take a worker down
func (p *WorkerPool) execute(ctx context.Context, job *SyncJob) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sync job panicked: %v", rec)
		}
	}()
	return p.executor.Execute(ctx, job)
}

func (p *WorkerPool) addToHistory(job *SyncJob) {
	if p.config.HistorySize == 0 {
		return
	}
	p.historyMu.Lock()
	defer p.historyMu.Unlock()

	p.history = append([]*SyncJob{job}, p.history...)
	if len(p.history) > p.config.HistorySize {
		p.history = p.history[:p.config.HistorySize]
	}
}

// History returns recently finished jobs, newest first
func (p *WorkerPool) History(limit int) []*SyncJob {
	p.historyMu.RLock()
	defer p.historyMu.RUnlock()

	if limit <= 0 || limit > len(p.history) {
		limit = len(p.history)
	}
	result := make([]*SyncJob, limit)
	copy(result, p.history[:limit])
	return result
}

// HistoryByIntegration returns finished jobs of one integration, newest first
func (p *WorkerPool) HistoryByIntegration(integrationID uuid.UUID, limit int) []*SyncJob {
	p.historyMu.RLock()
	defer p.historyMu.RUnlock()

	result := make([]*SyncJob, 0)
	for _, job := range p.history {
		if job.IntegrationID != integrationID {
			continue
		}
		result = append(result, job)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result
}
