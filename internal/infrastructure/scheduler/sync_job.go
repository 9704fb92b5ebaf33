package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/contractiq/backend/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// Sync Job Types
// ---------------------------------------------------------------------------

// SyncJobStatus represents the status of a queued sync run
type SyncJobStatus string

const (
	SyncJobStatusPending SyncJobStatus = "PENDING"
	SyncJobStatusRunning SyncJobStatus = "RUNNING"
	SyncJobStatusSuccess SyncJobStatus = "SUCCESS"
	SyncJobStatusFailed  SyncJobStatus = "FAILED"
)

// SyncJob is one run handed to the worker pool. The orchestrator has already
// taken the run-lock and created the operation when a job is submitted.
type SyncJob struct {
	ID            uuid.UUID
	IntegrationID uuid.UUID
	OperationID   uuid.UUID
	Type          integration.SyncOperationType
	Trigger       integration.TriggerSource
	Status        SyncJobStatus
	Error         string
	SubmittedAt   time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time

	mu   sync.Mutex
	done chan struct{}
}

// NewSyncJob creates a pending job for an operation
func NewSyncJob(integrationID, operationID uuid.UUID, opType integration.SyncOperationType, trigger integration.TriggerSource) *SyncJob {
	return &SyncJob{
		ID:            uuid.New(),
		IntegrationID: integrationID,
		OperationID:   operationID,
		Type:          opType,
		Trigger:       trigger,
		Status:        SyncJobStatusPending,
		SubmittedAt:   time.Now(),
		done:          make(chan struct{}),
	}
}

// Start marks the job as running
func (j *SyncJob) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	j.Status = SyncJobStatusRunning
	j.StartedAt = &now
	j.Error = ""
}

// Finish records the executor outcome and releases waiters
func (j *SyncJob) Finish(err error) {
	j.mu.Lock()
	now := time.Now()
	j.CompletedAt = &now
	if err != nil {
		j.Status = SyncJobStatusFailed
		j.Error = err.Error()
	} else {
		j.Status = SyncJobStatusSuccess
	}
	j.mu.Unlock()
	close(j.done)
}

// Snapshot returns the status and error under the job's lock
func (j *SyncJob) Snapshot() (SyncJobStatus, string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status, j.Error
}

// Done is closed once the job has finished
func (j *SyncJob) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx ends
func (j *SyncJob) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---------------------------------------------------------------------------
// SyncExecutor Interface
// ---------------------------------------------------------------------------

// SyncExecutor runs the operation a job refers to
type SyncExecutor interface {
	Execute(ctx context.Context, job *SyncJob) error
}

// SyncExecutorFunc adapts a function to SyncExecutor
type SyncExecutorFunc func(ctx context.Context, job *SyncJob) error

// Execute implements SyncExecutor
func (f SyncExecutorFunc) Execute(ctx context.Context, job *SyncJob) error {
	return f(ctx, job)
}
