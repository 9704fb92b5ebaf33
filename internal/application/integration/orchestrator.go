package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/contractiq/backend/internal/domain/shared"
	"github.com/contractiq/backend/internal/infrastructure/logger"
	"github.com/contractiq/backend/internal/infrastructure/scheduler"
	"github.com/contractiq/backend/internal/infrastructure/telemetry"
)

// DefaultRunLockTTL bounds how long a crashed holder can block an
// integration. Live runs extend their lease well before it expires.
const DefaultRunLockTTL = 30 * time.Minute

// DefaultHistoryLimit is used when a history request carries no limit
const DefaultHistoryLimit = 20

// ErrOrchestratorNotReady is returned before a worker pool is attached
var ErrOrchestratorNotReady = errors.New("integration: sync orchestrator has no worker pool")

// cacheInvalidator drops a cached integration after the orchestrator writes it
type cacheInvalidator interface {
	Invalidate(id uuid.UUID)
}

// webhookPush is the single record a webhook run applies
type webhookPush struct {
	event      integration.WebhookEvent
	record     integration.Record
	externalID string
}

// activeRun is the in-process state of a queued or running operation. The
// operation and the fields below it are owned by the goroutine executing the
// job; other goroutines only touch the atomics.
type activeRun struct {
	operationID    uuid.UUID
	integrationID  uuid.UUID
	organizationID uuid.UUID
	provider       integration.ProviderCode
	lockToken      string
	stopLease      func()

	cancelled atomic.Bool
	claimed   atomic.Bool
	leaseLost atomic.Bool

	op          *integration.SyncOperation
	push        *webhookPush
	integration *integration.Integration
	adapter     integration.ProviderAdapter
	cfg         integration.ProviderConfig
	began       bool
	cursor      string
	watermark   *time.Time
	touched     map[uuid.UUID]struct{}
}

// Orchestrator executes sync operations. Requests take the integration's
// run-lock, persist a queued operation and hand a job to the worker pool;
// the pool calls Execute, which runs the inbound and outbound flows and
// folds the result into the integration.
type Orchestrator struct {
	integrations integration.IntegrationRepository
	operations   integration.SyncOperationRepository
	mappings     integration.ExternalIDMappingRepository
	contracts    integration.ContractStore
	uow          integration.SyncUnitOfWork
	vault        integration.CredentialVault
	providers    integration.ProviderRegistry
	lock         integration.RunLock
	limiter      RateLimiter
	events       shared.EventPublisher
	metrics      SyncMetrics
	cache        cacheInvalidator
	lockTTL      time.Duration
	leaseRenew   time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
	logger       *zap.Logger

	pool JobSubmitter

	mu     sync.Mutex
	active map[uuid.UUID]*activeRun
}

// OrchestratorConfig contains the collaborators of Orchestrator
type OrchestratorConfig struct {
	Integrations integration.IntegrationRepository
	Operations   integration.SyncOperationRepository
	Mappings     integration.ExternalIDMappingRepository
	Contracts    integration.ContractStore
	// UnitOfWork binds the contract and mapping writes of one inbound create
	UnitOfWork integration.SyncUnitOfWork
	Vault      integration.CredentialVault
	Providers  integration.ProviderRegistry
	Lock       integration.RunLock
	Limiter    RateLimiter
	Events     shared.EventPublisher
	Metrics    SyncMetrics
	// Cache is invalidated whenever a run writes an integration
	Cache   cacheInvalidator
	LockTTL time.Duration
	// LeaseRenewal is how often a running job extends its run-lock,
	// a third of LockTTL by default
	LeaseRenewal time.Duration
	// Sleep waits between retries; tests replace it to observe delays
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *zap.Logger
}

// NewOrchestrator creates an Orchestrator. AttachPool must be called before
// any run is requested.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultRunLockTTL
	}
	if cfg.LeaseRenewal <= 0 || cfg.LeaseRenewal >= cfg.LockTTL {
		cfg.LeaseRenewal = cfg.LockTTL / 3
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	return &Orchestrator{
		integrations: cfg.Integrations,
		operations:   cfg.Operations,
		mappings:     cfg.Mappings,
		contracts:    cfg.Contracts,
		uow:          cfg.UnitOfWork,
		vault:        cfg.Vault,
		providers:    cfg.Providers,
		lock:         cfg.Lock,
		limiter:      cfg.Limiter,
		events:       cfg.Events,
		metrics:      cfg.Metrics,
		cache:        cfg.Cache,
		lockTTL:      cfg.LockTTL,
		leaseRenew:   cfg.LeaseRenewal,
		sleep:        cfg.Sleep,
		logger:       cfg.Logger.Named("sync_orchestrator"),
		active:       make(map[uuid.UUID]*activeRun),
	}
}

// AttachPool sets the queue runs are submitted to. The pool executes jobs
// through the orchestrator, so it is created afterwards.
func (o *Orchestrator) AttachPool(pool JobSubmitter) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pool = pool
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// StartSync queues a run and returns the queued operation. ErrSyncInProgress
// is returned without creating an operation when the run-lock is held.
func (o *Orchestrator) StartSync(ctx context.Context, input StartSyncInput) (*integration.SyncOperation, error) {
	if input.Type == integration.SyncTypeWebhook {
		return nil, integration.ErrInvalidOperationType
	}
	op, _, err := o.start(ctx, input, nil)
	return op, err
}

// RequestScheduledSync implements scheduler.SyncRequester
func (o *Orchestrator) RequestScheduledSync(ctx context.Context, integrationID uuid.UUID) error {
	_, _, err := o.start(ctx, StartSyncInput{
		IntegrationID: integrationID,
		Source:        integration.TriggerScheduled,
		RequestedBy:   "scheduler",
	}, nil)
	return err
}

// RunWebhook applies one pushed record through a webhook_sync operation and
// waits for it. If ctx ends first the queued operation is returned and the
// run continues in the background.
func (o *Orchestrator) RunWebhook(ctx context.Context, i *integration.Integration, event integration.WebhookEvent, record integration.Record, externalID string) (*integration.SyncOperation, error) {
	queued, job, err := o.start(ctx, StartSyncInput{
		IntegrationID:  i.ID,
		OrganizationID: i.OrganizationID,
		Type:           integration.SyncTypeWebhook,
		Source:         integration.TriggerWebhook,
		RequestedBy:    "webhook",
	}, &webhookPush{event: event, record: record, externalID: externalID})
	if err != nil {
		return nil, err
	}
	if err := job.Wait(ctx); err != nil {
		return queued, nil
	}
	return o.operations.FindByID(context.WithoutCancel(ctx), queued.ID)
}

func (o *Orchestrator) start(ctx context.Context, input StartSyncInput, push *webhookPush) (*integration.SyncOperation, *scheduler.SyncJob, error) {
	o.mu.Lock()
	pool := o.pool
	o.mu.Unlock()
	if pool == nil {
		return nil, nil, ErrOrchestratorNotReady
	}

	i, err := o.integrations.FindByID(ctx, input.IntegrationID)
	if err != nil {
		return nil, nil, err
	}
	if input.OrganizationID != uuid.Nil && i.OrganizationID != input.OrganizationID {
		return nil, nil, integration.ErrIntegrationNotFound
	}
	if err := i.CanSync(); err != nil {
		o.metrics.RunRejected(ctx, i.Provider, rejectReason(err))
		return nil, nil, err
	}

	opType := input.Type
	if opType == "" {
		opType = integration.SyncTypeFull
		if i.HasSyncProgress() {
			opType = integration.SyncTypeIncremental
		}
	}
	if opType == integration.SyncTypeWebhook && push == nil {
		return nil, nil, integration.ErrInvalidOperationType
	}

	trigger := integration.TriggerMetadata{Source: input.Source, RequestedBy: input.RequestedBy}
	if trigger.Source == "" {
		trigger.Source = integration.TriggerManual
	}
	if opType == integration.SyncTypeIncremental {
		trigger.Cursor = i.SyncCursor
	}
	if push != nil {
		trigger.WebhookEvent = push.event
		trigger.ExternalRecordID = push.externalID
	}
	op, err := integration.NewSyncOperation(i, opType, trigger)
	if err != nil {
		return nil, nil, err
	}

	token, err := o.lock.TryAcquire(ctx, i.ID, o.lockTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire run-lock: %w", err)
	}
	if token == "" {
		o.metrics.RunRejected(ctx, i.Provider, rejectReason(integration.ErrSyncInProgress))
		return nil, nil, integration.ErrSyncInProgress
	}

	if err := o.operations.Save(ctx, op); err != nil {
		o.release(ctx, i.ID, token)
		return nil, nil, err
	}

	run := &activeRun{
		operationID:    op.ID,
		integrationID:  i.ID,
		organizationID: i.OrganizationID,
		provider:       i.Provider,
		lockToken:      token,
		op:             op,
		push:           push,
		touched:        make(map[uuid.UUID]struct{}),
	}
	queued := cloneOperation(op)
	o.track(run)
	run.stopLease = o.keepLease(context.WithoutCancel(ctx), run)

	job := scheduler.NewSyncJob(i.ID, op.ID, op.Type, trigger.Source)
	if err := pool.Submit(job); err != nil {
		// the job never reached a worker, so nobody else owns the run
		run.claimed.Store(true)
		_ = op.Fail(err)
		o.closeUnstarted(ctx, run)
		return nil, nil, err
	}

	logger.WithLogger(ctx, o.logger).Info("Sync operation queued",
		zap.String("integration_id", i.ID.String()),
		zap.String("sync_operation_id", op.ID.String()),
		zap.String("type", string(op.Type)),
		zap.String("trigger", string(trigger.Source)),
	)
	return queued, job, nil
}

// Cancel requests cooperative cancellation. A run in this process stops at
// the next record or page boundary. An unfinished operation no process is
// running, such as one left by a crash, is cancelled directly.
func (o *Orchestrator) Cancel(ctx context.Context, organizationID, operationID uuid.UUID) error {
	if run, ok := o.lookup(operationID); ok {
		if organizationID != uuid.Nil && run.organizationID != organizationID {
			return integration.ErrOperationNotFound
		}
		run.cancelled.Store(true)
		logger.WithLogger(ctx, o.logger).Info("Sync cancellation requested",
			zap.String("sync_operation_id", operationID.String()))
		return nil
	}

	op, err := o.operations.FindByID(ctx, operationID)
	if err != nil {
		return err
	}
	if organizationID != uuid.Nil && op.OrganizationID != organizationID {
		return integration.ErrOperationNotFound
	}
	if err := op.Cancel(); err != nil {
		return err
	}
	return o.operations.Save(ctx, op)
}

// GetOperation returns a persisted operation of an organization
func (o *Orchestrator) GetOperation(ctx context.Context, organizationID, operationID uuid.UUID) (*integration.SyncOperation, error) {
	op, err := o.operations.FindByID(ctx, operationID)
	if err != nil {
		return nil, err
	}
	if organizationID != uuid.Nil && op.OrganizationID != organizationID {
		return nil, integration.ErrOperationNotFound
	}
	return op, nil
}

// ListOperations returns an integration's operations, newest first
func (o *Orchestrator) ListOperations(ctx context.Context, organizationID, integrationID uuid.UUID, limit int) ([]*integration.SyncOperation, error) {
	i, err := o.integrations.FindByID(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if organizationID != uuid.Nil && i.OrganizationID != organizationID {
		return nil, integration.ErrIntegrationNotFound
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return o.operations.FindByIntegration(ctx, integrationID, limit)
}

// Abandon closes runs that were queued but never reached a worker, releasing
// their locks. Call it after the worker pool has stopped.
func (o *Orchestrator) Abandon(ctx context.Context) int {
	o.mu.Lock()
	runs := make([]*activeRun, 0, len(o.active))
	for _, run := range o.active {
		runs = append(runs, run)
	}
	o.mu.Unlock()

	n := 0
	for _, run := range runs {
		if !run.claimed.CompareAndSwap(false, true) {
			continue
		}
		_ = run.op.Cancel()
		o.closeUnstarted(ctx, run)
		n++
	}
	return n
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

// Execute implements scheduler.SyncExecutor. The returned error mirrors a
// fatal operation failure so the job history shows it.
func (o *Orchestrator) Execute(ctx context.Context, job *scheduler.SyncJob) (err error) {
	run, ok := o.lookup(job.OperationID)
	if !ok {
		return fmt.Errorf("%w: %s", integration.ErrOperationNotFound, job.OperationID)
	}
	if !run.claimed.CompareAndSwap(false, true) {
		return integration.ErrOperationCancelled
	}

	ctx = logger.WithIntegrationID(ctx, run.integrationID.String())
	ctx = logger.WithOperationID(ctx, run.operationID.String())
	ctx = logger.WithOrganizationID(ctx, run.organizationID.String())
	ctx, span := telemetry.StartServiceSpan(ctx, "sync_orchestrator", "run",
		telemetry.WithAttribute("integration.id", run.integrationID.String()),
		telemetry.WithAttribute("sync.operation_id", run.operationID.String()),
		telemetry.WithAttribute("sync.type", string(run.op.Type)),
		telemetry.WithAttribute("provider", run.provider.String()),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			panicErr := fmt.Errorf("sync run panicked: %v", r)
			if run.op.Status == integration.SyncStatusQueued {
				_ = run.op.Start()
			}
			_ = run.op.Fail(panicErr)
		}
		o.finalize(ctx, span, run)
		if run.op.Status == integration.SyncStatusFailed {
			err = errors.New(run.op.FailureReason)
		}
	}()

	o.run(ctx, run)
	return nil
}

// run leaves the operation in a terminal state
func (o *Orchestrator) run(ctx context.Context, run *activeRun) {
	op := run.op
	if run.leaseLost.Load() {
		_ = op.Fail(integration.ErrRunLockLost)
		return
	}
	if run.cancelled.Load() {
		_ = op.Cancel()
		return
	}

	i, err := o.integrations.FindByID(ctx, run.integrationID)
	if err != nil {
		_ = op.Fail(err)
		return
	}
	_ = op.Start()
	// the lease is kept alive from queue time; confirm it survived the wait
	if err := o.renewLease(ctx, run); err != nil {
		_ = op.Fail(err)
		return
	}
	if err := i.BeginSync(); err != nil {
		_ = op.Fail(err)
		return
	}
	if err := o.integrations.Save(ctx, i); err != nil {
		_ = op.Fail(fmt.Errorf("mark integration syncing: %w", err))
		return
	}
	run.began = true
	run.integration = i
	o.invalidate(i.ID)
	if err := o.operations.Save(ctx, op); err != nil {
		logger.WithLogger(ctx, o.logger).Warn("Failed to persist running operation", zap.Error(err))
	}

	creds, err := o.decrypt(ctx, i)
	if err != nil {
		_ = op.Fail(err)
		return
	}
	run.cfg = i.ProviderConfig(creds)
	run.adapter = o.providers.Adapter(i.Provider)

	if op.Direction.IncludesInbound() {
		if run.push != nil {
			o.applyWebhook(ctx, run)
		} else if err := o.pullInbound(ctx, run); err != nil {
			_ = op.Fail(err)
			return
		}
	}
	if !run.cancelled.Load() && op.Direction.IncludesOutbound() {
		if err := o.pushOutbound(ctx, run); err != nil {
			_ = op.Fail(err)
			return
		}
	}

	if run.leaseLost.Load() {
		_ = op.Fail(integration.ErrRunLockLost)
		return
	}
	if run.cancelled.Load() {
		_ = op.Cancel()
		return
	}
	_ = op.Complete()
}

// renewLease resets the run-lock TTL. ErrRunLockLost means another holder
// may already own the integration.
func (o *Orchestrator) renewLease(ctx context.Context, run *activeRun) error {
	ok, err := o.lock.Extend(ctx, run.integrationID, run.lockToken, o.lockTTL)
	if err != nil {
		return fmt.Errorf("extend run-lock: %w", err)
	}
	if !ok {
		return integration.ErrRunLockLost
	}
	return nil
}

// keepLease extends the run-lock from queue time until stop is called, so
// neither the wait for a worker nor a long run outlives the lease. A lost
// lease stops the run at the next record boundary; a failed extension is
// retried on the next tick.
func (o *Orchestrator) keepLease(ctx context.Context, run *activeRun) (stop func()) {
	done := make(chan struct{})
	var once sync.Once
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(o.leaseRenew)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			err := o.renewLease(ctx, run)
			switch {
			case err == nil:
			case errors.Is(err, integration.ErrRunLockLost):
				run.leaseLost.Store(true)
				run.cancelled.Store(true)
				logger.WithLogger(ctx, o.logger).Error("Run-lock lease lost, stopping run",
					zap.String("integration_id", run.integrationID.String()),
					zap.String("sync_operation_id", run.operationID.String()),
				)
				return
			default:
				logger.WithLogger(ctx, o.logger).Warn("Failed to extend run-lock",
					zap.String("integration_id", run.integrationID.String()),
					zap.Error(err),
				)
			}
		}
	}()
	return func() {
		once.Do(func() { close(done) })
		wg.Wait()
	}
}

func (o *Orchestrator) decrypt(ctx context.Context, i *integration.Integration) (integration.Credentials, error) {
	if i.Credentials.IsEmpty() {
		return integration.Credentials{}, &integration.AuthError{Op: "decrypt", Err: integration.ErrCredentialsNotConfigured}
	}
	creds, err := o.vault.Decrypt(ctx, i.ID, i.Credentials)
	if err != nil {
		var authErr *integration.AuthError
		if errors.As(err, &authErr) {
			return integration.Credentials{}, err
		}
		return integration.Credentials{}, &integration.AuthError{Op: "decrypt", Err: err}
	}
	return creds, nil
}

// finalize persists the terminal operation, folds it into the integration,
// releases the run-lock and publishes the audit event. It runs even when the
// job context was cancelled.
func (o *Orchestrator) finalize(ctx context.Context, span trace.Span, run *activeRun) {
	ctx = context.WithoutCancel(ctx)
	op := run.op
	log := logger.WithLogger(ctx, o.logger)
	if !op.IsTerminal() {
		_ = op.Fail(errors.New("sync run ended without a result"))
	}

	if run.began {
		i, err := o.integrations.FindByID(ctx, run.integrationID)
		if err != nil {
			log.Error("Failed to reload integration after run", zap.Error(err))
		} else {
			i.FinishSync(op, integration.SyncProgress{Cursor: run.cursor, OutboundWatermark: run.watermark})
			if err := o.integrations.Save(ctx, i); err != nil {
				log.Error("Failed to persist integration after run", zap.Error(err))
			}
			o.invalidate(i.ID)
			publishEvents(ctx, o.events, o.logger, i)
		}
	}
	if err := o.operations.Save(ctx, op); err != nil {
		log.Error("Failed to persist finished operation", zap.Error(err))
	}
	o.metrics.RunFinished(ctx, run.provider, op)
	run.stopLease()
	o.release(ctx, run.integrationID, run.lockToken)
	o.untrack(run.operationID)

	telemetry.SetAttributes(span,
		"sync.status", op.Status.String(),
		"sync.records_processed", op.RecordsProcessed,
		"sync.records_failed", op.RecordsFailed,
	)
	fields := []zap.Field{
		zap.String("status", op.Status.String()),
		zap.Int("records_processed", op.RecordsProcessed),
		zap.Int("records_successful", op.RecordsSuccessful),
		zap.Int("records_failed", op.RecordsFailed),
		zap.Int("records_created", op.RecordsCreated),
		zap.Int("records_updated", op.RecordsUpdated),
		zap.Duration("duration", op.Duration()),
	}
	if op.Status == integration.SyncStatusFailed {
		telemetry.RecordError(span, errors.New(op.FailureReason))
		log.Warn("Sync run failed", append(fields, zap.String("reason", op.FailureReason))...)
		return
	}
	telemetry.SetOK(span)
	log.Info("Sync run finished", fields...)
}

// closeUnstarted finishes a run that no worker executed
func (o *Orchestrator) closeUnstarted(ctx context.Context, run *activeRun) {
	ctx = context.WithoutCancel(ctx)
	if err := o.operations.Save(ctx, run.op); err != nil {
		logger.WithLogger(ctx, o.logger).Error("Failed to persist unstarted operation",
			zap.String("sync_operation_id", run.operationID.String()),
			zap.Error(err),
		)
	}
	o.metrics.RunFinished(ctx, run.provider, run.op)
	run.stopLease()
	o.release(ctx, run.integrationID, run.lockToken)
	o.untrack(run.operationID)
}

func (o *Orchestrator) release(ctx context.Context, integrationID uuid.UUID, token string) {
	if err := o.lock.Release(context.WithoutCancel(ctx), integrationID, token); err != nil {
		logger.WithLogger(ctx, o.logger).Error("Failed to release run-lock",
			zap.String("integration_id", integrationID.String()),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) invalidate(id uuid.UUID) {
	if o.cache != nil {
		o.cache.Invalidate(id)
	}
}

func (o *Orchestrator) track(run *activeRun) {
	o.mu.Lock()
	o.active[run.operationID] = run
	o.mu.Unlock()
}

func (o *Orchestrator) untrack(operationID uuid.UUID) {
	o.mu.Lock()
	delete(o.active, operationID)
	o.mu.Unlock()
}

func (o *Orchestrator) lookup(operationID uuid.UUID) (*activeRun, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	run, ok := o.active[operationID]
	return run, ok
}

// ActiveRuns returns the number of queued or running operations in this process
func (o *Orchestrator) ActiveRuns() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

func cloneOperation(op *integration.SyncOperation) *integration.SyncOperation {
	cp := *op
	cp.Errors = append([]integration.SyncError(nil), op.Errors...)
	return &cp
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, integration.ErrSyncInProgress):
		return "locked"
	case errors.Is(err, integration.ErrIntegrationNotSyncable):
		return "not_syncable"
	default:
		return "other"
	}
}
