package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contractiq/backend/internal/domain/integration"
)

// SyncRequester starts a scheduled run for an integration
type SyncRequester interface {
	RequestScheduledSync(ctx context.Context, integrationID uuid.UUID) error
}

// ScheduleTrigger fires scheduled syncs from each integration's SyncSchedule.
// One cron job is registered per integration, tagged with its ID.
type ScheduleTrigger struct {
	cron      *gocron.Scheduler
	requester SyncRequester
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	isRunning   bool
	expressions map[uuid.UUID]string
}

// NewScheduleTrigger creates a trigger. Schedules carry their own timezone,
// so the scheduler location only applies to expressions without one.
func NewScheduleTrigger(requester SyncRequester, logger *zap.Logger) *ScheduleTrigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	s.SingletonModeAll()

	ctx, cancel := context.WithCancel(context.Background())
	return &ScheduleTrigger{
		cron:        s,
		requester:   requester,
		logger:      logger.Named("schedule_trigger"),
		ctx:         ctx,
		cancel:      cancel,
		expressions: make(map[uuid.UUID]string),
	}
}

// Start starts firing registered schedules
func (t *ScheduleTrigger) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isRunning {
		return
	}
	t.isRunning = true
	t.cron.StartAsync()
	t.logger.Info("Schedule trigger started", zap.Int("schedules", len(t.expressions)))
}

// Stop stops the cron loop and cancels in-flight requests
func (t *ScheduleTrigger) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.isRunning {
		return
	}
	t.isRunning = false
	t.cron.Stop()
	t.cancel()
	t.logger.Info("Schedule trigger stopped")
}

// Register adds or replaces the schedule of an integration. Integrations
// without an enabled schedule are unregistered.
func (t *ScheduleTrigger) Register(i *integration.Integration) error {
	if !i.ScheduleEnabled() {
		t.Unregister(i.ID)
		return ErrScheduleNotEnabled
	}
	expr, err := i.SyncSchedule.CronExpression()
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if current, ok := t.expressions[i.ID]; ok {
		if current == expr {
			return nil
		}
		_ = t.cron.RemoveByTag(i.ID.String())
		delete(t.expressions, i.ID)
	}

	integrationID := i.ID
	if _, err := t.cron.Cron(expr).Tag(integrationID.String()).Do(func() {
		t.fire(integrationID)
	}); err != nil {
		return err
	}
	t.expressions[integrationID] = expr

	t.logger.Info("Sync schedule registered",
		zap.String("integration_id", integrationID.String()),
		zap.String("cron", expr),
	)
	return nil
}

// Unregister removes the schedule of an integration, if any
func (t *ScheduleTrigger) Unregister(integrationID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.expressions[integrationID]; !ok {
		return
	}
	_ = t.cron.RemoveByTag(integrationID.String())
	delete(t.expressions, integrationID)
	t.logger.Info("Sync schedule removed", zap.String("integration_id", integrationID.String()))
}

// Expression returns the registered cron expression of an integration
func (t *ScheduleTrigger) Expression(integrationID uuid.UUID) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	expr, ok := t.expressions[integrationID]
	return expr, ok
}

// NextRun returns when the integration's schedule fires next
func (t *ScheduleTrigger) NextRun(integrationID uuid.UUID) (time.Time, bool) {
	jobs, err := t.cron.FindJobsByTag(integrationID.String())
	if err != nil || len(jobs) == 0 {
		return time.Time{}, false
	}
	return jobs[0].NextRun(), true
}

// Len returns the number of registered schedules
func (t *ScheduleTrigger) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.expressions)
}

// Fire requests a run for an integration as if its schedule had fired
func (t *ScheduleTrigger) Fire(integrationID uuid.UUID) {
	t.fire(integrationID)
}

func (t *ScheduleTrigger) fire(integrationID uuid.UUID) {
	err := t.requester.RequestScheduledSync(t.ctx, integrationID)
	switch {
	case err == nil:
		t.logger.Debug("Scheduled sync requested", zap.String("integration_id", integrationID.String()))
	case isSkippable(err):
		t.logger.Info("Scheduled sync skipped",
			zap.String("integration_id", integrationID.String()),
			zap.String("reason", err.Error()),
		)
	default:
		t.logger.Error("Scheduled sync request failed",
			zap.String("integration_id", integrationID.String()),
			zap.Error(err),
		)
	}
}

func isSkippable(err error) bool {
	return errors.Is(err, integration.ErrSyncInProgress) ||
		errors.Is(err, integration.ErrIntegrationNotSyncable) ||
		errors.Is(err, ErrJobQueueFull)
}
