// Package integration hosts the sync engine use cases: the integration
// registry, the sync orchestrator and webhook ingestion.
package integration

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/contractiq/backend/internal/infrastructure/scheduler"
)

// RateLimiter blocks until the integration may make another provider call
type RateLimiter interface {
	Wait(ctx context.Context, integrationID uuid.UUID, perMinute int) error
	Forget(integrationID uuid.UUID)
}

// KeyRotator is implemented by vaults that can re-seal credentials under
// their active key
type KeyRotator interface {
	NeedsRotation(enc *integration.EncryptedCredentials) bool
	Rotate(ctx context.Context, integrationID uuid.UUID, enc *integration.EncryptedCredentials) (*integration.EncryptedCredentials, error)
}

// JobSubmitter queues a sync job for a worker
type JobSubmitter interface {
	Submit(job *scheduler.SyncJob) error
}

// ScheduleRegistrar keeps cron registrations in step with integrations
type ScheduleRegistrar interface {
	Register(i *integration.Integration) error
	Unregister(integrationID uuid.UUID)
}

// SyncMetrics receives sync engine measurements
type SyncMetrics interface {
	RunFinished(ctx context.Context, provider integration.ProviderCode, op *integration.SyncOperation)
	RetryScheduled(ctx context.Context, provider integration.ProviderCode, kind integration.ErrorKind)
	RunRejected(ctx context.Context, provider integration.ProviderCode, reason string)
	WebhookRejected(ctx context.Context, provider integration.ProviderCode, reason string)
	WebhookAccepted(ctx context.Context, provider integration.ProviderCode, event integration.WebhookEvent)
}

type noopMetrics struct{}

func (noopMetrics) RunFinished(context.Context, integration.ProviderCode, *integration.SyncOperation) {}

func (noopMetrics) RetryScheduled(context.Context, integration.ProviderCode, integration.ErrorKind) {}

func (noopMetrics) RunRejected(context.Context, integration.ProviderCode, string) {}

func (noopMetrics) WebhookRejected(context.Context, integration.ProviderCode, string) {}

func (noopMetrics) WebhookAccepted(context.Context, integration.ProviderCode, integration.WebhookEvent) {}

type noopSchedules struct{}

func (noopSchedules) Register(*integration.Integration) error { return nil }

func (noopSchedules) Unregister(uuid.UUID) {}

// sleepCtx waits for d or until ctx is done
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
