package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/contractiq/backend/internal/domain/integration"
)

// SyncMetrics records sync engine instruments.
type SyncMetrics struct {
	runs             *Counter
	runDuration      *Histogram
	records          *Counter
	recordErrors     *Counter
	retries          *Counter
	rejectedRuns     *Counter
	webhookRejected  *Counter
	webhookDelivered *Counter
}

// NewSyncMetrics creates the instruments on meter.
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	var (
		m   SyncMetrics
		err error
	)
	if m.runs, err = NewCounter(meter, "clm_sync_runs_total", "Finished sync runs", "{run}"); err != nil {
		return nil, err
	}
	if m.runDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "clm_sync_run_duration_seconds",
		Description: "Wall time of finished sync runs",
		Unit:        "s",
		Boundaries:  SyncDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.records, err = NewCounter(meter, "clm_sync_records_total", "Records processed by sync runs", "{record}"); err != nil {
		return nil, err
	}
	if m.recordErrors, err = NewCounter(meter, "clm_sync_record_errors_total", "Per-record sync failures by kind", "{error}"); err != nil {
		return nil, err
	}
	if m.retries, err = NewCounter(meter, "clm_provider_retries_total", "Retried provider calls", "{retry}"); err != nil {
		return nil, err
	}
	if m.rejectedRuns, err = NewCounter(meter, "clm_sync_runs_rejected_total", "Sync requests rejected before a run started", "{request}"); err != nil {
		return nil, err
	}
	if m.webhookRejected, err = NewCounter(meter, "clm_webhook_rejected_total", "Webhook deliveries rejected by a gate", "{delivery}"); err != nil {
		return nil, err
	}
	if m.webhookDelivered, err = NewCounter(meter, "clm_webhook_accepted_total", "Webhook deliveries accepted", "{delivery}"); err != nil {
		return nil, err
	}
	return &m, nil
}

// RunFinished records a terminal operation.
func (m *SyncMetrics) RunFinished(ctx context.Context, provider integration.ProviderCode, op *integration.SyncOperation) {
	base := []attribute.KeyValue{
		AttrProvider.String(provider.String()),
		AttrSyncType.String(string(op.Type)),
	}
	m.runs.Inc(ctx, append(base,
		AttrSyncStatus.String(op.Status.String()),
		AttrTrigger.String(string(op.Trigger.Source)),
	)...)
	m.runDuration.RecordDuration(ctx, op.Duration(), append(base, AttrSyncStatus.String(op.Status.String()))...)

	dir := AttrDirection.String(op.Direction.String())
	m.records.Add(ctx, int64(op.RecordsCreated), append(base, dir, AttrRecordOutcome.String("created"))...)
	m.records.Add(ctx, int64(op.RecordsUpdated), append(base, dir, AttrRecordOutcome.String("updated"))...)
	m.records.Add(ctx, int64(op.RecordsFailed), append(base, dir, AttrRecordOutcome.String("failed"))...)

	for _, se := range op.Errors {
		if se.RecordID == "" {
			continue
		}
		m.recordErrors.Inc(ctx, AttrProvider.String(provider.String()), AttrErrorKind.String(se.Kind.String()))
	}
}

// RetryScheduled records one retried provider call.
func (m *SyncMetrics) RetryScheduled(ctx context.Context, provider integration.ProviderCode, kind integration.ErrorKind) {
	m.retries.Inc(ctx, AttrProvider.String(provider.String()), AttrErrorKind.String(kind.String()))
}

// RunRejected records a request refused before an operation existed.
func (m *SyncMetrics) RunRejected(ctx context.Context, provider integration.ProviderCode, reason string) {
	m.rejectedRuns.Inc(ctx, AttrProvider.String(provider.String()), AttrReason.String(reason))
}

// WebhookRejected records a delivery that failed a gate.
func (m *SyncMetrics) WebhookRejected(ctx context.Context, provider integration.ProviderCode, reason string) {
	m.webhookRejected.Inc(ctx, AttrProvider.String(provider.String()), AttrReason.String(reason))
}

// WebhookAccepted records a delivery that passed every gate.
func (m *SyncMetrics) WebhookAccepted(ctx context.Context, provider integration.ProviderCode, event integration.WebhookEvent) {
	m.webhookDelivered.Inc(ctx, AttrProvider.String(provider.String()), attribute.String("event", event.String()))
}
