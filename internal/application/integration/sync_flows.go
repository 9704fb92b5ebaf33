package integration

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/contractiq/backend/internal/infrastructure/logger"
	"github.com/contractiq/backend/internal/infrastructure/telemetry"
)

// errForeignMapping is recorded when an external ID is already linked by a
// different integration of the same provider
var errForeignMapping = fmt.Errorf("%w by another integration", integration.ErrExternalIDMappingExists)

// ---------------------------------------------------------------------------
// Inbound
// ---------------------------------------------------------------------------

// pullInbound pages through the provider's records. A failure on the first
// page is fatal; a later page failure is kept on the operation and ends the
// inbound flow without advancing the cursor.
func (o *Orchestrator) pullInbound(ctx context.Context, run *activeRun) error {
	op := run.op
	req := integration.FetchRequest{}
	if op.Type == integration.SyncTypeIncremental {
		req.Since = op.Trigger.Cursor
	}
	mappings := run.integration.MappingsFor(integration.RecordTypeContract)

	for page := 1; ; page++ {
		if run.cancelled.Load() {
			return nil
		}

		var result *integration.FetchResult
		retries, err := o.call(ctx, run, "fetch_contracts", func(ctx context.Context) error {
			res, err := run.adapter.FetchContracts(ctx, run.cfg, req)
			result = res
			return err
		})
		if err != nil {
			if page == 1 {
				return err
			}
			token := req.PageToken
			if token == "" {
				token = strconv.Itoa(page)
			}
			op.RecordPageFailure(token, err, retries)
			run.cursor = ""
			logger.WithLogger(ctx, o.logger).Warn("Fetch stopped after page failure",
				zap.Int("page", page),
				zap.Int("retries", retries),
				zap.Error(err),
			)
			return nil
		}

		for _, record := range result.Records {
			if run.cancelled.Load() {
				return nil
			}
			o.applyInbound(ctx, run, record, mappings, "#"+strconv.Itoa(op.RecordsProcessed+1))
		}
		if result.Cursor != "" {
			run.cursor = result.Cursor
		}
		if !result.HasMore() {
			return nil
		}
		req.PageToken = result.NextPageToken
	}
}

// applyWebhook applies the pushed record using the mappings of the event's
// record type. A type with no mappings is never applied with another
// type's mappings.
func (o *Orchestrator) applyWebhook(ctx context.Context, run *activeRun) {
	recordType := run.push.event.RecordType()
	mappings := run.integration.MappingsFor(recordType)
	if len(mappings) == 0 {
		err := fmt.Errorf("%w: %s", integration.ErrNoMappingsForRecordType, recordType)
		run.op.RecordFailure(integration.NewSyncError(run.push.externalID, err, 0))
		return
	}
	o.applyInbound(ctx, run, run.push.record, mappings, run.push.externalID)
}

// applyInbound maps, validates and upserts one remote record. Failures are
// recorded on the operation and never abort the run.
func (o *Orchestrator) applyInbound(ctx context.Context, run *activeRun, raw integration.Record, mappings []integration.DataMapping, fallbackRef string) {
	op := run.op
	i := run.integration

	externalID, err := raw.ExternalID()
	if err != nil {
		op.RecordFailure(integration.NewSyncError(fallbackRef, err, 0))
		return
	}
	fail := func(err error) {
		op.RecordFailure(integration.NewSyncError(externalID, err, 0))
		logger.WithLogger(ctx, o.logger).Debug("Inbound record failed",
			zap.String("external_id", externalID),
			zap.String("kind", integration.KindOf(err).String()),
			zap.Error(err),
		)
	}

	mapped, err := integration.Transform(raw, mappings, integration.MappingInbound)
	if err != nil {
		fail(err)
		return
	}
	if err := integration.Validate(mapped, mappings, integration.MappingInbound).Err(); err != nil {
		fail(err)
		return
	}

	existing, err := o.mappings.FindByExternalID(ctx, i.Provider, externalID)
	switch {
	case err == nil:
		if existing.IntegrationID != i.ID {
			fail(errForeignMapping)
			return
		}
		if err := o.contracts.Update(ctx, existing.ContractID, mapped); err != nil {
			fail(err)
			return
		}
		o.touchMapping(ctx, existing.ID)
		run.touched[existing.ContractID] = struct{}{}
		op.RecordUpdated()

	case errors.Is(err, integration.ErrExternalIDMappingNotFound):
		// contract and mapping commit together, or a retry would create a
		// second contract for the same external record
		var contractID uuid.UUID
		err := o.uow.Do(ctx, func(contracts integration.ContractStore, mappings integration.ExternalIDMappingRepository) error {
			id, err := contracts.Create(ctx, i.OrganizationID, mapped)
			if err != nil {
				return err
			}
			mapping, err := integration.NewExternalIDMapping(i.ID, id, i.Provider, externalID)
			if err != nil {
				return err
			}
			if err := mappings.Create(ctx, mapping); err != nil {
				return err
			}
			contractID = id
			return nil
		})
		if err != nil {
			fail(err)
			return
		}
		run.touched[contractID] = struct{}{}
		op.RecordCreated()

	default:
		fail(err)
	}
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

// pushOutbound sends internal contracts changed since the outbound
// watermark, or all of them for a full sync. Contracts written by this run's
// inbound flow are skipped.
//
// The next watermark is the instant the selection was taken. A record that
// failed for a reason a later run can cure holds it just below that record's
// UpdatedAt, so the record is selected again. Records rejected by mapping or
// validation do not hold it; they are picked up once edited.
func (o *Orchestrator) pushOutbound(ctx context.Context, run *activeRun) error {
	i := run.integration
	var since *time.Time
	if run.op.Type == integration.SyncTypeIncremental {
		since = i.OutboundWatermark
	}
	selectedAt := time.Now().UTC()
	changed, err := o.contracts.ChangedSince(ctx, i.OrganizationID, since)
	if err != nil {
		return fmt.Errorf("select changed contracts: %w", err)
	}

	var held *time.Time
	mappings := i.MappingsFor(integration.RecordTypeContract)
	for _, contract := range changed {
		if run.cancelled.Load() {
			return nil
		}
		if _, ok := run.touched[contract.ID]; ok {
			continue
		}
		err := o.applyOutbound(ctx, run, contract, mappings)
		if err == nil || held != nil {
			continue
		}
		switch integration.KindOf(err) {
		case integration.ErrorKindMapping, integration.ErrorKindValidation:
		default:
			// changed is ordered by UpdatedAt, so the first hold is the oldest
			mark := contract.UpdatedAt.Add(-time.Microsecond)
			held = &mark
		}
	}

	run.watermark = &selectedAt
	if held != nil && held.Before(selectedAt) {
		run.watermark = held
	}
	return nil
}

// applyOutbound pushes one contract. The failure, if any, is recorded on the
// operation and returned.
func (o *Orchestrator) applyOutbound(ctx context.Context, run *activeRun, contract *integration.ContractRecord, mappings []integration.DataMapping) error {
	op := run.op
	i := run.integration
	ref := contract.ID.String()
	fail := func(err error, retries int) error {
		op.RecordFailure(integration.NewSyncError(ref, err, retries))
		logger.WithLogger(ctx, o.logger).Debug("Outbound record failed",
			zap.String("contract_id", ref),
			zap.String("kind", integration.KindOf(err).String()),
			zap.Int("retries", retries),
			zap.Error(err),
		)
		return err
	}

	mapped, err := integration.Transform(contract.Data, mappings, integration.MappingOutbound)
	if err != nil {
		return fail(err, 0)
	}
	if err := integration.Validate(mapped, mappings, integration.MappingOutbound).Err(); err != nil {
		return fail(err, 0)
	}

	existing, err := o.mappings.FindByContract(ctx, contract.ID, i.Provider)
	switch {
	case err == nil:
		retries, err := o.call(ctx, run, "update_contract", func(ctx context.Context) error {
			_, err := run.adapter.UpdateContract(ctx, existing.ExternalID, mapped, run.cfg)
			return err
		})
		if err != nil {
			return fail(err, retries)
		}
		o.touchMapping(ctx, existing.ID)
		op.RecordUpdated()

	case errors.Is(err, integration.ErrExternalIDMappingNotFound):
		var externalID string
		retries, err := o.call(ctx, run, "create_contract", func(ctx context.Context) error {
			id, err := run.adapter.CreateContract(ctx, mapped, run.cfg)
			externalID = id
			return err
		})
		if err != nil {
			return fail(err, retries)
		}
		mapping, err := integration.NewExternalIDMapping(i.ID, contract.ID, i.Provider, externalID)
		if err != nil {
			return fail(err, retries)
		}
		if err := o.mappings.Create(ctx, mapping); err != nil {
			return fail(err, retries)
		}
		op.RecordCreated()

	default:
		return fail(err, 0)
	}
	return nil
}

func (o *Orchestrator) touchMapping(ctx context.Context, id uuid.UUID) {
	if err := o.mappings.Touch(ctx, id, time.Now()); err != nil {
		logger.WithLogger(ctx, o.logger).Warn("Failed to touch external id mapping",
			zap.String("mapping_id", id.String()),
			zap.Error(err),
		)
	}
}

// ---------------------------------------------------------------------------
// Provider calls
// ---------------------------------------------------------------------------

// call runs one adapter call behind the integration's token bucket and
// retries api, network and timeout failures with the configured backoff. It
// returns the number of retries used.
func (o *Orchestrator) call(ctx context.Context, run *activeRun, name string, fn func(context.Context) error) (int, error) {
	i := run.integration
	policy := i.Configuration.RetryConfig

	ctx, span := telemetry.StartSpan(ctx, "provider."+name,
		telemetry.WithAttribute("provider", i.Provider.String()))
	defer span.End()

	retries := 0
	for {
		if err := o.limiter.Wait(ctx, i.ID, i.Configuration.RateLimitPerMinute); err != nil {
			telemetry.RecordError(span, err)
			return retries, fmt.Errorf("rate limiter: %w", err)
		}
		err := fn(ctx)
		if err == nil {
			telemetry.SetAttributes(span, "retries", retries)
			return retries, nil
		}

		kind := integration.KindOf(err)
		if !kind.IsRetryable() || retries >= policy.MaxRetries || ctx.Err() != nil {
			telemetry.SetAttributes(span, "retries", retries, "error.kind", kind.String())
			telemetry.RecordError(span, err)
			return retries, err
		}
		retries++
		delay := policy.Delay(retries)
		o.metrics.RetryScheduled(ctx, i.Provider, kind)
		telemetry.AddEvent(ctx, "retry", "attempt", retries, "delay_ms", delay.Milliseconds())
		logger.WithLogger(ctx, o.logger).Debug("Retrying provider call",
			zap.String("call", name),
			zap.String("kind", kind.String()),
			zap.Int("attempt", retries),
			zap.Duration("delay", delay),
		)
		if serr := o.sleep(ctx, delay); serr != nil {
			return retries, fmt.Errorf("%w (retry aborted: %v)", err, serr)
		}
	}
}
