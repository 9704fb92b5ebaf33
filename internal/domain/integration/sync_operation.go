package integration

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// SyncOperationType / SyncStatus / TriggerSource
// ---------------------------------------------------------------------------

// SyncOperationType is the kind of run
type SyncOperationType string

const (
	SyncTypeFull        SyncOperationType = "full_sync"
	SyncTypeIncremental SyncOperationType = "incremental_sync"
	SyncTypeWebhook     SyncOperationType = "webhook_sync"
)

// IsValid returns true if the type is valid
func (t SyncOperationType) IsValid() bool {
	switch t {
	case SyncTypeFull, SyncTypeIncremental, SyncTypeWebhook:
		return true
	default:
		return false
	}
}

// SyncStatus is the state of a SyncOperation
type SyncStatus string

const (
	SyncStatusQueued    SyncStatus = "queued"
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
	SyncStatusCancelled SyncStatus = "cancelled"
)

// IsTerminal returns true for completed, failed and cancelled
func (s SyncStatus) IsTerminal() bool {
	return s == SyncStatusCompleted || s == SyncStatusFailed || s == SyncStatusCancelled
}

// String returns the string representation of SyncStatus
func (s SyncStatus) String() string {
	return string(s)
}

// TriggerSource is what requested a run
type TriggerSource string

const (
	TriggerManual    TriggerSource = "manual"
	TriggerScheduled TriggerSource = "scheduled"
	TriggerWebhook   TriggerSource = "webhook"
)

// TriggerMetadata describes why and by whom a run was requested
type TriggerMetadata struct {
	Source      TriggerSource `json:"source"`
	RequestedBy string        `json:"requested_by,omitempty"`
	// Cursor is the incremental cursor the run started from
	Cursor string `json:"cursor,omitempty"`
	// WebhookEvent and ExternalRecordID are set for webhook runs
	WebhookEvent     WebhookEvent `json:"webhook_event,omitempty"`
	ExternalRecordID string       `json:"external_record_id,omitempty"`
}

// ---------------------------------------------------------------------------
// SyncError
// ---------------------------------------------------------------------------

// SyncError is one categorized failure. Non-fatal errors always carry the
// record they belong to.
type SyncError struct {
	RecordID   string         `json:"record_id,omitempty"`
	Kind       ErrorKind      `json:"kind"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	RetryCount int            `json:"retry_count"`
	Resolved   bool           `json:"resolved"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewSyncError builds a SyncError from an error, classifying its kind
func NewSyncError(recordID string, err error, retryCount int) SyncError {
	se := SyncError{
		RecordID:   recordID,
		Kind:       KindOf(err),
		Message:    err.Error(),
		RetryCount: retryCount,
		OccurredAt: time.Now(),
	}
	var (
		ve *ValidationError
		me *MappingError
		pe *ProviderError
	)
	if errors.As(err, &ve) {
		fields := make([]any, 0, len(ve.Errors))
		for _, fe := range ve.Errors {
			fields = append(fields, map[string]any{"field": fe.Field, "rule": fe.Rule, "message": fe.Message})
		}
		se.Details = map[string]any{"fields": fields}
	}
	if errors.As(err, &me) {
		se.Details = map[string]any{"field": me.Field}
	}
	if errors.As(err, &pe) && pe.StatusCode > 0 {
		se.Details = map[string]any{"status_code": pe.StatusCode, "operation": pe.Op}
	}
	return se
}

// ---------------------------------------------------------------------------
// SyncOperation
// ---------------------------------------------------------------------------

// SyncOperation is one synchronization run. It is created queued, moved to
// running by the orchestrator while it holds the integration's run-lock, and
// receives its terminal status exactly once.
type SyncOperation struct {
	ID                uuid.UUID
	IntegrationID     uuid.UUID
	OrganizationID    uuid.UUID
	Type              SyncOperationType
	Direction         SyncDirection
	Status            SyncStatus
	StartedAt         *time.Time
	CompletedAt       *time.Time
	RecordsProcessed  int
	RecordsSuccessful int
	RecordsFailed     int
	RecordsCreated    int
	RecordsUpdated    int
	Errors            []SyncError
	Trigger           TriggerMetadata
	FailureReason     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewSyncOperation creates a queued operation
func NewSyncOperation(integration *Integration, opType SyncOperationType, trigger TriggerMetadata) (*SyncOperation, error) {
	if !opType.IsValid() {
		return nil, ErrInvalidOperationType
	}
	direction := integration.Direction
	if opType == SyncTypeWebhook {
		direction = SyncDirectionInbound
	}
	now := time.Now()
	return &SyncOperation{
		ID:             uuid.New(),
		IntegrationID:  integration.ID,
		OrganizationID: integration.OrganizationID,
		Type:           opType,
		Direction:      direction,
		Status:         SyncStatusQueued,
		Errors:         make([]SyncError, 0),
		Trigger:        trigger,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Start moves a queued operation to running
func (o *SyncOperation) Start() error {
	if o.Status != SyncStatusQueued {
		return ErrInvalidOperationState
	}
	now := time.Now()
	o.Status = SyncStatusRunning
	o.StartedAt = &now
	o.UpdatedAt = now
	return nil
}

// RecordCreated counts a record that was created on the receiving side
func (o *SyncOperation) RecordCreated() {
	o.RecordsProcessed++
	o.RecordsSuccessful++
	o.RecordsCreated++
}

// RecordUpdated counts a record that was updated on the receiving side
func (o *SyncOperation) RecordUpdated() {
	o.RecordsProcessed++
	o.RecordsSuccessful++
	o.RecordsUpdated++
}

// RecordFailure counts a failed record and keeps its error
func (o *SyncOperation) RecordFailure(se SyncError) {
	o.RecordsProcessed++
	o.RecordsFailed++
	o.Errors = append(o.Errors, se)
}

// PageRecordPrefix marks a SyncError attributed to a whole fetched page
const PageRecordPrefix = "page:"

// RecordPageFailure keeps the error of a page that could not be fetched after
// earlier pages were processed. Record counters are unchanged since the
// page's records were never seen.
func (o *SyncOperation) RecordPageFailure(pageToken string, err error, retryCount int) {
	o.Errors = append(o.Errors, NewSyncError(PageRecordPrefix+pageToken, err, retryCount))
}

// Complete finishes the run successfully. Per-record failures do not prevent completion.
func (o *SyncOperation) Complete() error {
	return o.finish(SyncStatusCompleted, "")
}

// Fail finishes the run after a fatal error. The error is kept without a record ID.
func (o *SyncOperation) Fail(err error) error {
	if o.Status.IsTerminal() {
		return ErrOperationAlreadyTerminal
	}
	o.Errors = append(o.Errors, NewSyncError("", err, 0))
	return o.finish(SyncStatusFailed, err.Error())
}

// Cancel finishes the run after a cooperative cancellation
func (o *SyncOperation) Cancel() error {
	return o.finish(SyncStatusCancelled, "cancelled")
}

func (o *SyncOperation) finish(status SyncStatus, reason string) error {
	if o.Status.IsTerminal() {
		return ErrOperationAlreadyTerminal
	}
	now := time.Now()
	o.Status = status
	o.FailureReason = reason
	o.CompletedAt = &now
	o.UpdatedAt = now
	return nil
}

// IsTerminal returns true once the operation has finished
func (o *SyncOperation) IsTerminal() bool {
	return o.Status.IsTerminal()
}

// Duration returns the run time, zero if not started
func (o *SyncOperation) Duration() time.Duration {
	if o.StartedAt == nil {
		return 0
	}
	if o.CompletedAt == nil {
		return time.Since(*o.StartedAt)
	}
	return o.CompletedAt.Sub(*o.StartedAt)
}

// ErrorsOfKind returns errors with the given kind
func (o *SyncOperation) ErrorsOfKind(kind ErrorKind) []SyncError {
	out := make([]SyncError, 0)
	for _, e := range o.Errors {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
