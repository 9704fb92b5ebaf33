package integration

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncOperation_StateMachine(t *testing.T) {
	i := newTestIntegration(t)

	t.Run("queued to completed", func(t *testing.T) {
		op, err := NewSyncOperation(i, SyncTypeFull, TriggerMetadata{Source: TriggerManual, RequestedBy: "alice"})
		require.NoError(t, err)
		assert.Equal(t, SyncStatusQueued, op.Status)
		assert.Equal(t, SyncDirectionBidirectional, op.Direction)

		require.NoError(t, op.Start())
		assert.Equal(t, SyncStatusRunning, op.Status)
		assert.NotNil(t, op.StartedAt)
		assert.ErrorIs(t, op.Start(), ErrInvalidOperationState)

		op.RecordCreated()
		op.RecordUpdated()
		op.RecordFailure(NewSyncError("r3", &ValidationError{Errors: []FieldError{{Field: "title", Rule: "required"}}}, 0))
		require.NoError(t, op.Complete())

		assert.Equal(t, SyncStatusCompleted, op.Status)
		assert.Equal(t, 3, op.RecordsProcessed)
		assert.Equal(t, 2, op.RecordsSuccessful)
		assert.Equal(t, 1, op.RecordsFailed)
		assert.Equal(t, 1, op.RecordsCreated)
		assert.Equal(t, 1, op.RecordsUpdated)
		assert.Len(t, op.ErrorsOfKind(ErrorKindValidation), 1)
	})

	t.Run("terminal state is set exactly once", func(t *testing.T) {
		op, _ := NewSyncOperation(i, SyncTypeIncremental, TriggerMetadata{Source: TriggerScheduled})
		require.NoError(t, op.Start())
		require.NoError(t, op.Cancel())

		assert.ErrorIs(t, op.Complete(), ErrOperationAlreadyTerminal)
		assert.ErrorIs(t, op.Fail(errors.New("boom")), ErrOperationAlreadyTerminal)
		assert.ErrorIs(t, op.Cancel(), ErrOperationAlreadyTerminal)
		assert.Equal(t, SyncStatusCancelled, op.Status)
		assert.Empty(t, op.Errors)
	})

	t.Run("fatal failure keeps an unattributed error", func(t *testing.T) {
		op, _ := NewSyncOperation(i, SyncTypeFull, TriggerMetadata{Source: TriggerManual})
		require.NoError(t, op.Start())
		require.NoError(t, op.Fail(&AuthError{Op: "decrypt", Err: ErrCredentialKeyUnknown}))

		assert.Equal(t, SyncStatusFailed, op.Status)
		require.Len(t, op.Errors, 1)
		assert.Equal(t, ErrorKindAuth, op.Errors[0].Kind)
		assert.Empty(t, op.Errors[0].RecordID)
		assert.NotEmpty(t, op.FailureReason)
	})

	t.Run("webhook runs are inbound", func(t *testing.T) {
		op, err := NewSyncOperation(i, SyncTypeWebhook, TriggerMetadata{Source: TriggerWebhook})
		require.NoError(t, err)
		assert.Equal(t, SyncDirectionInbound, op.Direction)
	})

	t.Run("invalid type", func(t *testing.T) {
		_, err := NewSyncOperation(i, "partial_sync", TriggerMetadata{})
		assert.ErrorIs(t, err, ErrInvalidOperationType)
	})
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"provider network", NewProviderError(ErrorKindNetwork, "fetch", 0, errors.New("connection refused")), ErrorKindNetwork},
		{"wrapped provider timeout", fmt.Errorf("call: %w", NewProviderError(ErrorKindTimeout, "create", 0, context.DeadlineExceeded)), ErrorKindTimeout},
		{"auth", &AuthError{Op: "decrypt"}, ErrorKindAuth},
		{"unknown key", ErrCredentialKeyUnknown, ErrorKindAuth},
		{"mapping", &MappingError{Field: "title"}, ErrorKindMapping},
		{"validation", &ValidationError{}, ErrorKindValidation},
		{"deadline", context.DeadlineExceeded, ErrorKindTimeout},
		{"unknown", errors.New("weird"), ErrorKindAPI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorKind_IsRetryable(t *testing.T) {
	assert.True(t, ErrorKindAPI.IsRetryable())
	assert.True(t, ErrorKindNetwork.IsRetryable())
	assert.True(t, ErrorKindTimeout.IsRetryable())
	assert.False(t, ErrorKindValidation.IsRetryable())
	assert.False(t, ErrorKindMapping.IsRetryable())
	assert.False(t, ErrorKindAuth.IsRetryable())
}

func TestNewSyncError_Details(t *testing.T) {
	se := NewSyncError("r1", NewProviderError(ErrorKindAPI, "update", 502, errors.New("bad gateway")), 3)
	assert.Equal(t, ErrorKindAPI, se.Kind)
	assert.Equal(t, 3, se.RetryCount)
	assert.Equal(t, 502, se.Details["status_code"])
}

func TestSyncStats_Record(t *testing.T) {
	var s SyncStats
	i := newTestIntegration(t)

	running, _ := NewSyncOperation(i, SyncTypeFull, TriggerMetadata{})
	require.NoError(t, running.Start())
	s.Record(running)
	assert.Equal(t, int64(0), s.TotalSyncs, "non-terminal operations are ignored")

	running.RecordCreated()
	running.RecordFailure(SyncError{Kind: ErrorKindAPI})
	require.NoError(t, running.Complete())
	s.Record(running)

	assert.Equal(t, int64(1), s.TotalSyncs)
	assert.Equal(t, int64(1), s.SuccessfulSyncs)
	assert.Equal(t, int64(2), s.RecordsProcessed)
	assert.Equal(t, 0.0, s.ErrorRate())
	assert.Equal(t, 0.5, s.RecordErrorRate())
}

func TestNewExternalIDMapping(t *testing.T) {
	m, err := NewExternalIDMapping(uuid.New(), uuid.New(), ProviderIronclad, "IC-1")
	require.NoError(t, err)
	assert.Equal(t, "IC-1", m.ExternalID)

	_, err = NewExternalIDMapping(uuid.New(), uuid.Nil, ProviderIronclad, "IC-1")
	assert.Error(t, err)
	_, err = NewExternalIDMapping(uuid.New(), uuid.New(), ProviderIronclad, "")
	assert.ErrorIs(t, err, ErrRecordIDMissing)
}

func TestSyncOperation_RecordPageFailure(t *testing.T) {
	op, _ := NewSyncOperation(newTestIntegration(t), SyncTypeFull, TriggerMetadata{Source: TriggerManual})
	require.NoError(t, op.Start())
	op.RecordCreated()

	op.RecordPageFailure("cursor-2", NewProviderError(ErrorKindNetwork, "fetch", 0, ErrProviderUnavailable), 3)

	assert.Equal(t, 1, op.RecordsProcessed)
	assert.Equal(t, 0, op.RecordsFailed)
	require.Len(t, op.Errors, 1)
	assert.Equal(t, "page:cursor-2", op.Errors[0].RecordID)
	assert.Equal(t, ErrorKindNetwork, op.Errors[0].Kind)
	assert.Equal(t, 3, op.Errors[0].RetryCount)
}
