package dto

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/contractiq/backend/internal/domain/shared"
	"github.com/contractiq/backend/internal/infrastructure/scheduler"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{ErrCodeInternal, http.StatusInternalServerError},
		{ErrCodeUnavailable, http.StatusServiceUnavailable},
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeConfiguration, http.StatusBadRequest},
		{ErrCodeUnauthorized, http.StatusUnauthorized},
		{ErrCodeTokenExpired, http.StatusUnauthorized},
		{ErrCodeForbidden, http.StatusForbidden},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeSyncInProgress, http.StatusConflict},
		{ErrCodeInvalidState, http.StatusUnprocessableEntity},
		{ErrCodeEntityTooLarge, http.StatusRequestEntityTooLarge},
		{ErrCodeRateLimited, http.StatusTooManyRequests},
		// Unknown code should return 500
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.code))
		})
	}
}

func TestErrorCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"integration not found", integration.ErrIntegrationNotFound, ErrCodeNotFound},
		{"wrapped operation not found", fmt.Errorf("load: %w", integration.ErrOperationNotFound), ErrCodeNotFound},
		{"run-lock held", integration.ErrSyncInProgress, ErrCodeSyncInProgress},
		{"inactive integration", integration.ErrIntegrationNotSyncable, ErrCodeInvalidState},
		{"terminal operation", integration.ErrOperationAlreadyTerminal, ErrCodeInvalidState},
		{"credentials missing", integration.ErrCredentialsNotConfigured, ErrCodeCredentialsNotSet},
		{"configuration", integration.NewConfigurationError("provider", "unrecognized provider x"), ErrCodeConfiguration},
		{"queue full", scheduler.ErrJobQueueFull, ErrCodeUnavailable},
		{"domain error", shared.ErrConflict, ErrCodeConflict},
		{"unknown", errors.New("boom"), ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := ErrorCodeFor(tt.err)
			assert.Equal(t, tt.code, code)
			assert.NotEmpty(t, msg)
		})
	}
}

func TestErrorCodeFor_DoesNotLeakInternalErrors(t *testing.T) {
	_, msg := ErrorCodeFor(errors.New("pq: password authentication failed for user postgres"))
	assert.Equal(t, "An unexpected error occurred", msg)
}

func TestNormalizeErrorCode(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, NormalizeErrorCode("NOT_FOUND"))
	assert.Equal(t, ErrCodeInvalidState, NormalizeErrorCode("INVALID_STATE"))
	assert.Equal(t, ErrCodeSyncInProgress, NormalizeErrorCode(ErrCodeSyncInProgress))
}

func TestNewValidationErrorResponse(t *testing.T) {
	resp := NewValidationErrorResponse("Request validation failed", "req-1", []ValidationDetail{
		{Field: "provider", Message: "provider is required", Tag: "required"},
	})

	body, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, false, decoded["success"])
	errInfo := decoded["error"].(map[string]any)
	assert.Equal(t, ErrCodeValidation, errInfo["code"])
	assert.Equal(t, "req-1", errInfo["request_id"])
	assert.Len(t, errInfo["details"], 1)
}

func TestNewListResponse(t *testing.T) {
	resp := NewListResponse([]string{"a", "b"}, 2, 20)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, 2, resp.Meta.Total)
	assert.Equal(t, 20, resp.Meta.Limit)
}
