package dto

import (
	"errors"
	"net/http"

	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/contractiq/backend/internal/domain/shared"
	"github.com/contractiq/backend/internal/infrastructure/scheduler"
)

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
	// ErrCodeUnavailable is used when a dependency such as the sync queue is saturated
	ErrCodeUnavailable = "ERR_UNAVAILABLE"
)

// Validation error codes
const (
	// ErrCodeValidation is the base code for validation errors
	ErrCodeValidation = "ERR_VALIDATION"
	// ErrCodeConfiguration is used when an integration setup is invalid
	ErrCodeConfiguration = "ERR_CONFIGURATION"
)

// Authentication error codes
const (
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	ErrCodeForbidden    = "ERR_FORBIDDEN"
	ErrCodeTokenExpired = "ERR_TOKEN_EXPIRED"
	ErrCodeTokenInvalid = "ERR_TOKEN_INVALID"
)

// Resource error codes
const (
	ErrCodeNotFound = "ERR_NOT_FOUND"
	ErrCodeConflict = "ERR_CONFLICT"
	// ErrCodeSyncInProgress is returned when the integration's run-lock is held
	ErrCodeSyncInProgress = "ERR_SYNC_IN_PROGRESS"
)

// Business rule error codes
const (
	ErrCodeInvalidState      = "ERR_INVALID_STATE"
	ErrCodeCredentialsNotSet = "ERR_CREDENTIALS_NOT_SET"
)

// Input error codes
const (
	ErrCodeBadRequest     = "ERR_BAD_REQUEST"
	ErrCodeInvalidJSON    = "ERR_INVALID_JSON"
	ErrCodeEntityTooLarge = "ERR_ENTITY_TOO_LARGE"
)

// Rate limiting error codes
const (
	ErrCodeRateLimited = "ERR_RATE_LIMITED"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:     http.StatusInternalServerError,
	ErrCodeInternal:    http.StatusInternalServerError,
	ErrCodeUnavailable: http.StatusServiceUnavailable,

	ErrCodeValidation:    http.StatusBadRequest,
	ErrCodeConfiguration: http.StatusBadRequest,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,
	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeTokenInvalid: http.StatusUnauthorized,

	ErrCodeNotFound:       http.StatusNotFound,
	ErrCodeConflict:       http.StatusConflict,
	ErrCodeSyncInProgress: http.StatusConflict,

	ErrCodeInvalidState:      http.StatusUnprocessableEntity,
	ErrCodeCredentialsNotSet: http.StatusUnprocessableEntity,

	ErrCodeBadRequest:     http.StatusBadRequest,
	ErrCodeInvalidJSON:    http.StatusBadRequest,
	ErrCodeEntityTooLarge: http.StatusRequestEntityTooLarge,

	ErrCodeRateLimited: http.StatusTooManyRequests,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// errorMapping pairs a sentinel with the code and public message it maps to
type errorMapping struct {
	target  error
	code    string
	message string
}

// sentinelMappings are checked in order with errors.Is
var sentinelMappings = []errorMapping{
	{integration.ErrIntegrationNotFound, ErrCodeNotFound, "Integration not found"},
	{integration.ErrOperationNotFound, ErrCodeNotFound, "Sync operation not found"},
	{integration.ErrSyncInProgress, ErrCodeSyncInProgress, "A sync is already running for this integration"},
	{integration.ErrIntegrationNotSyncable, ErrCodeInvalidState, "Integration is not active"},
	{integration.ErrInvalidStatusTransition, ErrCodeInvalidState, "Invalid status transition"},
	{integration.ErrOperationAlreadyTerminal, ErrCodeInvalidState, "Sync operation already finished"},
	{integration.ErrInvalidOperationState, ErrCodeInvalidState, "Invalid sync operation state"},
	{integration.ErrInvalidOperationType, ErrCodeBadRequest, "Invalid sync operation type"},
	{integration.ErrInvalidOrganizationID, ErrCodeBadRequest, "Invalid organization"},
	{integration.ErrCredentialsNotConfigured, ErrCodeCredentialsNotSet, "Credentials are not configured"},
	{scheduler.ErrJobQueueFull, ErrCodeUnavailable, "Sync queue is full, retry later"},
	{scheduler.ErrSchedulerNotRunning, ErrCodeUnavailable, "Sync workers are not running"},
}

// ErrorCodeFor classifies an application error into a code and a message
// safe to return to API callers
func ErrorCodeFor(err error) (code, message string) {
	var cfgErr *integration.ConfigurationError
	if errors.As(err, &cfgErr) {
		return ErrCodeConfiguration, cfgErr.Error()
	}
	for _, m := range sentinelMappings {
		if errors.Is(err, m.target) {
			return m.code, m.message
		}
	}
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		return NormalizeErrorCode(domainErr.Code), domainErr.Message
	}
	return ErrCodeInternal, "An unexpected error occurred"
}

// LegacyErrorCodeMapping maps shared.DomainError codes to the API codes
var LegacyErrorCodeMapping = map[string]string{
	"NOT_FOUND":      ErrCodeNotFound,
	"ALREADY_EXISTS": ErrCodeConflict,
	"INVALID_INPUT":  ErrCodeBadRequest,
	"INVALID_STATE":  ErrCodeInvalidState,
	"UNAUTHORIZED":   ErrCodeUnauthorized,
	"FORBIDDEN":      ErrCodeForbidden,
	"CONFLICT":       ErrCodeConflict,
}

// NormalizeErrorCode converts a domain error code to the API format.
// Codes already in the API format or unknown are returned as-is.
func NormalizeErrorCode(code string) string {
	if newCode, ok := LegacyErrorCodeMapping[code]; ok {
		return newCode
	}
	return code
}
