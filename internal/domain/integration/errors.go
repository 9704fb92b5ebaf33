package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	// Integration errors
	ErrIntegrationNotFound      = errors.New("integration: integration not found")
	ErrInvalidConfiguration     = errors.New("integration: invalid configuration")
	ErrInvalidStatusTransition  = errors.New("integration: invalid status transition")
	ErrInvalidOrganizationID    = errors.New("integration: invalid organization ID")
	ErrSyncInProgress           = errors.New("integration: sync already in progress")
	ErrIntegrationNotSyncable   = errors.New("integration: integration is not in a syncable state")
	ErrCredentialsNotConfigured = errors.New("integration: credentials not configured")

	// Provider errors
	ErrProviderUnsupported     = errors.New("integration: provider not supported")
	ErrProviderRequestFailed   = errors.New("integration: provider request failed")
	ErrProviderUnavailable     = errors.New("integration: provider temporarily unavailable")
	ErrProviderInvalidResponse = errors.New("integration: invalid provider response")
	ErrProviderTimeout         = errors.New("integration: provider call timed out")
	ErrProviderRateLimited     = errors.New("integration: provider rate limited")

	// Credential errors
	ErrAuthFailed           = errors.New("integration: authentication failed")
	ErrCredentialKeyUnknown = errors.New("integration: unknown credential key id")

	// Sync operation errors
	ErrOperationNotFound        = errors.New("integration: sync operation not found")
	ErrOperationAlreadyTerminal = errors.New("integration: sync operation already finished")
	ErrInvalidOperationType     = errors.New("integration: invalid sync operation type")
	ErrInvalidOperationState    = errors.New("integration: invalid sync operation state transition")
	ErrOperationCancelled       = errors.New("integration: sync operation cancelled")
	ErrRunLockLost              = errors.New("integration: run-lock lease lost")

	// Mapping errors
	ErrExternalIDMappingExists   = errors.New("integration: external id mapping already exists")
	ErrExternalIDMappingNotFound = errors.New("integration: external id mapping not found")
	ErrRecordIDMissing           = errors.New("integration: record has no identifier")
	ErrUnknownTransform          = errors.New("integration: unknown transform function")
	ErrTransformFailed           = errors.New("integration: transform failed")
	ErrLossyTransform            = errors.New("integration: transform is not reversible")
	ErrNoMappingsForRecordType   = errors.New("integration: no data mappings for record type")
	ErrContractNotFound          = errors.New("integration: contract not found")

	// Webhook errors
	ErrWebhookNotEnabled         = errors.New("integration: webhook not enabled")
	ErrWebhookSignatureInvalid   = errors.New("integration: invalid webhook signature")
	ErrWebhookEventNotConfigured = errors.New("integration: webhook event not configured")
	ErrWebhookEventUnknown       = errors.New("integration: unknown webhook event")
)

// ---------------------------------------------------------------------------
// ErrorKind classifies per-record and per-call failures
// ---------------------------------------------------------------------------

// ErrorKind is the category recorded on a SyncError
type ErrorKind string

const (
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindMapping    ErrorKind = "mapping"
	ErrorKindAPI        ErrorKind = "api"
	ErrorKindNetwork    ErrorKind = "network"
	ErrorKindTimeout    ErrorKind = "timeout"
	ErrorKindAuth       ErrorKind = "auth"
)

// IsValid returns true if the kind is one of the known kinds
func (k ErrorKind) IsValid() bool {
	switch k {
	case ErrorKindValidation, ErrorKindMapping, ErrorKindAPI,
		ErrorKindNetwork, ErrorKindTimeout, ErrorKindAuth:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether failures of this kind are transient.
// Validation, mapping and auth failures are definitional and never retried.
func (k ErrorKind) IsRetryable() bool {
	switch k {
	case ErrorKindAPI, ErrorKindNetwork, ErrorKindTimeout:
		return true
	default:
		return false
	}
}

// String returns the string representation of ErrorKind
func (k ErrorKind) String() string {
	return string(k)
}

// ---------------------------------------------------------------------------
// Typed errors
// ---------------------------------------------------------------------------

// ConfigurationError reports an invalid integration setup. It is surfaced to
// the caller at creation time and is fatal when encountered during a run.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("integration: invalid configuration: %s", e.Reason)
	}
	return fmt.Sprintf("integration: invalid configuration: %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidConfiguration
func (e *ConfigurationError) Unwrap() error {
	return ErrInvalidConfiguration
}

// NewConfigurationError creates a ConfigurationError
func NewConfigurationError(field, reason string) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: reason}
}

// AuthError reports a credential or provider authentication failure
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("integration: authentication failed during %s", e.Op)
	}
	return fmt.Sprintf("integration: authentication failed during %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches ErrAuthFailed so callers do not need errors.As
func (e *AuthError) Is(target error) bool {
	return target == ErrAuthFailed
}

// MappingError reports a required field that could not be satisfied
type MappingError struct {
	Field      string
	RecordType RecordType
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("integration: required field %q is missing", e.Field)
}

// FieldError is a single validation rule failure
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError wraps every rule failure of one record
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fe.Message)
	}
	return "integration: validation failed: " + strings.Join(msgs, "; ")
}

// ProviderError is returned by adapters for failed remote calls
type ProviderError struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("integration: %s %s failed with status %d: %v", e.Kind, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("integration: %s %s failed: %v", e.Kind, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a ProviderError
func NewProviderError(kind ErrorKind, op string, statusCode int, err error) *ProviderError {
	return &ProviderError{Kind: kind, Op: op, StatusCode: statusCode, Err: err}
}

// KindOf classifies an error into an ErrorKind. Unknown errors are treated
// as api failures.
func KindOf(err error) ErrorKind {
	var (
		provErr  *ProviderError
		authErr  *AuthError
		mapErr   *MappingError
		validErr *ValidationError
	)
	switch {
	case errors.As(err, &provErr):
		return provErr.Kind
	case errors.As(err, &authErr), errors.Is(err, ErrAuthFailed), errors.Is(err, ErrCredentialKeyUnknown):
		return ErrorKindAuth
	case errors.As(err, &mapErr), errors.Is(err, ErrUnknownTransform), errors.Is(err, ErrTransformFailed),
		errors.Is(err, ErrRecordIDMissing), errors.Is(err, ErrNoMappingsForRecordType):
		return ErrorKindMapping
	case errors.As(err, &validErr):
		return ErrorKindValidation
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrProviderTimeout):
		return ErrorKindTimeout
	case errors.Is(err, ErrProviderUnavailable):
		return ErrorKindNetwork
	default:
		return ErrorKindAPI
	}
}
