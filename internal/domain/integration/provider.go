package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Providers
// ---------------------------------------------------------------------------

// ProviderCode identifies a CLM provider
type ProviderCode string

const (
	// ProviderDocuSign is the DocuSign e-signature platform
	ProviderDocuSign ProviderCode = "docusign"
	// ProviderIronclad is the Ironclad contract repository
	ProviderIronclad ProviderCode = "ironclad"
	// ProviderGeneric is the fallback for providers without a dedicated adapter
	ProviderGeneric ProviderCode = "generic"
)

// IsValid returns true if the provider code is recognized
func (c ProviderCode) IsValid() bool {
	switch c {
	case ProviderDocuSign, ProviderIronclad, ProviderGeneric:
		return true
	default:
		return false
	}
}

// String returns the string representation of ProviderCode
func (c ProviderCode) String() string {
	return string(c)
}

// DisplayName returns a human-readable name for the provider
func (c ProviderCode) DisplayName() string {
	switch c {
	case ProviderDocuSign:
		return "DocuSign"
	case ProviderIronclad:
		return "Ironclad"
	case ProviderGeneric:
		return "Generic CLM"
	default:
		return string(c)
	}
}

// AllProviderCodes returns every recognized provider
func AllProviderCodes() []ProviderCode {
	return []ProviderCode{ProviderDocuSign, ProviderIronclad, ProviderGeneric}
}

// ---------------------------------------------------------------------------
// Record is a loosely structured contract payload
// ---------------------------------------------------------------------------

// Record is a contract payload in either the internal or an external schema.
// Nested objects are map[string]any and addressed with dotted paths.
type Record map[string]any

// recordIDKeys are checked in order when extracting an external identifier
var recordIDKeys = []string{"id", "external_id", "envelopeId", "envelope_id"}

// ExternalID returns the provider-side identifier of a raw record
func (r Record) ExternalID() (string, error) {
	for _, key := range recordIDKeys {
		if v, ok := r[key]; ok && v != nil {
			if id := stringify(v); id != "" {
				return id, nil
			}
		}
	}
	return "", ErrRecordIDMissing
}

// Clone returns a deep copy of nested maps and slices
func (r Record) Clone() Record {
	return cloneValue(map[string]any(r)).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Record:
		return Record(cloneValue(map[string]any(t)).(map[string]any))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}

// ---------------------------------------------------------------------------
// ProviderConfig is the runtime view of an integration handed to adapters
// ---------------------------------------------------------------------------

// ProviderConfig is built by the orchestrator for the duration of one run.
// It carries decrypted credentials and must never be persisted or logged.
type ProviderConfig struct {
	IntegrationID uuid.UUID
	Provider      ProviderCode
	APIBaseURL    string
	BatchSize     int
	Timeout       time.Duration
	Credentials   Credentials
	DocuSign      *DocuSignSettings
	Ironclad      *IroncladSettings
}

// ConnectionResult is the outcome of a connection test. Adapters never return
// an error from TestConnection; failures are listed in Errors.
type ConnectionResult struct {
	Success            bool     `json:"success"`
	APIVersion         string   `json:"api_version,omitempty"`
	AvailableEndpoints []string `json:"available_endpoints"`
	Errors             []string `json:"errors"`
}

// FetchRequest selects a page of remote records
type FetchRequest struct {
	// Since is the incremental cursor from the previous run; empty for a full sync
	Since string
	// PageToken continues a multi-page fetch; empty for the first page
	PageToken string
}

// FetchResult is one page of remote records in provider order
type FetchResult struct {
	Records []Record
	// NextPageToken is empty when there are no more pages
	NextPageToken string
	// Cursor is the incremental cursor to persist after a successful run
	Cursor string
}

// HasMore returns true if another page is available
func (r *FetchResult) HasMore() bool {
	return r.NextPageToken != ""
}

// ---------------------------------------------------------------------------
// ProviderAdapter port
// ---------------------------------------------------------------------------

// ProviderAdapter speaks one provider's remote API. Every call is bounded by
// ProviderConfig.Timeout; an exceeded deadline fails with ErrorKindTimeout.
type ProviderAdapter interface {
	// Provider returns the provider code this adapter serves
	Provider() ProviderCode

	// TestConnection verifies credentials and reachability
	TestConnection(ctx context.Context, cfg ProviderConfig) ConnectionResult

	// FetchContracts returns at most cfg.BatchSize records
	FetchContracts(ctx context.Context, cfg ProviderConfig, req FetchRequest) (*FetchResult, error)

	// CreateContract creates a remote record and returns its external ID
	CreateContract(ctx context.Context, data Record, cfg ProviderConfig) (string, error)

	// UpdateContract updates a remote record and returns its external ID
	UpdateContract(ctx context.Context, externalID string, data Record, cfg ProviderConfig) (string, error)

	// DeleteContract removes a remote record
	DeleteContract(ctx context.Context, externalID string, cfg ProviderConfig) error
}

// ProviderRegistry resolves the adapter for a provider code. Unknown codes
// resolve to the generic fallback adapter.
type ProviderRegistry interface {
	Adapter(code ProviderCode) ProviderAdapter
}
