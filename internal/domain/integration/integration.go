package integration

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/contractiq/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// AggregateTypeIntegration is the aggregate type used in domain events
const AggregateTypeIntegration = "Integration"

// ---------------------------------------------------------------------------
// SyncDirection
// ---------------------------------------------------------------------------

// SyncDirection is the direction records flow between the contract store and a provider
type SyncDirection string

const (
	SyncDirectionInbound       SyncDirection = "inbound"
	SyncDirectionOutbound      SyncDirection = "outbound"
	SyncDirectionBidirectional SyncDirection = "bidirectional"
)

// IsValid returns true if the direction is valid
func (d SyncDirection) IsValid() bool {
	switch d {
	case SyncDirectionInbound, SyncDirectionOutbound, SyncDirectionBidirectional:
		return true
	default:
		return false
	}
}

// IncludesInbound returns true if provider records are pulled in
func (d SyncDirection) IncludesInbound() bool {
	return d == SyncDirectionInbound || d == SyncDirectionBidirectional
}

// IncludesOutbound returns true if internal records are pushed out
func (d SyncDirection) IncludesOutbound() bool {
	return d == SyncDirectionOutbound || d == SyncDirectionBidirectional
}

// String returns the string representation of SyncDirection
func (d SyncDirection) String() string {
	return string(d)
}

// ---------------------------------------------------------------------------
// IntegrationStatus
// ---------------------------------------------------------------------------

// IntegrationStatus is the lifecycle status of an integration
type IntegrationStatus string

const (
	IntegrationStatusActive   IntegrationStatus = "active"
	IntegrationStatusInactive IntegrationStatus = "inactive"
	IntegrationStatusError    IntegrationStatus = "error"
	IntegrationStatusSyncing  IntegrationStatus = "syncing"
)

// IsValid returns true if the status is valid
func (s IntegrationStatus) IsValid() bool {
	switch s {
	case IntegrationStatusActive, IntegrationStatusInactive, IntegrationStatusError, IntegrationStatusSyncing:
		return true
	default:
		return false
	}
}

// String returns the string representation of IntegrationStatus
func (s IntegrationStatus) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// BackoffStrategy controls the delay between retries of one external call
type BackoffStrategy string

const (
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// IsValid returns true if the strategy is valid
func (b BackoffStrategy) IsValid() bool {
	return b == BackoffLinear || b == BackoffExponential
}

// Defaults applied when a field is omitted at creation
const (
	DefaultRateLimitPerMinute = 60
	DefaultBatchSize          = 100
	DefaultTimeoutSeconds     = 30
	DefaultMaxRetries         = 3
	DefaultInitialDelayMs     = 1000
	MaxBatchSize              = 1000
	MaxTimeoutSeconds         = 300
	MaxRetriesLimit           = 10
)

// RetryConfig is the per-call retry policy
type RetryConfig struct {
	MaxRetries      int             `json:"max_retries"`
	BackoffStrategy BackoffStrategy `json:"backoff_strategy"`
	InitialDelayMs  int             `json:"initial_delay_ms"`
}

// Delay returns the wait before retry number attempt (1-based).
// Linear: initial * attempt. Exponential: initial * 2^(attempt-1).
func (r RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := time.Duration(r.InitialDelayMs) * time.Millisecond
	if r.BackoffStrategy == BackoffLinear {
		return base * time.Duration(attempt)
	}
	return base * time.Duration(1<<(attempt-1))
}

// DocuSignSettings are DocuSign specific options
type DocuSignSettings struct {
	// AccountID is the DocuSign account the envelopes live in
	AccountID string `json:"account_id"`
	// EnvelopeStatus filters fetched envelopes (e.g. "completed"); empty means any
	EnvelopeStatus string `json:"envelope_status,omitempty"`
}

// IroncladSettings are Ironclad specific options
type IroncladSettings struct {
	// RecordType is the Ironclad record type synchronized, default "contract"
	RecordType string `json:"record_type,omitempty"`
}

// Configuration is the typed per-integration configuration. Provider specific
// settings hang off the shared base.
type Configuration struct {
	APIBaseURL         string            `json:"api_base_url"`
	RateLimitPerMinute int               `json:"rate_limit_per_minute"`
	BatchSize          int               `json:"batch_size"`
	TimeoutSeconds     int               `json:"timeout_seconds"`
	RetryConfig        RetryConfig       `json:"retry_config"`
	DocuSign           *DocuSignSettings `json:"docusign,omitempty"`
	Ironclad           *IroncladSettings `json:"ironclad,omitempty"`
}

// DefaultConfiguration returns the configuration used for omitted fields
func DefaultConfiguration(provider ProviderCode) Configuration {
	cfg := Configuration{
		RateLimitPerMinute: DefaultRateLimitPerMinute,
		BatchSize:          DefaultBatchSize,
		TimeoutSeconds:     DefaultTimeoutSeconds,
		RetryConfig: RetryConfig{
			MaxRetries:      DefaultMaxRetries,
			BackoffStrategy: BackoffExponential,
			InitialDelayMs:  DefaultInitialDelayMs,
		},
	}
	switch provider {
	case ProviderDocuSign:
		cfg.APIBaseURL = "https://demo.docusign.net/restapi"
	case ProviderIronclad:
		cfg.APIBaseURL = "https://ironcladapp.com/public/api/v1"
		cfg.Ironclad = &IroncladSettings{RecordType: "contract"}
	}
	return cfg
}

// MergeDefaults fills zero-valued fields from DefaultConfiguration
func (c Configuration) MergeDefaults(provider ProviderCode) Configuration {
	def := DefaultConfiguration(provider)
	if c.APIBaseURL == "" {
		c.APIBaseURL = def.APIBaseURL
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = def.RateLimitPerMinute
	}
	if c.BatchSize == 0 {
		c.BatchSize = def.BatchSize
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = def.TimeoutSeconds
	}
	if c.RetryConfig.BackoffStrategy == "" {
		c.RetryConfig.BackoffStrategy = def.RetryConfig.BackoffStrategy
	}
	if c.RetryConfig.MaxRetries == 0 && c.RetryConfig.InitialDelayMs == 0 {
		c.RetryConfig.MaxRetries = def.RetryConfig.MaxRetries
		c.RetryConfig.InitialDelayMs = def.RetryConfig.InitialDelayMs
	}
	if c.Ironclad == nil {
		c.Ironclad = def.Ironclad
	} else if c.Ironclad.RecordType == "" {
		c.Ironclad.RecordType = "contract"
	}
	return c
}

// Validate validates the configuration for the given provider
func (c Configuration) Validate(provider ProviderCode) error {
	if c.APIBaseURL != "" {
		u, err := url.Parse(c.APIBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return NewConfigurationError("configuration.api_base_url", "must be an absolute URL")
		}
	} else if provider != ProviderGeneric {
		return NewConfigurationError("configuration.api_base_url", "required")
	}
	if c.RateLimitPerMinute < 1 {
		return NewConfigurationError("configuration.rate_limit_per_minute", "must be at least 1")
	}
	if c.BatchSize < 1 || c.BatchSize > MaxBatchSize {
		return NewConfigurationError("configuration.batch_size", fmt.Sprintf("must be between 1 and %d", MaxBatchSize))
	}
	if c.TimeoutSeconds < 1 || c.TimeoutSeconds > MaxTimeoutSeconds {
		return NewConfigurationError("configuration.timeout_seconds", fmt.Sprintf("must be between 1 and %d", MaxTimeoutSeconds))
	}
	if c.RetryConfig.MaxRetries < 0 || c.RetryConfig.MaxRetries > MaxRetriesLimit {
		return NewConfigurationError("configuration.retry_config.max_retries", fmt.Sprintf("must be between 0 and %d", MaxRetriesLimit))
	}
	if !c.RetryConfig.BackoffStrategy.IsValid() {
		return NewConfigurationError("configuration.retry_config.backoff_strategy", "must be linear or exponential")
	}
	if c.RetryConfig.InitialDelayMs < 0 {
		return NewConfigurationError("configuration.retry_config.initial_delay_ms", "must not be negative")
	}
	if provider == ProviderDocuSign && (c.DocuSign == nil || c.DocuSign.AccountID == "") {
		return NewConfigurationError("configuration.docusign.account_id", "required for docusign")
	}
	return nil
}

// Timeout returns TimeoutSeconds as a duration
func (c Configuration) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ---------------------------------------------------------------------------
// SyncSchedule
// ---------------------------------------------------------------------------

// SyncFrequency is how often a scheduled sync runs
type SyncFrequency string

const (
	SyncFrequencyHourly SyncFrequency = "hourly"
	SyncFrequencyDaily  SyncFrequency = "daily"
	SyncFrequencyWeekly SyncFrequency = "weekly"
)

// IsValid returns true if the frequency is valid
func (f SyncFrequency) IsValid() bool {
	switch f {
	case SyncFrequencyHourly, SyncFrequencyDaily, SyncFrequencyWeekly:
		return true
	default:
		return false
	}
}

// SyncSchedule configures automatic syncs
type SyncSchedule struct {
	Enabled   bool          `json:"enabled"`
	Frequency SyncFrequency `json:"frequency"`
	// TimeOfDay is "HH:MM" in Timezone; for hourly only the minute is used
	TimeOfDay string `json:"time_of_day,omitempty"`
	Timezone  string `json:"timezone"`
}

// Validate validates the schedule
func (s *SyncSchedule) Validate() error {
	if s == nil {
		return nil
	}
	if !s.Frequency.IsValid() {
		return NewConfigurationError("sync_schedule.frequency", "must be hourly, daily or weekly")
	}
	if _, _, err := s.clock(); err != nil {
		return NewConfigurationError("sync_schedule.time_of_day", err.Error())
	}
	if _, err := s.Location(); err != nil {
		return NewConfigurationError("sync_schedule.timezone", err.Error())
	}
	return nil
}

// Location resolves Timezone, defaulting to UTC
func (s *SyncSchedule) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

func (s *SyncSchedule) clock() (hour, minute int, err error) {
	if s.TimeOfDay == "" {
		return 0, 0, nil
	}
	parts := strings.Split(s.TimeOfDay, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("must be HH:MM")
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour")
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute")
	}
	return hour, minute, nil
}

// CronExpression returns a standard five-field cron expression prefixed with
// the schedule's timezone. Weekly schedules run on Mondays.
func (s *SyncSchedule) CronExpression() (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	hour, minute, _ := s.clock()
	tz := s.Timezone
	if tz == "" {
		tz = "UTC"
	}
	var expr string
	switch s.Frequency {
	case SyncFrequencyHourly:
		expr = fmt.Sprintf("%d * * * *", minute)
	case SyncFrequencyDaily:
		expr = fmt.Sprintf("%d %d * * *", minute, hour)
	case SyncFrequencyWeekly:
		expr = fmt.Sprintf("%d %d * * 1", minute, hour)
	}
	return "CRON_TZ=" + tz + " " + expr, nil
}

// ---------------------------------------------------------------------------
// Integration Aggregate Root
// ---------------------------------------------------------------------------

// Integration is the aggregate root for one organization's connection to a CLM provider
type Integration struct {
	shared.BaseAggregateRoot
	// OrganizationID owns the integration and its contracts
	OrganizationID uuid.UUID
	// Name is a display label
	Name string
	// Provider selects the adapter
	Provider ProviderCode
	// Direction controls which flows a run performs
	Direction SyncDirection
	// Status is the lifecycle status
	Status IntegrationStatus
	// Configuration is the validated typed configuration
	Configuration Configuration
	// DataMappings is the ordered field mapping list
	DataMappings []DataMapping
	// WebhookConfig is optional push configuration
	WebhookConfig *WebhookConfig
	// SyncSchedule is optional automatic sync configuration
	SyncSchedule *SyncSchedule
	// Credentials is the encrypted credential blob, nil until set
	Credentials *EncryptedCredentials
	// Stats accumulates over all runs
	Stats SyncStats
	// LastSyncAt is when the last run finished, whatever its outcome
	LastSyncAt *time.Time
	// SyncCursor is the incremental cursor returned by the provider on the last completed run
	SyncCursor string
	// OutboundWatermark bounds incremental outbound selection: contracts
	// changed after it are pushed. It moves only on completed runs.
	OutboundWatermark *time.Time
	// LastError is the failure reason of the last fatal run
	LastError string
}

// NewIntegrationInput holds the fields for creating an integration
type NewIntegrationInput struct {
	OrganizationID uuid.UUID
	Name           string
	Provider       ProviderCode
	Direction      SyncDirection
	Configuration  Configuration
	DataMappings   []DataMapping
	WebhookConfig  *WebhookConfig
	SyncSchedule   *SyncSchedule
}

// NewIntegration creates an inactive integration with defaults merged in
func NewIntegration(in NewIntegrationInput) (*Integration, error) {
	if in.OrganizationID == uuid.Nil {
		return nil, ErrInvalidOrganizationID
	}
	if !in.Provider.IsValid() {
		return nil, NewConfigurationError("provider", "unrecognized provider "+string(in.Provider))
	}
	if in.Direction == "" {
		in.Direction = SyncDirectionInbound
	}
	mappings := in.DataMappings
	if len(mappings) == 0 {
		mappings = DefaultDataMappings(in.Provider)
	}
	name := in.Name
	if name == "" {
		name = in.Provider.DisplayName()
	}

	i := &Integration{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		OrganizationID:    in.OrganizationID,
		Name:              name,
		Provider:          in.Provider,
		Direction:         in.Direction,
		Status:            IntegrationStatusInactive,
		Configuration:     in.Configuration.MergeDefaults(in.Provider),
		DataMappings:      mappings,
		WebhookConfig:     in.WebhookConfig,
		SyncSchedule:      in.SyncSchedule,
	}
	if err := i.Validate(); err != nil {
		return nil, err
	}

	i.AddDomainEvent(NewIntegrationCreatedEvent(i))
	return i, nil
}

// Validate checks the whole aggregate for consistency
func (i *Integration) Validate() error {
	if !i.Provider.IsValid() {
		return NewConfigurationError("provider", "unrecognized provider "+string(i.Provider))
	}
	if !i.Direction.IsValid() {
		return NewConfigurationError("sync_direction", "must be inbound, outbound or bidirectional")
	}
	if err := i.Configuration.Validate(i.Provider); err != nil {
		return err
	}
	for idx, m := range i.DataMappings {
		if err := m.Validate(); err != nil {
			return NewConfigurationError(fmt.Sprintf("data_mappings[%d]", idx), err.Error())
		}
	}
	if err := i.WebhookConfig.Validate(); err != nil {
		return err
	}
	// Webhooks push provider records in; an outbound-only integration cannot consume them.
	if i.WebhookConfig != nil && len(i.WebhookConfig.Events) > 0 && !i.Direction.IncludesInbound() {
		return NewConfigurationError("sync_direction", "webhook events require inbound or bidirectional sync")
	}
	return i.SyncSchedule.Validate()
}

// ChangeStatus moves the integration to active, inactive or error.
// Syncing is only entered through BeginSync.
func (i *Integration) ChangeStatus(to IntegrationStatus, reason string) error {
	if !to.IsValid() || to == IntegrationStatusSyncing {
		return ErrInvalidStatusTransition
	}
	if i.Status == to {
		return nil
	}
	from := i.Status
	i.Status = to
	if to == IntegrationStatusError {
		i.LastError = reason
	}
	i.Touch()
	i.IncrementVersion()
	i.AddDomainEvent(NewIntegrationStatusChangedEvent(i, from, to, reason))
	return nil
}

// CanSync returns nil if a run may start
func (i *Integration) CanSync() error {
	switch i.Status {
	case IntegrationStatusActive, IntegrationStatusError:
		return nil
	case IntegrationStatusSyncing:
		return ErrSyncInProgress
	default:
		return ErrIntegrationNotSyncable
	}
}

// HasSyncProgress reports whether every flow of the direction has progress
// an incremental run can continue from
func (i *Integration) HasSyncProgress() bool {
	if i.Direction.IncludesInbound() && i.SyncCursor == "" {
		return false
	}
	if i.Direction.IncludesOutbound() && i.OutboundWatermark == nil {
		return false
	}
	return true
}

// BeginSync marks the integration as syncing. The caller must hold the run-lock.
func (i *Integration) BeginSync() error {
	if err := i.CanSync(); err != nil {
		return err
	}
	i.Status = IntegrationStatusSyncing
	i.Touch()
	return nil
}

// SyncProgress is what a run reached, carried into the next incremental run
type SyncProgress struct {
	// Cursor is the provider cursor after the last inbound page
	Cursor string
	// OutboundWatermark is the instant the next outbound selection starts from
	OutboundWatermark *time.Time
}

// FinishSync folds a terminal operation into the aggregate. Progress is
// applied only when the operation completed; failed and cancelled runs leave
// the cursor and watermark where they were so nothing is skipped.
func (i *Integration) FinishSync(op *SyncOperation, progress SyncProgress) {
	i.Stats.Record(op)
	now := time.Now()
	i.LastSyncAt = &now
	switch op.Status {
	case SyncStatusFailed:
		i.Status = IntegrationStatusError
		i.LastError = op.FailureReason
	default:
		i.Status = IntegrationStatusActive
		i.LastError = ""
	}
	if op.Status == SyncStatusCompleted {
		if progress.Cursor != "" {
			i.SyncCursor = progress.Cursor
		}
		if progress.OutboundWatermark != nil {
			mark := progress.OutboundWatermark.UTC()
			i.OutboundWatermark = &mark
		}
	}
	i.Touch()
	i.IncrementVersion()
	i.AddDomainEvent(NewSyncFinishedEvent(i, op))
}

// ResetStaleSync returns a syncing integration left behind by a crashed process to active
func (i *Integration) ResetStaleSync() bool {
	if i.Status != IntegrationStatusSyncing {
		return false
	}
	i.Status = IntegrationStatusActive
	i.Touch()
	return true
}

// SetCredentials stores a new encrypted credential blob
func (i *Integration) SetCredentials(enc *EncryptedCredentials) {
	i.Credentials = enc
	i.Touch()
	i.IncrementVersion()
	i.AddDomainEvent(NewCredentialsRotatedEvent(i, enc.KeyID))
}

// WebhookEnabled returns true if inbound pushes are accepted
func (i *Integration) WebhookEnabled() bool {
	return i.WebhookConfig != nil && i.WebhookConfig.Enabled
}

// ScheduleEnabled returns true if automatic syncs are configured
func (i *Integration) ScheduleEnabled() bool {
	return i.SyncSchedule != nil && i.SyncSchedule.Enabled
}

// MappingsFor returns the mappings that apply to a record type
func (i *Integration) MappingsFor(recordType RecordType) []DataMapping {
	return MappingsFor(i.DataMappings, recordType)
}

// ProviderConfig builds the runtime adapter configuration with decrypted credentials
func (i *Integration) ProviderConfig(creds Credentials) ProviderConfig {
	return ProviderConfig{
		IntegrationID: i.ID,
		Provider:      i.Provider,
		APIBaseURL:    i.Configuration.APIBaseURL,
		BatchSize:     i.Configuration.BatchSize,
		Timeout:       i.Configuration.Timeout(),
		Credentials:   creds,
		DocuSign:      i.Configuration.DocuSign,
		Ironclad:      i.Configuration.Ironclad,
	}
}
