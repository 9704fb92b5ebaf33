package integration

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/contractiq/backend/internal/domain/shared"
	"github.com/contractiq/backend/internal/infrastructure/cache"
	"github.com/contractiq/backend/internal/infrastructure/scheduler"
	"github.com/contractiq/backend/internal/infrastructure/vault"
)

// ---------------------------------------------------------------------------
// Repositories
// ---------------------------------------------------------------------------

type memIntegrations struct {
	mu    sync.Mutex
	items map[uuid.UUID]integration.Integration
	saves int
}

func newMemIntegrations() *memIntegrations {
	return &memIntegrations{items: make(map[uuid.UUID]integration.Integration)}
}

func (r *memIntegrations) FindByID(_ context.Context, id uuid.UUID) (*integration.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.items[id]
	if !ok {
		return nil, integration.ErrIntegrationNotFound
	}
	return &i, nil
}

func (r *memIntegrations) FindActive(_ context.Context) ([]*integration.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*integration.Integration, 0)
	for _, i := range r.items {
		if i.Status != integration.IntegrationStatusInactive {
			cp := i
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memIntegrations) FindByOrganization(_ context.Context, organizationID uuid.UUID) ([]*integration.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*integration.Integration, 0)
	for _, i := range r.items {
		if i.OrganizationID == organizationID {
			cp := i
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memIntegrations) Save(_ context.Context, i *integration.Integration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *i
	cp.ClearDomainEvents()
	r.items[i.ID] = cp
	r.saves++
	return nil
}

func (r *memIntegrations) get(t *testing.T, id uuid.UUID) *integration.Integration {
	t.Helper()
	i, err := r.FindByID(context.Background(), id)
	require.NoError(t, err)
	return i
}

type memOperations struct {
	mu    sync.Mutex
	items map[uuid.UUID]integration.SyncOperation
}

func newMemOperations() *memOperations {
	return &memOperations{items: make(map[uuid.UUID]integration.SyncOperation)}
}

func (r *memOperations) FindByID(_ context.Context, id uuid.UUID) (*integration.SyncOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.items[id]
	if !ok {
		return nil, integration.ErrOperationNotFound
	}
	op.Errors = append([]integration.SyncError(nil), op.Errors...)
	return &op, nil
}

func (r *memOperations) FindByIntegration(_ context.Context, integrationID uuid.UUID, limit int) ([]*integration.SyncOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*integration.SyncOperation, 0)
	for _, op := range r.items {
		if op.IntegrationID == integrationID {
			cp := op
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memOperations) Save(_ context.Context, op *integration.SyncOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *op
	cp.Errors = append([]integration.SyncError(nil), op.Errors...)
	r.items[op.ID] = cp
	return nil
}

func (r *memOperations) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

type memMappings struct {
	mu        sync.Mutex
	items     map[uuid.UUID]*integration.ExternalIDMapping
	createErr error // returned by the next Create only
}

func newMemMappings() *memMappings {
	return &memMappings{items: make(map[uuid.UUID]*integration.ExternalIDMapping)}
}

func (r *memMappings) FindByContract(_ context.Context, contractID uuid.UUID, provider integration.ProviderCode) (*integration.ExternalIDMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.items {
		if m.ContractID == contractID && m.Provider == provider {
			cp := *m
			return &cp, nil
		}
	}
	return nil, integration.ErrExternalIDMappingNotFound
}

func (r *memMappings) FindByExternalID(_ context.Context, provider integration.ProviderCode, externalID string) (*integration.ExternalIDMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.items {
		if m.ExternalID == externalID && m.Provider == provider {
			cp := *m
			return &cp, nil
		}
	}
	return nil, integration.ErrExternalIDMappingNotFound
}

func (r *memMappings) Create(_ context.Context, mapping *integration.ExternalIDMapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.createErr; err != nil {
		r.createErr = nil
		return err
	}
	for _, m := range r.items {
		if m.Provider == mapping.Provider &&
			(m.ContractID == mapping.ContractID || m.ExternalID == mapping.ExternalID) {
			return integration.ErrExternalIDMappingExists
		}
	}
	cp := *mapping
	r.items[mapping.ID] = &cp
	return nil
}

func (r *memMappings) Touch(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.items[id]; ok {
		m.LastSyncedAt = at
	}
	return nil
}

func (r *memMappings) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

type memContracts struct {
	mu    sync.Mutex
	items map[uuid.UUID]*integration.ContractRecord
}

func newMemContracts() *memContracts {
	return &memContracts{items: make(map[uuid.UUID]*integration.ContractRecord)}
}

func (s *memContracts) Get(_ context.Context, id uuid.UUID) (*integration.ContractRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok {
		return nil, integration.ErrContractNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memContracts) Create(_ context.Context, organizationID uuid.UUID, data integration.Record) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.items[id] = &integration.ContractRecord{ID: id, OrganizationID: organizationID, Data: data.Clone(), UpdatedAt: time.Now()}
	return id, nil
}

func (s *memContracts) Update(_ context.Context, id uuid.UUID, data integration.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok {
		return integration.ErrContractNotFound
	}
	c.Data = data.Clone()
	c.UpdatedAt = time.Now()
	return nil
}

func (s *memContracts) ChangedSince(_ context.Context, organizationID uuid.UUID, since *time.Time) ([]*integration.ContractRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*integration.ContractRecord, 0)
	for _, c := range s.items {
		if c.OrganizationID != organizationID {
			continue
		}
		if since != nil && !c.UpdatedAt.After(*since) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	return out, nil
}

func (s *memContracts) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// memUnitOfWork undoes the creates of a failed Do
type memUnitOfWork struct {
	contracts *memContracts
	mappings  *memMappings
}

type txContracts struct {
	*memContracts
	created []uuid.UUID
}

func (c *txContracts) Create(ctx context.Context, organizationID uuid.UUID, data integration.Record) (uuid.UUID, error) {
	id, err := c.memContracts.Create(ctx, organizationID, data)
	if err == nil {
		c.created = append(c.created, id)
	}
	return id, err
}

type txMappings struct {
	*memMappings
	created []uuid.UUID
}

func (m *txMappings) Create(ctx context.Context, mapping *integration.ExternalIDMapping) error {
	err := m.memMappings.Create(ctx, mapping)
	if err == nil {
		m.created = append(m.created, mapping.ID)
	}
	return err
}

func (u *memUnitOfWork) Do(_ context.Context, fn func(integration.ContractStore, integration.ExternalIDMappingRepository) error) error {
	contracts := &txContracts{memContracts: u.contracts}
	mappings := &txMappings{memMappings: u.mappings}
	err := fn(contracts, mappings)
	if err == nil {
		return nil
	}
	u.contracts.mu.Lock()
	for _, id := range contracts.created {
		delete(u.contracts.items, id)
	}
	u.contracts.mu.Unlock()
	u.mappings.mu.Lock()
	for _, id := range mappings.created {
		delete(u.mappings.items, id)
	}
	u.mappings.mu.Unlock()
	return err
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

type fakeAdapter struct {
	mu sync.Mutex

	pages      [][]integration.Record
	cursor     string
	fetchErrs  map[int]error // by page index, returned every time
	updateErr  error
	createErr  error
	nextRemote int

	fetchCalls  int
	updateCalls int
	created     []integration.Record
	updated     map[string]integration.Record
	lastSince   string
	onFetch     func()
	onCreate    func(data integration.Record)
}

func (a *fakeAdapter) Provider() integration.ProviderCode { return integration.ProviderGeneric }

func (a *fakeAdapter) TestConnection(_ context.Context, cfg integration.ProviderConfig) integration.ConnectionResult {
	if cfg.Credentials.APIKey == "" {
		return integration.ConnectionResult{AvailableEndpoints: []string{}, Errors: []string{"missing api key"}}
	}
	return integration.ConnectionResult{Success: true, APIVersion: "v1", AvailableEndpoints: []string{"/contracts"}, Errors: []string{}}
}

func (a *fakeAdapter) FetchContracts(_ context.Context, _ integration.ProviderConfig, req integration.FetchRequest) (*integration.FetchResult, error) {
	a.mu.Lock()
	a.fetchCalls++
	a.lastSince = req.Since
	hook := a.onFetch
	a.mu.Unlock()
	if hook != nil {
		hook()
	}

	page := 0
	if req.PageToken != "" {
		page = int(req.PageToken[0] - '0')
	}
	if err := a.fetchErrs[page]; err != nil {
		return nil, err
	}
	res := &integration.FetchResult{Cursor: a.cursor}
	if page < len(a.pages) {
		for _, r := range a.pages[page] {
			res.Records = append(res.Records, r.Clone())
		}
	}
	if page+1 < len(a.pages) {
		res.NextPageToken = string(rune('0' + page + 1))
	}
	return res, nil
}

func (a *fakeAdapter) CreateContract(_ context.Context, data integration.Record, _ integration.ProviderConfig) (string, error) {
	a.mu.Lock()
	hook := a.onCreate
	a.mu.Unlock()
	if hook != nil {
		hook(data)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.createErr != nil {
		return "", a.createErr
	}
	a.nextRemote++
	a.created = append(a.created, data)
	return "remote-" + string(rune('a'+a.nextRemote-1)), nil
}

func (a *fakeAdapter) UpdateContract(_ context.Context, externalID string, data integration.Record, _ integration.ProviderConfig) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.updateCalls++
	if a.updateErr != nil {
		return "", a.updateErr
	}
	if a.updated == nil {
		a.updated = make(map[string]integration.Record)
	}
	a.updated[externalID] = data
	return externalID, nil
}

func (a *fakeAdapter) DeleteContract(context.Context, string, integration.ProviderConfig) error {
	return nil
}

type fakeProviders struct {
	adapter integration.ProviderAdapter
}

func (p fakeProviders) Adapter(integration.ProviderCode) integration.ProviderAdapter { return p.adapter }

// ---------------------------------------------------------------------------
// Runtime collaborators
// ---------------------------------------------------------------------------

type unlimited struct {
	mu        sync.Mutex
	forgotten []uuid.UUID
}

func (*unlimited) Wait(ctx context.Context, _ uuid.UUID, _ int) error { return ctx.Err() }

func (l *unlimited) Forget(id uuid.UUID) {
	l.mu.Lock()
	l.forgotten = append(l.forgotten, id)
	l.mu.Unlock()
}

// inlinePool executes jobs synchronously inside Submit
type inlinePool struct {
	executor scheduler.SyncExecutor
}

func (p *inlinePool) Submit(job *scheduler.SyncJob) error {
	job.Start()
	job.Finish(p.executor.Execute(context.Background(), job))
	return nil
}

// heldPool keeps jobs until the test runs them
type heldPool struct {
	mu   sync.Mutex
	jobs []*scheduler.SyncJob
}

func (p *heldPool) Submit(job *scheduler.SyncJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return nil
}

func (p *heldPool) runAll(executor scheduler.SyncExecutor) {
	p.mu.Lock()
	jobs := p.jobs
	p.jobs = nil
	p.mu.Unlock()
	for _, job := range jobs {
		job.Start()
		job.Finish(executor.Execute(context.Background(), job))
	}
}

type failingPool struct{ err error }

func (p failingPool) Submit(*scheduler.SyncJob) error { return p.err }

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

type recordingMetrics struct {
	noopMetrics
	mu       sync.Mutex
	rejected []string
	webhook  []string
	retries  int
	finished int
}

func (m *recordingMetrics) RunFinished(context.Context, integration.ProviderCode, *integration.SyncOperation) {
	m.mu.Lock()
	m.finished++
	m.mu.Unlock()
}

func (m *recordingMetrics) RetryScheduled(context.Context, integration.ProviderCode, integration.ErrorKind) {
	m.mu.Lock()
	m.retries++
	m.mu.Unlock()
}

func (m *recordingMetrics) RunRejected(_ context.Context, _ integration.ProviderCode, reason string) {
	m.mu.Lock()
	m.rejected = append(m.rejected, reason)
	m.mu.Unlock()
}

func (m *recordingMetrics) WebhookRejected(_ context.Context, _ integration.ProviderCode, reason string) {
	m.mu.Lock()
	m.webhook = append(m.webhook, reason)
	m.mu.Unlock()
}

type recordingSchedules struct {
	mu           sync.Mutex
	registered   map[uuid.UUID]bool
	unregistered []uuid.UUID
}

func (s *recordingSchedules) Register(i *integration.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registered == nil {
		s.registered = make(map[uuid.UUID]bool)
	}
	s.registered[i.ID] = true
	return nil
}

func (s *recordingSchedules) Unregister(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.registered, id)
	s.unregistered = append(s.unregistered, id)
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	integrations *memIntegrations
	operations   *memOperations
	mappings     *memMappings
	contracts    *memContracts
	adapter      *fakeAdapter
	vault        *vault.Vault
	lock         *cache.InMemoryRunLock
	events       *recordingPublisher
	metrics      *recordingMetrics
	schedules    *recordingSchedules
	limiter      *unlimited
	delays       []time.Duration

	registry     *RegistryService
	orchestrator *Orchestrator
}

// harnessKey is the master key registered as "k1" in every harness vault
func harnessKey() []byte {
	key := make([]byte, vault.MasterKeySize)
	for i := range key {
		key[i] = byte(i + 1)
	}
	return key
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	v, err := vault.New("k1", map[string][]byte{"k1": harnessKey()})
	require.NoError(t, err)

	h := &harness{
		integrations: newMemIntegrations(),
		operations:   newMemOperations(),
		mappings:     newMemMappings(),
		contracts:    newMemContracts(),
		adapter:      &fakeAdapter{},
		vault:        v,
		lock:         cache.NewInMemoryRunLock(),
		events:       &recordingPublisher{},
		metrics:      &recordingMetrics{},
		schedules:    &recordingSchedules{},
		limiter:      &unlimited{},
	}
	h.registry = NewRegistryService(RegistryServiceConfig{
		Repo:      h.integrations,
		Vault:     v,
		Providers: fakeProviders{adapter: h.adapter},
		Events:    h.events,
		Schedules: h.schedules,
		Limiter:   h.limiter,
		CacheTTL:  time.Minute,
		Logger:    zap.NewNop(),
	})
	h.useOrchestrator(h.orchestratorConfig())
	return h
}

func (h *harness) orchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Integrations: h.integrations,
		Operations:   h.operations,
		Mappings:     h.mappings,
		Contracts:    h.contracts,
		UnitOfWork:   &memUnitOfWork{contracts: h.contracts, mappings: h.mappings},
		Vault:        h.vault,
		Providers:    fakeProviders{adapter: h.adapter},
		Lock:         h.lock,
		Limiter:      h.limiter,
		Events:       h.events,
		Metrics:      h.metrics,
		Cache:        h.registry,
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.delays = append(h.delays, d)
			return ctx.Err()
		},
		Logger: zap.NewNop(),
	}
}

// useOrchestrator replaces the harness orchestrator with one built from cfg
func (h *harness) useOrchestrator(cfg OrchestratorConfig) {
	h.orchestrator = NewOrchestrator(cfg)
	h.orchestrator.AttachPool(&inlinePool{executor: h.orchestrator})
}

// testMappings maps title (required, at most 10 characters), counterparty
// and status
func testMappings() []integration.DataMapping {
	return []integration.DataMapping{
		{Type: integration.RecordTypeContract, SourceField: "title", TargetField: "title", IsRequired: true,
			ValidationRules: []integration.ValidationRule{{Type: integration.RuleMaxLength, MaxLength: 10}}},
		{Type: integration.RecordTypeContract, SourceField: "counterparty", TargetField: "counterparty"},
		{Type: integration.RecordTypeContract, SourceField: "status", TargetField: "status", DefaultValue: "draft"},
	}
}

// activeIntegration creates an active integration with stored credentials
func (h *harness) activeIntegration(t *testing.T, direction integration.SyncDirection) *integration.Integration {
	t.Helper()
	ctx := context.Background()
	i, err := h.registry.Create(ctx, CreateIntegrationInput{
		OrganizationID: uuid.New(),
		Name:           "Test CLM",
		Provider:       integration.ProviderGeneric,
		Direction:      direction,
		Configuration: integration.Configuration{
			APIBaseURL:         "https://clm.example.com/api",
			RateLimitPerMinute: 600,
			BatchSize:          50,
			TimeoutSeconds:     5,
			RetryConfig: integration.RetryConfig{
				MaxRetries:      3,
				BackoffStrategy: integration.BackoffExponential,
				InitialDelayMs:  100,
			},
		},
		DataMappings: testMappings(),
		WebhookConfig: &integration.WebhookConfig{
			Enabled:   direction.IncludesInbound(),
			SecretKey: "whsec_test",
			Events:    webhookEventsFor(direction),
		},
	})
	require.NoError(t, err)
	_, err = h.registry.SetCredentials(ctx, i.OrganizationID, i.ID, integration.Credentials{APIKey: "key-123"})
	require.NoError(t, err)
	i, err = h.registry.UpdateStatus(ctx, i.OrganizationID, i.ID, integration.IntegrationStatusActive, "")
	require.NoError(t, err)
	return i
}

func webhookEventsFor(direction integration.SyncDirection) []integration.WebhookEvent {
	if !direction.IncludesInbound() {
		return nil
	}
	return []integration.WebhookEvent{integration.WebhookEventContractCreated, integration.WebhookEventContractUpdated}
}

func (h *harness) startSync(t *testing.T, i *integration.Integration, opType integration.SyncOperationType) *integration.SyncOperation {
	t.Helper()
	queued, err := h.orchestrator.StartSync(context.Background(), StartSyncInput{
		IntegrationID:  i.ID,
		OrganizationID: i.OrganizationID,
		Type:           opType,
	})
	require.NoError(t, err)
	op, err := h.operations.FindByID(context.Background(), queued.ID)
	require.NoError(t, err)
	return op
}


var errBoom = errors.New("boom")
