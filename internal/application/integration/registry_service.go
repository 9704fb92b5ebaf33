package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/contractiq/backend/internal/domain/shared"
	"github.com/contractiq/backend/internal/infrastructure/cache"
	"github.com/contractiq/backend/internal/infrastructure/logger"
	"github.com/contractiq/backend/internal/infrastructure/telemetry"
)

// checkConcurrency bounds parallel connection tests
const checkConcurrency = 4

// RegistryService manages integration configuration. Reads go through a TTL
// cache that every write invalidates; the repository stays authoritative.
type RegistryService struct {
	repo      integration.IntegrationRepository
	vault     integration.CredentialVault
	providers integration.ProviderRegistry
	events    shared.EventPublisher
	schedules ScheduleRegistrar
	limiter   RateLimiter
	cache     *cache.TTLCache[uuid.UUID, *integration.Integration]
	logger    *zap.Logger
}

// RegistryServiceConfig contains the collaborators of RegistryService
type RegistryServiceConfig struct {
	Repo      integration.IntegrationRepository
	Vault     integration.CredentialVault
	Providers integration.ProviderRegistry
	Events    shared.EventPublisher
	Schedules ScheduleRegistrar
	Limiter   RateLimiter
	CacheTTL  time.Duration
	Logger    *zap.Logger
}

// NewRegistryService creates a RegistryService
func NewRegistryService(cfg RegistryServiceConfig) *RegistryService {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Schedules == nil {
		cfg.Schedules = noopSchedules{}
	}
	return &RegistryService{
		repo:      cfg.Repo,
		vault:     cfg.Vault,
		providers: cfg.Providers,
		events:    cfg.Events,
		schedules: cfg.Schedules,
		limiter:   cfg.Limiter,
		cache:     cache.NewTTLCache[uuid.UUID, *integration.Integration](cfg.CacheTTL),
		logger:    cfg.Logger.Named("integration_registry"),
	}
}

// UseSchedules attaches the schedule trigger once it exists. The trigger
// needs the orchestrator, which needs the registry, so it is wired late.
func (s *RegistryService) UseSchedules(r ScheduleRegistrar) {
	if r != nil {
		s.schedules = r
	}
}

// Create registers an inactive integration with defaults merged in
func (s *RegistryService) Create(ctx context.Context, input CreateIntegrationInput) (*integration.Integration, error) {
	i, err := integration.NewIntegration(integration.NewIntegrationInput{
		OrganizationID: input.OrganizationID,
		Name:           input.Name,
		Provider:       input.Provider,
		Direction:      input.Direction,
		Configuration:  input.Configuration,
		DataMappings:   input.DataMappings,
		WebhookConfig:  input.WebhookConfig,
		SyncSchedule:   input.SyncSchedule,
	})
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, i); err != nil {
		return nil, err
	}

	logger.WithLogger(ctx, s.logger).Info("Integration created",
		zap.String("integration_id", i.ID.String()),
		zap.String("provider", i.Provider.String()),
		zap.String("direction", i.Direction.String()),
	)
	return i, nil
}

// Get returns an integration. The returned value may be shared with other
// readers and must not be modified; load through the repository to change it.
func (s *RegistryService) Get(ctx context.Context, id uuid.UUID) (*integration.Integration, error) {
	if i, ok := s.cache.Get(id); ok {
		return i, nil
	}
	i, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(id, i)
	return i, nil
}

// GetForOrganization is Get restricted to one organization. Integrations of
// other organizations are reported as not found.
func (s *RegistryService) GetForOrganization(ctx context.Context, organizationID, id uuid.UUID) (*integration.Integration, error) {
	i, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if i.OrganizationID != organizationID {
		return nil, integration.ErrIntegrationNotFound
	}
	return i, nil
}

// ListActive returns every active, syncing or errored integration
func (s *RegistryService) ListActive(ctx context.Context) ([]*integration.Integration, error) {
	return s.repo.FindActive(ctx)
}

// ListByOrganization returns an organization's integrations, optionally only active ones
func (s *RegistryService) ListByOrganization(ctx context.Context, organizationID uuid.UUID, activeOnly bool) ([]*integration.Integration, error) {
	list, err := s.repo.FindByOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	if !activeOnly {
		return list, nil
	}
	out := make([]*integration.Integration, 0, len(list))
	for _, i := range list {
		if i.Status != integration.IntegrationStatusInactive {
			out = append(out, i)
		}
	}
	return out, nil
}

// UpdateStatus moves an integration to active, inactive or error and keeps
// its schedule registration in step
func (s *RegistryService) UpdateStatus(ctx context.Context, organizationID, id uuid.UUID, to integration.IntegrationStatus, reason string) (*integration.Integration, error) {
	i, err := s.load(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}
	if i.Status == integration.IntegrationStatusSyncing {
		return nil, integration.ErrSyncInProgress
	}
	if err := i.ChangeStatus(to, reason); err != nil {
		return nil, err
	}
	if err := s.save(ctx, i); err != nil {
		return nil, err
	}
	s.syncSchedule(ctx, i)
	if to == integration.IntegrationStatusInactive && s.limiter != nil {
		s.limiter.Forget(i.ID)
	}
	return i, nil
}

// SetCredentials encrypts and stores new provider credentials
func (s *RegistryService) SetCredentials(ctx context.Context, organizationID, id uuid.UUID, creds integration.Credentials) (*integration.Integration, error) {
	if creds.IsEmpty() {
		return nil, integration.ErrCredentialsNotConfigured
	}
	i, err := s.load(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}
	enc, err := s.vault.Encrypt(ctx, i.ID, creds)
	if err != nil {
		return nil, fmt.Errorf("encrypt credentials: %w", err)
	}
	i.SetCredentials(enc)
	if err := s.save(ctx, i); err != nil {
		return nil, err
	}
	logger.WithLogger(ctx, s.logger).Info("Integration credentials stored",
		zap.String("integration_id", i.ID.String()),
		zap.String("key_id", enc.KeyID),
	)
	return i, nil
}

// TestConnection decrypts credentials and asks the provider adapter to
// verify them. Failures are reported in the result, never as an error,
// unless the integration itself cannot be loaded.
func (s *RegistryService) TestConnection(ctx context.Context, organizationID, id uuid.UUID) (*integration.ConnectionResult, error) {
	i, err := s.GetForOrganization(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}
	result := s.checkConnection(ctx, i)
	return &result, nil
}

// CheckOrganization tests every active integration of an organization in parallel
func (s *RegistryService) CheckOrganization(ctx context.Context, organizationID uuid.UUID) (map[uuid.UUID]integration.ConnectionResult, error) {
	list, err := s.ListByOrganization(ctx, organizationID, true)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	results := make(map[uuid.UUID]integration.ConnectionResult, len(list))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(checkConcurrency)
	for _, i := range list {
		g.Go(func() error {
			r := s.checkConnection(gctx, i)
			mu.Lock()
			results[i.ID] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (s *RegistryService) checkConnection(ctx context.Context, i *integration.Integration) integration.ConnectionResult {
	ctx, span := telemetry.StartServiceSpan(ctx, "integration_registry", "test_connection",
		telemetry.WithAttribute("provider", i.Provider.String()))
	defer span.End()

	if i.Credentials.IsEmpty() {
		return integration.ConnectionResult{
			AvailableEndpoints: []string{},
			Errors:             []string{integration.ErrCredentialsNotConfigured.Error()},
		}
	}
	creds, err := s.vault.Decrypt(ctx, i.ID, i.Credentials)
	if err != nil {
		telemetry.RecordError(span, err)
		return integration.ConnectionResult{
			AvailableEndpoints: []string{},
			Errors:             []string{err.Error()},
		}
	}
	result := s.providers.Adapter(i.Provider).TestConnection(ctx, i.ProviderConfig(creds))
	telemetry.SetAttributes(span, "success", result.Success)
	return result
}

// Rehydrate runs at startup: integrations left syncing by a previous process
// are returned to active, credentials sealed under a retired vault key are
// re-sealed under the active one and enabled schedules are registered.
func (s *RegistryService) Rehydrate(ctx context.Context) (int, error) {
	list, err := s.repo.FindActive(ctx)
	if err != nil {
		return 0, err
	}
	log := logger.WithLogger(ctx, s.logger)
	reset, rotated := 0, 0
	for _, i := range list {
		changed := false
		if i.ResetStaleSync() {
			changed = true
			reset++
			log.Warn("Reset integration left syncing by a previous process",
				zap.String("integration_id", i.ID.String()))
		}
		if s.rotateCredentials(ctx, i) {
			changed = true
			rotated++
		}
		if changed {
			if err := s.save(ctx, i); err != nil {
				return reset, fmt.Errorf("rehydrate %s: %w", i.ID, err)
			}
		}
		s.syncSchedule(ctx, i)
	}
	log.Info("Integration registry rehydrated",
		zap.Int("integrations", len(list)),
		zap.Int("stale_reset", reset),
		zap.Int("credentials_rotated", rotated),
	)
	return reset, nil
}

// rotateCredentials re-seals credentials when the vault supports rotation.
// A failure leaves the old blob in place; it still decrypts while its key is configured.
func (s *RegistryService) rotateCredentials(ctx context.Context, i *integration.Integration) bool {
	rotator, ok := s.vault.(KeyRotator)
	if !ok || i.Credentials.IsEmpty() || !rotator.NeedsRotation(i.Credentials) {
		return false
	}
	enc, err := rotator.Rotate(ctx, i.ID, i.Credentials)
	if err != nil {
		logger.WithLogger(ctx, s.logger).Warn("Failed to rotate integration credentials",
			zap.String("integration_id", i.ID.String()),
			zap.String("key_id", i.Credentials.KeyID),
			zap.Error(err),
		)
		return false
	}
	i.SetCredentials(enc)
	return true
}

// Invalidate drops a cached integration after an out-of-band write
func (s *RegistryService) Invalidate(id uuid.UUID) {
	s.cache.Invalidate(id)
}

// load reads the authoritative copy for modification
func (s *RegistryService) load(ctx context.Context, organizationID, id uuid.UUID) (*integration.Integration, error) {
	i, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if organizationID != uuid.Nil && i.OrganizationID != organizationID {
		return nil, integration.ErrIntegrationNotFound
	}
	return i, nil
}

func (s *RegistryService) save(ctx context.Context, i *integration.Integration) error {
	if err := s.repo.Save(ctx, i); err != nil {
		return err
	}
	s.cache.Invalidate(i.ID)
	publishEvents(ctx, s.events, s.logger, i)
	return nil
}

func (s *RegistryService) syncSchedule(ctx context.Context, i *integration.Integration) {
	if i.Status == integration.IntegrationStatusInactive || !i.ScheduleEnabled() {
		s.schedules.Unregister(i.ID)
		return
	}
	if err := s.schedules.Register(i); err != nil {
		logger.WithLogger(ctx, s.logger).Error("Failed to register sync schedule",
			zap.String("integration_id", i.ID.String()),
			zap.Error(err),
		)
	}
}

// publishEvents hands the aggregate's pending events to the audit collaborator.
// Publishing is fire-and-forget: failures are logged, never returned.
func publishEvents(ctx context.Context, publisher shared.EventPublisher, log *zap.Logger, i *integration.Integration) {
	events := i.GetDomainEvents()
	i.ClearDomainEvents()
	if publisher == nil || len(events) == 0 {
		return
	}
	if err := publisher.Publish(ctx, events...); err != nil {
		logger.WithLogger(ctx, log).Warn("Failed to publish integration events",
			zap.String("integration_id", i.ID.String()),
			zap.Int("events", len(events)),
			zap.Error(err),
		)
	}
}

// isNotFound reports repository misses for integrations and operations
func isNotFound(err error) bool {
	return errors.Is(err, integration.ErrIntegrationNotFound) || errors.Is(err, integration.ErrOperationNotFound)
}
