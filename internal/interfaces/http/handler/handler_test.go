package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	integrationapp "github.com/contractiq/backend/internal/application/integration"
	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/contractiq/backend/internal/interfaces/http/dto"
	"github.com/contractiq/backend/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
}

// ============================================================================
// Mocks
// ============================================================================

type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) Create(ctx context.Context, input integrationapp.CreateIntegrationInput) (*integration.Integration, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.Integration), args.Error(1)
}

func (m *MockRegistry) GetForOrganization(ctx context.Context, organizationID, id uuid.UUID) (*integration.Integration, error) {
	args := m.Called(ctx, organizationID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.Integration), args.Error(1)
}

func (m *MockRegistry) ListByOrganization(ctx context.Context, organizationID uuid.UUID, activeOnly bool) ([]*integration.Integration, error) {
	args := m.Called(ctx, organizationID, activeOnly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*integration.Integration), args.Error(1)
}

func (m *MockRegistry) UpdateStatus(ctx context.Context, organizationID, id uuid.UUID, to integration.IntegrationStatus, reason string) (*integration.Integration, error) {
	args := m.Called(ctx, organizationID, id, to, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.Integration), args.Error(1)
}

func (m *MockRegistry) SetCredentials(ctx context.Context, organizationID, id uuid.UUID, creds integration.Credentials) (*integration.Integration, error) {
	args := m.Called(ctx, organizationID, id, creds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.Integration), args.Error(1)
}

func (m *MockRegistry) TestConnection(ctx context.Context, organizationID, id uuid.UUID) (*integration.ConnectionResult, error) {
	args := m.Called(ctx, organizationID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.ConnectionResult), args.Error(1)
}

func (m *MockRegistry) CheckOrganization(ctx context.Context, organizationID uuid.UUID) (map[uuid.UUID]integration.ConnectionResult, error) {
	args := m.Called(ctx, organizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[uuid.UUID]integration.ConnectionResult), args.Error(1)
}

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) StartSync(ctx context.Context, input integrationapp.StartSyncInput) (*integration.SyncOperation, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.SyncOperation), args.Error(1)
}

func (m *MockRunner) Cancel(ctx context.Context, organizationID, operationID uuid.UUID) error {
	return m.Called(ctx, organizationID, operationID).Error(0)
}

func (m *MockRunner) GetOperation(ctx context.Context, organizationID, operationID uuid.UUID) (*integration.SyncOperation, error) {
	args := m.Called(ctx, organizationID, operationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.SyncOperation), args.Error(1)
}

func (m *MockRunner) ListOperations(ctx context.Context, organizationID, integrationID uuid.UUID, limit int) ([]*integration.SyncOperation, error) {
	args := m.Called(ctx, organizationID, integrationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*integration.SyncOperation), args.Error(1)
}

type MockWebhookProcessor struct {
	mock.Mock
}

func (m *MockWebhookProcessor) Handle(ctx context.Context, req integrationapp.WebhookRequest) (*integrationapp.WebhookResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integrationapp.WebhookResult), args.Error(1)
}

type fixedSchedule struct {
	next time.Time
}

func (f fixedSchedule) NextRun(uuid.UUID) (time.Time, bool) { return f.next, !f.next.IsZero() }

// ============================================================================
// Helpers
// ============================================================================

// newTestRouter returns an engine that authenticates every request as orgID
func newTestRouter(orgID uuid.UUID) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), func(c *gin.Context) {
		if orgID != uuid.Nil {
			c.Set(middleware.JWTOrganizationIDKey, orgID.String())
			c.Set(middleware.JWTSubjectKey, "ops@example.com")
		}
		c.Next()
	})
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func newIntegration(t *testing.T, orgID uuid.UUID) *integration.Integration {
	t.Helper()
	i, err := integration.NewIntegration(integration.NewIntegrationInput{
		OrganizationID: orgID,
		Provider:       integration.ProviderIronclad,
		Configuration:  integration.Configuration{APIBaseURL: "https://ironclad.example.com"},
	})
	require.NoError(t, err)
	return i
}

func newOperation(t *testing.T, i *integration.Integration) *integration.SyncOperation {
	t.Helper()
	op, err := integration.NewSyncOperation(i, integration.SyncTypeFull, integration.TriggerMetadata{Source: integration.TriggerManual})
	require.NoError(t, err)
	return op
}
