package handler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	integrationapp "github.com/contractiq/backend/internal/application/integration"
	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/contractiq/backend/internal/infrastructure/scheduler"
	"github.com/contractiq/backend/internal/interfaces/http/dto"
)

func setupSyncRouter(orgID uuid.UUID, runner *MockRunner) http.Handler {
	h := NewSyncOperationHandler(runner)
	r := newTestRouter(orgID)
	r.POST("/api/v1/integrations/:id/sync", h.StartSync)
	r.GET("/api/v1/integrations/:id/sync-operations", h.History)
	r.GET("/api/v1/sync-operations/:id", h.Get)
	r.POST("/api/v1/sync-operations/:id/cancel", h.Cancel)
	return r
}

func TestSyncOperationHandler_StartSync(t *testing.T) {
	orgID := uuid.New()
	i := newIntegration(t, orgID)
	path := "/api/v1/integrations/" + i.ID.String() + "/sync"

	t.Run("queues a run", func(t *testing.T) {
		runner := new(MockRunner)
		op := newOperation(t, i)
		runner.On("StartSync", mock.Anything, integrationapp.StartSyncInput{
			IntegrationID:  i.ID,
			OrganizationID: orgID,
			Type:           integration.SyncTypeFull,
			Source:         integration.TriggerManual,
			RequestedBy:    "ops@example.com",
		}).Return(op, nil)

		w := doJSON(t, setupSyncRouter(orgID, runner), http.MethodPost, path, map[string]string{"type": "full_sync"})

		require.Equal(t, http.StatusAccepted, w.Code)
		data := decode(t, w).Data.(map[string]any)
		assert.Equal(t, op.ID.String(), data["id"])
		assert.Equal(t, "queued", data["status"])
		runner.AssertExpectations(t)
	})

	t.Run("empty body picks default type", func(t *testing.T) {
		runner := new(MockRunner)
		runner.On("StartSync", mock.Anything, mock.MatchedBy(func(in integrationapp.StartSyncInput) bool {
			return in.Type == ""
		})).Return(newOperation(t, i), nil)

		req := httptest.NewRequest(http.MethodPost, path, nil)
		w := httptest.NewRecorder()
		setupSyncRouter(orgID, runner).ServeHTTP(w, req)
		assert.Equal(t, http.StatusAccepted, w.Code)
	})

	t.Run("conflict while locked", func(t *testing.T) {
		runner := new(MockRunner)
		runner.On("StartSync", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("start: %w", integration.ErrSyncInProgress))

		w := doJSON(t, setupSyncRouter(orgID, runner), http.MethodPost, path, map[string]string{})

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, dto.ErrCodeSyncInProgress, decode(t, w).Error.Code)
	})

	t.Run("inactive integration", func(t *testing.T) {
		runner := new(MockRunner)
		runner.On("StartSync", mock.Anything, mock.Anything).Return(nil, integration.ErrIntegrationNotSyncable)

		w := doJSON(t, setupSyncRouter(orgID, runner), http.MethodPost, path, map[string]string{})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("queue full", func(t *testing.T) {
		runner := new(MockRunner)
		runner.On("StartSync", mock.Anything, mock.Anything).Return(nil, scheduler.ErrJobQueueFull)

		w := doJSON(t, setupSyncRouter(orgID, runner), http.MethodPost, path, map[string]string{})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("webhook type is not manual", func(t *testing.T) {
		w := doJSON(t, setupSyncRouter(orgID, new(MockRunner)), http.MethodPost, path,
			map[string]string{"type": "webhook_sync"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSyncOperationHandler_GetAndHistory(t *testing.T) {
	orgID := uuid.New()
	i := newIntegration(t, orgID)
	op := newOperation(t, i)
	op.RecordFailure(integration.SyncError{Kind: integration.ErrorKindValidation, RecordID: "ext-2", Message: "title is required"})

	runner := new(MockRunner)
	runner.On("GetOperation", mock.Anything, orgID, op.ID).Return(op, nil)
	runner.On("ListOperations", mock.Anything, orgID, i.ID, 5).Return([]*integration.SyncOperation{op}, nil)
	r := setupSyncRouter(orgID, runner)

	w := doJSON(t, r, http.MethodGet, "/api/v1/sync-operations/"+op.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w).Data.(map[string]any)
	details := data["error_details"].([]any)
	require.Len(t, details, 1)
	assert.Equal(t, "validation", details[0].(map[string]any)["kind"])

	w = doJSON(t, r, http.MethodGet, "/api/v1/integrations/"+i.ID.String()+"/sync-operations?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, 1, resp.Meta.Total)
	assert.Equal(t, 5, resp.Meta.Limit)

	w = doJSON(t, r, http.MethodGet, "/api/v1/integrations/"+i.ID.String()+"/sync-operations?limit=500", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSyncOperationHandler_Cancel(t *testing.T) {
	orgID := uuid.New()
	opID := uuid.New()
	finished := uuid.New()

	runner := new(MockRunner)
	runner.On("Cancel", mock.Anything, orgID, opID).Return(nil)
	runner.On("Cancel", mock.Anything, orgID, finished).Return(integration.ErrOperationAlreadyTerminal)
	r := setupSyncRouter(orgID, runner)

	w := doJSON(t, r, http.MethodPost, "/api/v1/sync-operations/"+opID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/sync-operations/"+finished.String()+"/cancel", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, dto.ErrCodeInvalidState, decode(t, w).Error.Code)
}
