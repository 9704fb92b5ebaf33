package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	integrationapp "github.com/contractiq/backend/internal/application/integration"
	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/contractiq/backend/internal/infrastructure/config"
)

func setupWebhookRouter(processor *MockWebhookProcessor, cfg config.WebhookConfig) http.Handler {
	h := NewWebhookHandler(processor, cfg)
	r := newTestRouter(uuid.Nil)
	r.POST("/api/v1/webhooks/clm/:integrationId", h.Receive)
	return r
}

func postWebhook(r http.Handler, integrationID, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/clm/"+integrationID, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookHandler_Receive(t *testing.T) {
	integrationID := uuid.New()
	body := `{"id":"env-1","status":"completed"}`

	t.Run("forwards headers and raw body", func(t *testing.T) {
		processor := new(MockWebhookProcessor)
		opID := uuid.New()
		processor.On("Handle", mock.Anything, integrationapp.WebhookRequest{
			IntegrationID: integrationID,
			Event:         integration.WebhookEventContractSigned,
			Payload:       []byte(body),
			Signature:     "sha256=abc",
			DeliveryID:    "d-1",
		}).Return(&integrationapp.WebhookResult{Success: true, Message: "Webhook processed", OperationID: &opID}, nil)

		w := postWebhook(setupWebhookRouter(processor, config.WebhookConfig{}), integrationID.String(), body, map[string]string{
			DefaultSignatureHeader: "sha256=abc",
			DefaultEventHeader:     "contract.signed",
			DefaultDeliveryHeader:  "d-1",
		})

		require.Equal(t, http.StatusOK, w.Code)
		var result integrationapp.WebhookResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.True(t, result.Success)
		require.NotNil(t, result.OperationID)
		assert.Equal(t, opID, *result.OperationID)
		processor.AssertExpectations(t)
	})

	t.Run("custom header names", func(t *testing.T) {
		processor := new(MockWebhookProcessor)
		processor.On("Handle", mock.Anything, mock.MatchedBy(func(req integrationapp.WebhookRequest) bool {
			return req.Signature == "deadbeef" && req.Event == ""
		})).Return(&integrationapp.WebhookResult{Success: true}, nil)

		r := setupWebhookRouter(processor, config.WebhookConfig{SignatureHeader: "X-Hub-Signature"})
		w := postWebhook(r, integrationID.String(), body, map[string]string{"X-Hub-Signature": "deadbeef"})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rejected delivery", func(t *testing.T) {
		processor := new(MockWebhookProcessor)
		processor.On("Handle", mock.Anything, mock.Anything).
			Return(&integrationapp.WebhookResult{Success: false, Message: "Invalid signature"}, nil)

		w := postWebhook(setupWebhookRouter(processor, config.WebhookConfig{}), integrationID.String(), body, nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), `"success":false`)
		assert.Contains(t, w.Body.String(), "Invalid signature")
	})

	t.Run("record failed in sync", func(t *testing.T) {
		processor := new(MockWebhookProcessor)
		opID := uuid.New()
		processor.On("Handle", mock.Anything, mock.Anything).
			Return(&integrationapp.WebhookResult{Success: false, Message: "title is required", OperationID: &opID}, nil)

		w := postWebhook(setupWebhookRouter(processor, config.WebhookConfig{}), integrationID.String(), body, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("oversized body", func(t *testing.T) {
		processor := new(MockWebhookProcessor)
		r := setupWebhookRouter(processor, config.WebhookConfig{MaxBodyBytes: 16})

		w := postWebhook(r, integrationID.String(), body, nil)

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		processor.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
	})

	t.Run("body exactly at the cap", func(t *testing.T) {
		processor := new(MockWebhookProcessor)
		processor.On("Handle", mock.Anything, mock.Anything).Return(&integrationapp.WebhookResult{Success: true}, nil)
		r := setupWebhookRouter(processor, config.WebhookConfig{MaxBodyBytes: int64(len(body))})

		w := postWebhook(r, integrationID.String(), body, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("bad integration id", func(t *testing.T) {
		w := postWebhook(setupWebhookRouter(new(MockWebhookProcessor), config.WebhookConfig{}), "nope", body, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("infrastructure failure", func(t *testing.T) {
		processor := new(MockWebhookProcessor)
		processor.On("Handle", mock.Anything, mock.Anything).Return(nil, errors.New("database is down"))

		w := postWebhook(setupWebhookRouter(processor, config.WebhookConfig{}), integrationID.String(), body, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "database is down")
	})
}
