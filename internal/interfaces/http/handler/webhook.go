package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	integrationapp "github.com/contractiq/backend/internal/application/integration"
	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/contractiq/backend/internal/infrastructure/config"
	"github.com/contractiq/backend/internal/infrastructure/logger"
	"github.com/contractiq/backend/internal/interfaces/http/dto"
)

// Default webhook headers
const (
	DefaultSignatureHeader = "X-CLM-Signature"
	DefaultEventHeader     = "X-CLM-Event"
	DefaultDeliveryHeader  = "X-CLM-Delivery"
	defaultMaxWebhookBody  = 1 << 20
)

// WebhookProcessor handles verified pushes
type WebhookProcessor interface {
	Handle(ctx context.Context, req integrationapp.WebhookRequest) (*integrationapp.WebhookResult, error)
}

// WebhookHandler receives CLM provider pushes. It is unauthenticated; each
// request is checked against the integration's shared secret instead.
type WebhookHandler struct {
	BaseHandler
	processor WebhookProcessor
	cfg       config.WebhookConfig
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(processor WebhookProcessor, cfg config.WebhookConfig) *WebhookHandler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxWebhookBody
	}
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = DefaultSignatureHeader
	}
	if cfg.EventHeader == "" {
		cfg.EventHeader = DefaultEventHeader
	}
	if cfg.DeliveryHeader == "" {
		cfg.DeliveryHeader = DefaultDeliveryHeader
	}
	return &WebhookHandler{processor: processor, cfg: cfg}
}

// Receive godoc
//
//	@Summary		Receive a CLM webhook
//	@Description	Verifies the HMAC-SHA256 signature and applies the pushed record as a webhook_sync operation.
//	@Tags			webhooks
//	@Accept			json
//	@Produce		json
//	@Param			integrationId	path		string	true	"Integration ID"
//	@Param			X-CLM-Signature	header		string	true	"hex HMAC-SHA256 of the body, optional sha256= prefix"
//	@Param			X-CLM-Event		header		string	false	"Event name; falls back to the body's event field"
//	@Success		200				{object}	integrationapp.WebhookResult
//	@Failure		400				{object}	integrationapp.WebhookResult
//	@Failure		413				{object}	dto.Response
//	@Router			/webhooks/clm/{integrationId} [post]
func (h *WebhookHandler) Receive(c *gin.Context) {
	id, ok := h.pathID(c, "integrationId")
	if !ok {
		return
	}

	// Read one byte past the cap to tell a full body from a truncated one
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, h.cfg.MaxBodyBytes+1))
	if err != nil {
		h.BadRequest(c, "Failed to read request body")
		return
	}
	if int64(len(body)) > h.cfg.MaxBodyBytes {
		h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodeEntityTooLarge, "Webhook payload too large")
		return
	}

	result, err := h.processor.Handle(c.Request.Context(), integrationapp.WebhookRequest{
		IntegrationID: id,
		Event:         integration.WebhookEvent(c.GetHeader(h.cfg.EventHeader)),
		Payload:       body,
		Signature:     c.GetHeader(h.cfg.SignatureHeader),
		DeliveryID:    c.GetHeader(h.cfg.DeliveryHeader),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	status := http.StatusOK
	switch {
	case result.Success:
	case result.OperationID != nil:
		// the record reached the sync path and failed there
		status = http.StatusUnprocessableEntity
	default:
		status = http.StatusBadRequest
	}
	if !result.Success {
		logger.GetGinLogger(c).Info("Webhook rejected",
			zap.String("integration_id", id.String()),
			zap.String("reason", result.Message),
		)
	}
	c.JSON(status, result)
}
