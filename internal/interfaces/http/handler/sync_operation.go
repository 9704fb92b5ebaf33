package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	integrationapp "github.com/contractiq/backend/internal/application/integration"
	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/contractiq/backend/internal/interfaces/http/dto"
	"github.com/contractiq/backend/internal/interfaces/http/middleware"
)

// SyncRunner is the orchestrator surface the handler drives
type SyncRunner interface {
	StartSync(ctx context.Context, input integrationapp.StartSyncInput) (*integration.SyncOperation, error)
	Cancel(ctx context.Context, organizationID, operationID uuid.UUID) error
	GetOperation(ctx context.Context, organizationID, operationID uuid.UUID) (*integration.SyncOperation, error)
	ListOperations(ctx context.Context, organizationID, integrationID uuid.UUID, limit int) ([]*integration.SyncOperation, error)
}

// SyncOperationHandler handles sync run endpoints
type SyncOperationHandler struct {
	BaseHandler
	runner SyncRunner
}

// NewSyncOperationHandler creates a new SyncOperationHandler
func NewSyncOperationHandler(runner SyncRunner) *SyncOperationHandler {
	return &SyncOperationHandler{runner: runner}
}

// StartSync godoc
//
//	@Summary		Start a manual sync
//	@Description	Queues a run and returns its operation. Fails with 409 while another run holds the integration.
//	@Tags			sync
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Integration ID"
//	@Param			request	body		StartSyncRequest	false	"Sync type"
//	@Success		202		{object}	dto.Response{data=integrationapp.SyncOperationResponse}
//	@Failure		409		{object}	dto.Response
//	@Failure		422		{object}	dto.Response
//	@Security		BearerAuth
//	@Router			/integrations/{id}/sync [post]
func (h *SyncOperationHandler) StartSync(c *gin.Context) {
	orgID, ok := h.organizationID(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req StartSyncRequest
	if c.Request.ContentLength != 0 && !h.bindJSON(c, &req) {
		return
	}

	op, err := h.runner.StartSync(c.Request.Context(), integrationapp.StartSyncInput{
		IntegrationID:  id,
		OrganizationID: orgID,
		Type:           integration.SyncOperationType(req.Type),
		Source:         integration.TriggerManual,
		RequestedBy:    middleware.GetJWTSubject(c),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, integrationapp.ToSyncOperationResponse(op))
}

// Get godoc
//
//	@Summary	Get a sync operation
//	@Tags		sync
//	@Produce	json
//	@Param		id	path		string	true	"Sync operation ID"
//	@Success	200	{object}	dto.Response{data=integrationapp.SyncOperationResponse}
//	@Failure	404	{object}	dto.Response
//	@Security	BearerAuth
//	@Router		/sync-operations/{id} [get]
func (h *SyncOperationHandler) Get(c *gin.Context) {
	orgID, ok := h.organizationID(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	op, err := h.runner.GetOperation(c.Request.Context(), orgID, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, integrationapp.ToSyncOperationResponse(op))
}

// History godoc
//
//	@Summary	List an integration's recent sync operations
//	@Tags		sync
//	@Produce	json
//	@Param		id		path		string	true	"Integration ID"
//	@Param		limit	query		int		false	"Max entries (1-100)"
//	@Success	200		{object}	dto.Response{data=[]integrationapp.SyncOperationResponse}
//	@Security	BearerAuth
//	@Router		/integrations/{id}/sync-operations [get]
func (h *SyncOperationHandler) History(c *gin.Context) {
	orgID, ok := h.organizationID(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var q dto.HistoryRequest
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	ops, err := h.runner.ListOperations(c.Request.Context(), orgID, id, q.Limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessList(c, integrationapp.ToSyncOperationResponses(ops), len(ops), q.Limit)
}

// Cancel godoc
//
//	@Summary		Cancel a sync operation
//	@Description	A running operation stops at the next record boundary; a queued one is cancelled immediately.
//	@Tags			sync
//	@Produce		json
//	@Param			id	path		string	true	"Sync operation ID"
//	@Success		202	{object}	dto.Response
//	@Failure		422	{object}	dto.Response
//	@Security		BearerAuth
//	@Router			/sync-operations/{id}/cancel [post]
func (h *SyncOperationHandler) Cancel(c *gin.Context) {
	orgID, ok := h.organizationID(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	if err := h.runner.Cancel(c.Request.Context(), orgID, id); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, gin.H{"id": id, "cancel_requested": true})
}
