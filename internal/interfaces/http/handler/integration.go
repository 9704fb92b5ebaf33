package handler

import (
	"context"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	integrationapp "github.com/contractiq/backend/internal/application/integration"
	"github.com/contractiq/backend/internal/domain/integration"
)

// IntegrationRegistry is the registry surface the handler drives
type IntegrationRegistry interface {
	Create(ctx context.Context, input integrationapp.CreateIntegrationInput) (*integration.Integration, error)
	GetForOrganization(ctx context.Context, organizationID, id uuid.UUID) (*integration.Integration, error)
	ListByOrganization(ctx context.Context, organizationID uuid.UUID, activeOnly bool) ([]*integration.Integration, error)
	UpdateStatus(ctx context.Context, organizationID, id uuid.UUID, to integration.IntegrationStatus, reason string) (*integration.Integration, error)
	SetCredentials(ctx context.Context, organizationID, id uuid.UUID, creds integration.Credentials) (*integration.Integration, error)
	TestConnection(ctx context.Context, organizationID, id uuid.UUID) (*integration.ConnectionResult, error)
	CheckOrganization(ctx context.Context, organizationID uuid.UUID) (map[uuid.UUID]integration.ConnectionResult, error)
}

// ScheduleInspector reports the next scheduled run of an integration
type ScheduleInspector interface {
	NextRun(integrationID uuid.UUID) (time.Time, bool)
}

// IntegrationHandler handles integration registry endpoints
type IntegrationHandler struct {
	BaseHandler
	registry  IntegrationRegistry
	schedules ScheduleInspector
}

// NewIntegrationHandler creates a new IntegrationHandler. schedules may be nil
// when the schedule trigger is disabled.
func NewIntegrationHandler(registry IntegrationRegistry, schedules ScheduleInspector) *IntegrationHandler {
	return &IntegrationHandler{registry: registry, schedules: schedules}
}

func (h *IntegrationHandler) toResponse(i *integration.Integration) integrationapp.IntegrationResponse {
	resp := integrationapp.ToIntegrationResponse(i)
	if h.schedules != nil {
		if next, ok := h.schedules.NextRun(i.ID); ok {
			resp.NextScheduledRunAt = &next
		}
	}
	return resp
}

// Create godoc
//
//	@Summary		Register a CLM integration
//	@Tags			integrations
//	@Accept			json
//	@Produce		json
//	@Param			request	body		CreateIntegrationRequest	true	"Integration"
//	@Success		201		{object}	dto.Response{data=integrationapp.IntegrationResponse}
//	@Failure		400		{object}	dto.Response
//	@Failure		401		{object}	dto.Response
//	@Security		BearerAuth
//	@Router			/integrations [post]
func (h *IntegrationHandler) Create(c *gin.Context) {
	orgID, ok := h.organizationID(c)
	if !ok {
		return
	}
	var req CreateIntegrationRequest
	if !h.bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	created, err := h.registry.Create(ctx, req.toInput(orgID))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if req.Credentials != nil {
		created, err = h.registry.SetCredentials(ctx, orgID, created.ID, req.Credentials.toCredentials())
		if err != nil {
			h.HandleError(c, err)
			return
		}
	}
	h.Created(c, h.toResponse(created))
}

// Get godoc
//
//	@Summary	Get an integration
//	@Tags		integrations
//	@Produce	json
//	@Param		id	path		string	true	"Integration ID"
//	@Success	200	{object}	dto.Response{data=integrationapp.IntegrationResponse}
//	@Failure	404	{object}	dto.Response
//	@Security	BearerAuth
//	@Router		/integrations/{id} [get]
func (h *IntegrationHandler) Get(c *gin.Context) {
	orgID, ok := h.organizationID(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	i, err := h.registry.GetForOrganization(c.Request.Context(), orgID, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, h.toResponse(i))
}

// List godoc
//
//	@Summary	List the organization's integrations
//	@Tags		integrations
//	@Produce	json
//	@Param		active	query		bool	false	"Only active integrations"
//	@Success	200		{object}	dto.Response{data=[]integrationapp.IntegrationResponse}
//	@Security	BearerAuth
//	@Router		/integrations [get]
func (h *IntegrationHandler) List(c *gin.Context) {
	orgID, ok := h.organizationID(c)
	if !ok {
		return
	}
	activeOnly := c.Query("active") == "true"
	list, err := h.registry.ListByOrganization(c.Request.Context(), orgID, activeOnly)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]integrationapp.IntegrationResponse, 0, len(list))
	for _, i := range list {
		out = append(out, h.toResponse(i))
	}
	h.SuccessList(c, out, len(out), 0)
}

// UpdateStatus godoc
//
//	@Summary	Activate, deactivate or fail an integration
//	@Tags		integrations
//	@Accept		json
//	@Produce	json
//	@Param		id		path		string				true	"Integration ID"
//	@Param		request	body		UpdateStatusRequest	true	"Target status"
//	@Success	200		{object}	dto.Response{data=integrationapp.IntegrationResponse}
//	@Failure	422		{object}	dto.Response
//	@Security	BearerAuth
//	@Router		/integrations/{id}/status [put]
func (h *IntegrationHandler) UpdateStatus(c *gin.Context) {
	orgID, ok := h.organizationID(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if !h.bindJSON(c, &req) {
		return
	}
	i, err := h.registry.UpdateStatus(c.Request.Context(), orgID, id, integration.IntegrationStatus(req.Status), req.Reason)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, h.toResponse(i))
}

// SetCredentials godoc
//
//	@Summary	Replace an integration's credentials
//	@Tags		integrations
//	@Accept		json
//	@Produce	json
//	@Param		id		path		string				true	"Integration ID"
//	@Param		request	body		CredentialsRequest	true	"Plaintext credentials"
//	@Success	200		{object}	dto.Response{data=integrationapp.IntegrationResponse}
//	@Security	BearerAuth
//	@Router		/integrations/{id}/credentials [put]
func (h *IntegrationHandler) SetCredentials(c *gin.Context) {
	orgID, ok := h.organizationID(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req CredentialsRequest
	if !h.bindJSON(c, &req) {
		return
	}
	i, err := h.registry.SetCredentials(c.Request.Context(), orgID, id, req.toCredentials())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, h.toResponse(i))
}

// TestConnection godoc
//
//	@Summary	Test the provider connection with the stored credentials
//	@Tags		integrations
//	@Produce	json
//	@Param		id	path		string	true	"Integration ID"
//	@Success	200	{object}	dto.Response{data=integration.ConnectionResult}
//	@Security	BearerAuth
//	@Router		/integrations/{id}/test-connection [post]
func (h *IntegrationHandler) TestConnection(c *gin.Context) {
	orgID, ok := h.organizationID(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	result, err := h.registry.TestConnection(c.Request.Context(), orgID, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// CheckAll godoc
//
//	@Summary	Test the connection of every active integration of the organization
//	@Tags		integrations
//	@Produce	json
//	@Success	200	{object}	dto.Response{data=[]ConnectionCheckResponse}
//	@Security	BearerAuth
//	@Router		/integrations/test-connection [post]
func (h *IntegrationHandler) CheckAll(c *gin.Context) {
	orgID, ok := h.organizationID(c)
	if !ok {
		return
	}
	results, err := h.registry.CheckOrganization(c.Request.Context(), orgID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]ConnectionCheckResponse, 0, len(results))
	for id, r := range results {
		out = append(out, ConnectionCheckResponse{IntegrationID: id, ConnectionResult: r})
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].IntegrationID.String() < out[b].IntegrationID.String()
	})
	h.SuccessList(c, out, len(out), 0)
}
