package handler

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/contractiq/backend/internal/interfaces/http/dto"
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping() error
}

// RunCounter reports in-flight sync runs
type RunCounter interface {
	ActiveRuns() int
}

// QueueReporter reports sync requests waiting for a worker
type QueueReporter interface {
	QueueDepth() int
}

// SystemHandler handles health endpoints
type SystemHandler struct {
	BaseHandler
	name      string
	version   string
	db        Pinger
	runs      RunCounter
	queue     QueueReporter
	startTime time.Time
}

// NewSystemHandler creates a new SystemHandler. db and runs may be nil.
func NewSystemHandler(name, version string, db Pinger, runs RunCounter) *SystemHandler {
	return &SystemHandler{
		name:      name,
		version:   version,
		db:        db,
		runs:      runs,
		startTime: time.Now(),
	}
}

// WithQueue adds the worker queue depth to health responses
func (h *SystemHandler) WithQueue(q QueueReporter) *SystemHandler {
	h.queue = q
	return h
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string `json:"status" example:"ok"`
	Name       string `json:"name" example:"clm-sync"`
	Version    string `json:"version" example:"1.0.0"`
	GoVersion  string `json:"go_version" example:"go1.25.5"`
	Uptime     string `json:"uptime" example:"1h30m45s"`
	Database   string `json:"database" example:"ok"`
	ActiveRuns int    `json:"active_runs"`
	QueueDepth int    `json:"queue_depth"`
}

// Health godoc
//
//	@Summary	Health check
//	@Tags		system
//	@Produce	json
//	@Success	200	{object}	dto.Response{data=HealthResponse}
//	@Failure	503	{object}	dto.Response{data=HealthResponse}
//	@Router		/health [get]
func (h *SystemHandler) Health(c *gin.Context) {
	resp := HealthResponse{
		Status:    "ok",
		Name:      h.name,
		Version:   h.version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Database:  "ok",
	}
	if h.runs != nil {
		resp.ActiveRuns = h.runs.ActiveRuns()
	}
	if h.queue != nil {
		resp.QueueDepth = h.queue.QueueDepth()
	}
	status := http.StatusOK
	if h.db != nil {
		if err := h.db.Ping(); err != nil {
			resp.Status = "degraded"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, dto.NewSuccessResponse(resp))
}
