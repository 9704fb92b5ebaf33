// Package router assembles the sync API's route table.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/contractiq/backend/internal/infrastructure/auth"
	"github.com/contractiq/backend/internal/interfaces/http/handler"
	"github.com/contractiq/backend/internal/interfaces/http/middleware"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a RouteRegistrar to be registered by Setup
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup registers all routes under /api/<version>
func (r *Router) Setup() {
	api := r.engine.Group("/api/" + r.apiVersion)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// DomainGroup is a prefix with its own middleware and routes
type DomainGroup struct {
	name       string
	prefix     string
	routes     []routeDefinition
	middleware []gin.HandlerFunc
}

type routeDefinition struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// NewDomainGroup creates a new route group
func NewDomainGroup(name, prefix string) *DomainGroup {
	return &DomainGroup{name: name, prefix: prefix}
}

// Use adds middleware to this group
func (dg *DomainGroup) Use(middleware ...gin.HandlerFunc) *DomainGroup {
	dg.middleware = append(dg.middleware, middleware...)
	return dg
}

// Handle registers a route
func (dg *DomainGroup) Handle(method, path string, handlers ...gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{method: method, path: path, handlers: handlers})
	return dg
}

// GET registers a GET route
func (dg *DomainGroup) GET(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.Handle(http.MethodGet, path, handlers...)
}

// POST registers a POST route
func (dg *DomainGroup) POST(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.Handle(http.MethodPost, path, handlers...)
}

// PUT registers a PUT route
func (dg *DomainGroup) PUT(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.Handle(http.MethodPut, path, handlers...)
}

// RegisterRoutes implements RouteRegistrar
func (dg *DomainGroup) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group(dg.prefix)
	if len(dg.middleware) > 0 {
		group.Use(dg.middleware...)
	}
	for _, route := range dg.routes {
		group.Handle(route.method, route.path, route.handlers...)
	}
}

// Name returns the group name
func (dg *DomainGroup) Name() string {
	return dg.name
}

// Handlers bundles the API handlers
type Handlers struct {
	System        *handler.SystemHandler
	Integrations  *handler.IntegrationHandler
	SyncOperation *handler.SyncOperationHandler
	Webhooks      *handler.WebhookHandler
}

// Config controls the route table
type Config struct {
	JWT *auth.JWTService
	// APIRateLimiter, when set, limits authenticated callers per organization
	APIRateLimiter *middleware.RateLimiter
	// WebhookRateLimiter, when set, limits pushes per integration
	WebhookRateLimiter *middleware.RateLimiter
}

// Setup wires the sync API onto engine: /health at the root, the
// authenticated management API and the signature-checked webhook
// receiver under /api/v1.
func Setup(engine *gin.Engine, h Handlers, cfg Config) {
	engine.GET("/health", h.System.Health)

	authed := []gin.HandlerFunc{middleware.JWTAuthMiddleware(cfg.JWT)}
	if cfg.APIRateLimiter != nil {
		authed = append(authed, middleware.RateLimitByKey(cfg.APIRateLimiter, func(c *gin.Context) string {
			return c.GetString(middleware.JWTOrganizationIDKey)
		}))
	}
	read := middleware.RequireScope(auth.ScopeIntegrationsRead, auth.ScopeIntegrationsWrite)
	write := middleware.RequireScope(auth.ScopeIntegrationsWrite)
	run := middleware.RequireScope(auth.ScopeSyncRun)

	system := NewDomainGroup("system", "")
	system.GET("/health", h.System.Health)

	integrations := NewDomainGroup("integrations", "/integrations").Use(authed...)
	integrations.
		POST("", write, h.Integrations.Create).
		GET("", read, h.Integrations.List).
		POST("/test-connection", write, h.Integrations.CheckAll).
		GET("/:id", read, h.Integrations.Get).
		PUT("/:id/status", write, h.Integrations.UpdateStatus).
		PUT("/:id/credentials", write, h.Integrations.SetCredentials).
		POST("/:id/test-connection", write, h.Integrations.TestConnection).
		POST("/:id/sync", run, h.SyncOperation.StartSync).
		GET("/:id/sync-operations", read, h.SyncOperation.History)

	operations := NewDomainGroup("sync-operations", "/sync-operations").Use(authed...)
	operations.
		GET("/:id", read, h.SyncOperation.Get).
		POST("/:id/cancel", run, h.SyncOperation.Cancel)

	webhooks := NewDomainGroup("webhooks", "/webhooks")
	if cfg.WebhookRateLimiter != nil {
		webhooks.Use(middleware.RateLimitByKey(cfg.WebhookRateLimiter, func(c *gin.Context) string {
			return c.Param("integrationId")
		}))
	}
	webhooks.POST("/clm/:integrationId", h.Webhooks.Receive)

	NewRouter(engine).
		Register(system).
		Register(integrations).
		Register(operations).
		Register(webhooks).
		Setup()
}
