// Package httpapi composes the gin.Engine serving the control plane's
// public REST surface and the internal executor callback surface.
package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/kweaver-ai/sandboxctl/internal/cache"
	"github.com/kweaver-ai/sandboxctl/internal/callback"
	"github.com/kweaver-ai/sandboxctl/internal/httpapi/handlers"
	"github.com/kweaver-ai/sandboxctl/internal/httpapi/middleware"
	"github.com/kweaver-ai/sandboxctl/internal/services"
)

// Dependencies holds everything the router needs to wire handlers.
type Dependencies struct {
	Sessions         *services.SessionService
	Executions       *services.ExecutionService
	Templates        *services.TemplateService
	Files            *services.FileService
	Callbacks        *callback.Sink
	Cache            *cache.Cache
	InternalAPIToken string
}

// NewRouter builds the gin.Engine: RequestID and AccessLog apply to every
// route, the internal callback group additionally requires a bearer token
// matching InternalAPIToken.
func NewRouter(deps Dependencies) *gin.Engine {
	engine := gin.New()
	engine.Use(middleware.RequestID(), gin.Recovery(), middleware.AccessLog())

	public := engine.Group("/")
	handlers.NewHealthHandler().RegisterRoutes(public)
	handlers.NewSessionHandler(deps.Sessions, deps.Cache).RegisterRoutes(public)
	handlers.NewExecutionHandler(deps.Executions).RegisterRoutes(public)
	handlers.NewTemplateHandler(deps.Templates, deps.Cache).RegisterRoutes(public)
	handlers.NewFileHandler(deps.Files).RegisterRoutes(public)

	internal := engine.Group("/internal")
	internal.Use(middleware.BearerAuth(deps.InternalAPIToken))
	deps.Callbacks.RegisterRoutes(internal)

	return engine
}
