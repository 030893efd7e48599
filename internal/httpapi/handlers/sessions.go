// Package handlers implements the gin handlers for the public REST
// surface: sessions, executions, templates, and files.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kweaver-ai/sandboxctl/internal/apperrors"
	"github.com/kweaver-ai/sandboxctl/internal/cache"
	"github.com/kweaver-ai/sandboxctl/internal/domain"
	"github.com/kweaver-ai/sandboxctl/internal/httpapi/middleware"
	"github.com/kweaver-ai/sandboxctl/internal/services"
)

// SessionHandler exposes CreateSession, GetSession, and TerminateSession.
type SessionHandler struct {
	sessions *services.SessionService
	cache    *cache.Cache
}

func NewSessionHandler(sessions *services.SessionService, c *cache.Cache) *SessionHandler {
	return &SessionHandler{sessions: sessions, cache: c}
}

// RegisterRoutes mounts the /sessions group. GET /sessions/:id is cached
// for a few seconds; Create and Terminate invalidate the session cache
// after they mutate state.
func (h *SessionHandler) RegisterRoutes(group *gin.RouterGroup) {
	sessions := group.Group("/sessions")
	sessions.POST("", cache.InvalidateMiddleware(h.cache, cache.SessionPattern()), h.Create)
	sessions.GET("/:id", cache.Middleware(h.cache, 10*time.Second), h.Get)
	sessions.DELETE("/:id", cache.InvalidateMiddleware(h.cache, cache.SessionPattern()), h.Terminate)
}

type dependencySpecRequest struct {
	Name    string `json:"name" binding:"required"`
	Version string `json:"version"`
}

type createSessionRequest struct {
	TemplateID      string                  `json:"template_id" binding:"required"`
	Timeout         int                     `json:"timeout_seconds"`
	CPU             string                  `json:"cpu"`
	Memory          string                  `json:"memory"`
	Disk            string                  `json:"disk"`
	MaxProcesses    int                     `json:"max_processes"`
	EnvVars         map[string]string       `json:"env_vars"`
	Dependencies    []dependencySpecRequest `json:"dependencies"`
	WorkspaceBucket string                  `json:"workspace_bucket"`
}

type sessionResponse struct {
	ID              string            `json:"id"`
	TemplateID      string            `json:"template_id"`
	Status          string            `json:"status"`
	WorkspacePath   string            `json:"workspace_path"`
	RuntimeType     string            `json:"runtime_type"`
	ContainerID     string            `json:"container_id,omitempty"`
	Limits          resourceLimitDTO  `json:"limits"`
	EnvVars         map[string]string `json:"env_vars,omitempty"`
	TimeoutSeconds  int               `json:"timeout_seconds"`
	InstallState    string            `json:"install_state"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	LastActivityAt  time.Time         `json:"last_activity_at"`
}

type resourceLimitDTO struct {
	CPU          string `json:"cpu"`
	Memory       string `json:"memory"`
	Disk         string `json:"disk"`
	MaxProcesses int    `json:"max_processes"`
}

func toSessionResponse(s *domain.Session) sessionResponse {
	return sessionResponse{
		ID:            s.ID,
		TemplateID:    s.TemplateID,
		Status:        string(s.Status),
		WorkspacePath: s.WorkspacePath,
		RuntimeType:   s.RuntimeType,
		ContainerID:   s.ContainerID,
		Limits: resourceLimitDTO{
			CPU:          s.Limits.CPU,
			Memory:       s.Limits.Memory,
			Disk:         s.Limits.Disk,
			MaxProcesses: s.Limits.MaxProcesses,
		},
		EnvVars:        s.EnvVars,
		TimeoutSeconds: s.TimeoutSeconds,
		InstallState:   string(s.InstallState),
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		CompletedAt:    s.CompletedAt,
		LastActivityAt: s.LastActivityAt,
	}
}

func (h *SessionHandler) Create(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.SessionValidation(err.Error()))
		return
	}

	deps := make([]domain.DependencySpec, 0, len(req.Dependencies))
	for _, d := range req.Dependencies {
		deps = append(deps, domain.DependencySpec{Name: d.Name, Version: d.Version})
	}

	session, err := h.sessions.CreateSession(c.Request.Context(), services.CreateSessionInput{
		TemplateID:      req.TemplateID,
		Timeout:         req.Timeout,
		CPU:             req.CPU,
		Memory:          req.Memory,
		Disk:            req.Disk,
		MaxProcesses:    req.MaxProcesses,
		EnvVars:         req.EnvVars,
		Dependencies:    deps,
		WorkspaceBucket: req.WorkspaceBucket,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toSessionResponse(session))
}

func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.sessions.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(session))
}

func (h *SessionHandler) Terminate(c *gin.Context) {
	session, err := h.sessions.TerminateSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(session))
}

// writeError converts any error into the standardized AppError response
// shape, defaulting to an internal error if the service layer returned
// something unexpected.
func writeError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !apperrors.As(err, &appErr) {
		appErr = apperrors.Internal(err)
	}
	c.JSON(appErr.StatusCode, appErr.ToResponse(middleware.GetRequestID(c)))
}
