package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kweaver-ai/sandboxctl/internal/apperrors"
	"github.com/kweaver-ai/sandboxctl/internal/cache"
	"github.com/kweaver-ai/sandboxctl/internal/domain"
	"github.com/kweaver-ai/sandboxctl/internal/services"
)

// TemplateHandler exposes the template catalog CRUD surface. The catalog
// changes rarely relative to how often it's read, so GET/list are cached
// longer than session lookups.
type TemplateHandler struct {
	templates *services.TemplateService
	cache     *cache.Cache
}

func NewTemplateHandler(templates *services.TemplateService, c *cache.Cache) *TemplateHandler {
	return &TemplateHandler{templates: templates, cache: c}
}

func (h *TemplateHandler) RegisterRoutes(group *gin.RouterGroup) {
	templates := group.Group("/templates")
	templates.POST("", cache.InvalidateMiddleware(h.cache, cache.TemplatePattern()), h.Create)
	templates.GET("", cache.Middleware(h.cache, 5*time.Minute), h.List)
	templates.GET("/:id", cache.Middleware(h.cache, 5*time.Minute), h.Get)
	templates.PATCH("/:id", cache.InvalidateMiddleware(h.cache, cache.TemplatePattern()), h.Update)
	templates.DELETE("/:id", cache.InvalidateMiddleware(h.cache, cache.TemplatePattern()), h.Delete)
}

type createTemplateRequest struct {
	ID             string `json:"id" binding:"required"`
	DisplayName    string `json:"display_name" binding:"required"`
	ImageRef       string `json:"image_ref" binding:"required"`
	RuntimeKind    string `json:"runtime_kind" binding:"required"`
	CPU            string `json:"cpu"`
	Memory         string `json:"memory"`
	Disk           string `json:"disk"`
	MaxProcesses   int    `json:"max_processes"`
	DefaultTimeout int    `json:"default_timeout_seconds"`
}

type updateTemplateRequest struct {
	DisplayName    string `json:"display_name"`
	CPU            string `json:"cpu"`
	Memory         string `json:"memory"`
	Disk           string `json:"disk"`
	MaxProcesses   int    `json:"max_processes"`
	DefaultTimeout int    `json:"default_timeout_seconds"`
}

type templateResponse struct {
	ID             string           `json:"id"`
	DisplayName    string           `json:"display_name"`
	ImageRef       string           `json:"image_ref"`
	RuntimeKind    string           `json:"runtime_kind"`
	DefaultLimits  resourceLimitDTO `json:"default_limits"`
	DefaultTimeout int              `json:"default_timeout_seconds"`
}

func toTemplateResponse(t *domain.Template) templateResponse {
	return templateResponse{
		ID:          t.ID,
		DisplayName: t.DisplayName,
		ImageRef:    t.ImageRef,
		RuntimeKind: string(t.RuntimeKind),
		DefaultLimits: resourceLimitDTO{
			CPU:          t.DefaultLimits.CPU,
			Memory:       t.DefaultLimits.Memory,
			Disk:         t.DefaultLimits.Disk,
			MaxProcesses: t.DefaultLimits.MaxProcesses,
		},
		DefaultTimeout: t.DefaultTimeout,
	}
}

func (h *TemplateHandler) Create(c *gin.Context) {
	var req createTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.TemplateValidation(err.Error()))
		return
	}

	limits := domain.DefaultResourceLimit()
	if req.CPU != "" {
		limits.CPU = req.CPU
	}
	if req.Memory != "" {
		limits.Memory = req.Memory
	}
	if req.Disk != "" {
		limits.Disk = req.Disk
	}
	if req.MaxProcesses > 0 {
		limits.MaxProcesses = req.MaxProcesses
	}

	tmpl, err := h.templates.CreateTemplate(c.Request.Context(), services.CreateTemplateInput{
		ID:             req.ID,
		DisplayName:    req.DisplayName,
		ImageRef:       req.ImageRef,
		RuntimeKind:    req.RuntimeKind,
		DefaultLimits:  limits,
		DefaultTimeout: req.DefaultTimeout,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toTemplateResponse(tmpl))
}

func (h *TemplateHandler) Get(c *gin.Context) {
	tmpl, err := h.templates.GetTemplate(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTemplateResponse(tmpl))
}

func (h *TemplateHandler) List(c *gin.Context) {
	tmpls, err := h.templates.ListTemplates(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	items := make([]templateResponse, 0, len(tmpls))
	for _, t := range tmpls {
		items = append(items, toTemplateResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *TemplateHandler) Update(c *gin.Context) {
	var req updateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.TemplateValidation(err.Error()))
		return
	}

	var limits domain.ResourceLimit
	if req.CPU != "" || req.Memory != "" || req.Disk != "" || req.MaxProcesses > 0 {
		limits = domain.ResourceLimit{CPU: req.CPU, Memory: req.Memory, Disk: req.Disk, MaxProcesses: req.MaxProcesses}
	}

	tmpl, err := h.templates.UpdateTemplate(c.Request.Context(), c.Param("id"), services.UpdateTemplateInput{
		DisplayName:    req.DisplayName,
		DefaultLimits:  limits,
		DefaultTimeout: req.DefaultTimeout,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTemplateResponse(tmpl))
}

func (h *TemplateHandler) Delete(c *gin.Context) {
	if err := h.templates.DeleteTemplate(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
