package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler serves a liveness probe with no dependency checks: the
// process is up and serving requests.
type HealthHandler struct{}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

func (h *HealthHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/health", h.Health)
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
