package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kweaver-ai/sandboxctl/internal/apperrors"
	"github.com/kweaver-ai/sandboxctl/internal/domain"
	"github.com/kweaver-ai/sandboxctl/internal/services"
)

// ExecutionHandler exposes execute, execute-sync, status, result, and list.
type ExecutionHandler struct {
	executions *services.ExecutionService
}

func NewExecutionHandler(executions *services.ExecutionService) *ExecutionHandler {
	return &ExecutionHandler{executions: executions}
}

// RegisterRoutes mounts the execution routes under /executions/sessions/:id
// and /executions/:id.
func (h *ExecutionHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/executions/sessions/:id/execute", h.Execute)
	group.POST("/executions/sessions/:id/execute-sync", h.ExecuteSync)
	group.GET("/executions/sessions/:id/executions", h.List)
	group.GET("/executions/:id/status", h.Status)
	group.GET("/executions/:id/result", h.Result)
}

type executeRequest struct {
	Code        string            `json:"code" binding:"required"`
	Language    string            `json:"language" binding:"required"`
	Timeout     int               `json:"timeout_seconds"`
	Event       string            `json:"event"`
	EnvVars     map[string]string `json:"env_vars"`
	PollInterval float64          `json:"poll_interval_seconds"`
	SyncTimeout  float64          `json:"sync_timeout_seconds"`
}

type executionMetricsDTO struct {
	DurationMs   int64 `json:"duration_ms"`
	CPUTimeMs    int64 `json:"cpu_time_ms"`
	PeakMemoryMB int64 `json:"peak_memory_mb"`
	IOReadBytes  int64 `json:"io_read_bytes"`
	IOWriteBytes int64 `json:"io_write_bytes"`
}

type artifactDTO struct {
	Path         string    `json:"path"`
	SizeBytes    int64     `json:"size_bytes"`
	MimeType     string    `json:"mime_type"`
	Kind         string    `json:"kind"`
	CreatedAt    time.Time `json:"created_at"`
	SHA256       string    `json:"sha256,omitempty"`
	PresignedURL string    `json:"presigned_url,omitempty"`
}

type executionResponse struct {
	ID              string                `json:"id"`
	SessionID       string                `json:"session_id"`
	Status          string                `json:"status"`
	ExitCode        *int                  `json:"exit_code,omitempty"`
	ErrorMessage    string                `json:"error_message,omitempty"`
	Stdout          string                `json:"stdout,omitempty"`
	Stderr          string                `json:"stderr,omitempty"`
	ReturnValue     string                `json:"return_value,omitempty"`
	Metrics         *executionMetricsDTO  `json:"metrics,omitempty"`
	Artifacts       []artifactDTO         `json:"artifacts,omitempty"`
	RetryCount      int                   `json:"retry_count"`
	CreatedAt       time.Time             `json:"created_at"`
	StartedAt       *time.Time            `json:"started_at,omitempty"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
	LastHeartbeatAt *time.Time            `json:"last_heartbeat_at,omitempty"`
}

func toExecutionResponse(e *domain.Execution) executionResponse {
	resp := executionResponse{
		ID:              e.ID,
		SessionID:       e.SessionID,
		Status:          string(e.Status),
		ExitCode:        e.ExitCode,
		ErrorMessage:    e.ErrorMessage,
		Stdout:          e.Stdout,
		Stderr:          e.Stderr,
		ReturnValue:     e.ReturnValue,
		RetryCount:      e.RetryCount,
		CreatedAt:       e.CreatedAt,
		StartedAt:       e.StartedAt,
		CompletedAt:     e.CompletedAt,
		LastHeartbeatAt: e.LastHeartbeatAt,
	}
	if e.Metrics != nil {
		resp.Metrics = &executionMetricsDTO{
			DurationMs:   e.Metrics.DurationMs,
			CPUTimeMs:    e.Metrics.CPUTimeMs,
			PeakMemoryMB: e.Metrics.PeakMemoryMB,
			IOReadBytes:  e.Metrics.IOReadBytes,
			IOWriteBytes: e.Metrics.IOWriteBytes,
		}
	}
	for _, a := range e.Artifacts {
		resp.Artifacts = append(resp.Artifacts, artifactDTO{
			Path:         a.Path,
			SizeBytes:    a.SizeBytes,
			MimeType:     a.MimeType,
			Kind:         string(a.Kind),
			CreatedAt:    a.CreatedAt,
			SHA256:       a.SHA256,
			PresignedURL: a.PresignedURL,
		})
	}
	return resp
}

func (h *ExecutionHandler) Execute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.ExecutionValidation(err.Error()))
		return
	}

	execution, err := h.executions.ExecuteCode(c.Request.Context(), services.ExecuteCodeInput{
		SessionID: c.Param("id"),
		Code:      req.Code,
		Language:  req.Language,
		Timeout:   req.Timeout,
		Event:     req.Event,
		EnvVars:   req.EnvVars,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toExecutionResponse(execution))
}

func (h *ExecutionHandler) ExecuteSync(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.ExecutionValidation(err.Error()))
		return
	}

	poll := time.Duration(req.PollInterval * float64(time.Second))
	syncTimeout := time.Duration(req.SyncTimeout * float64(time.Second))

	execution, err := h.executions.ExecuteSync(c.Request.Context(), services.ExecuteCodeInput{
		SessionID: c.Param("id"),
		Code:      req.Code,
		Language:  req.Language,
		Timeout:   req.Timeout,
		Event:     req.Event,
		EnvVars:   req.EnvVars,
	}, poll, syncTimeout)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toExecutionResponse(execution))
}

// Status returns a lightweight view for polling loops that don't need
// stdout/stderr/artifacts on every call.
func (h *ExecutionHandler) Status(c *gin.Context) {
	execution, err := h.executions.GetExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         execution.ID,
		"session_id": execution.SessionID,
		"status":     string(execution.Status),
		"exit_code":  execution.ExitCode,
	})
}

// Result returns the full execution, including stdout/stderr and artifacts.
func (h *ExecutionHandler) Result(c *gin.Context) {
	execution, err := h.executions.GetExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toExecutionResponse(execution))
}

func (h *ExecutionHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	executions, total, err := h.executions.ListExecutions(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}

	items := make([]executionResponse, 0, len(executions))
	for _, e := range executions {
		items = append(items, toExecutionResponse(e))
	}
	c.JSON(http.StatusOK, gin.H{
		"items":  items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}
