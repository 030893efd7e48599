// Package callback implements the HTTP handlers the in-container executor
// agent calls back into to report container readiness, exit, heartbeats,
// and execution results.
package callback

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kweaver-ai/sandboxctl/internal/apperrors"
	"github.com/kweaver-ai/sandboxctl/internal/clock"
	"github.com/kweaver-ai/sandboxctl/internal/domain"
	"github.com/kweaver-ai/sandboxctl/internal/logging"
	"github.com/kweaver-ai/sandboxctl/internal/repository"
)

// Sink reduces executor-reported events into Session/Execution state.
type Sink struct {
	sessions   repository.SessionRepository
	executions repository.ExecutionRepository
	clock      clock.Clock
}

// New constructs a Sink.
func New(sessions repository.SessionRepository, executions repository.ExecutionRepository, c clock.Clock) *Sink {
	if c == nil {
		c = clock.Real()
	}
	return &Sink{sessions: sessions, executions: executions, clock: c}
}

// RegisterRoutes mounts the internal callback endpoints under group, which
// the caller should already have wrapped with bearer-token middleware
// restricting access to the container network.
func (s *Sink) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/containers/ready", s.ContainerReady)
	group.POST("/containers/exited", s.ContainerExited)
	group.POST("/executions/:id/heartbeat", s.ExecutionHeartbeat)
	group.POST("/executions/:id/result", s.ExecutionResult)
}

type containerReadyRequest struct {
	ContainerID  string    `json:"container_id" binding:"required"`
	HostOrPod    string    `json:"host_or_pod"`
	ExecutorPort int       `json:"executor_port"`
	ReadyAt      time.Time `json:"ready_at"`
}

// ContainerReady handles POST /containers/ready: if the owning Session is
// CREATING, it flips to RUNNING. Idempotent — a repeat ready report on an
// already-RUNNING session is a no-op 200.
func (s *Sink) ContainerReady(c *gin.Context) {
	var req containerReadyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.New(apperrors.CodeSessionValidation, "invalid ready payload").WithDetail(err.Error()))
		return
	}

	session, err := s.findByContainerID(c, req.ContainerID)
	if err != nil {
		writeError(c, err)
		return
	}

	now := s.clock.Now()
	session.MarkRunning(now)
	if err := s.sessions.Update(c.Request.Context(), session); err != nil {
		writeError(c, apperrors.Internal(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": session.ID, "status": session.Status})
}

type containerExitedRequest struct {
	ContainerID string `json:"container_id" binding:"required"`
	ExitCode    int    `json:"exit_code"`
	ExitReason  string `json:"exit_reason" binding:"required"` // normal|sigterm|sigkill|oom_killed|error
}

// ContainerExited handles POST /containers/exited: marks the Session FAILED,
// or TIMEOUT if the exit reason is sigterm and the creation deadline had
// already elapsed.
func (s *Sink) ContainerExited(c *gin.Context) {
	var req containerExitedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.New(apperrors.CodeSessionValidation, "invalid exited payload").WithDetail(err.Error()))
		return
	}

	session, err := s.findByContainerID(c, req.ContainerID)
	if err != nil {
		writeError(c, err)
		return
	}

	if !session.IsActive() {
		c.JSON(http.StatusOK, gin.H{"session_id": session.ID, "status": session.Status})
		return
	}

	now := s.clock.Now()
	status := domain.SessionFailed
	if req.ExitReason == "sigterm" && session.CreationDeadlineExceeded(now, creationDeadline) {
		status = domain.SessionTimeout
	}
	session.MarkTerminal(status, now)
	if err := s.sessions.Update(c.Request.Context(), session); err != nil {
		writeError(c, apperrors.Internal(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": session.ID, "status": session.Status})
}

// creationDeadline bounds how long a session may sit in CREATING before a
// sigterm exit is attributed to a missed startup deadline rather than a
// normal termination.
const creationDeadline = 5 * time.Minute

type heartbeatRequest struct {
	Timestamp time.Time              `json:"timestamp"`
	Progress  map[string]interface{} `json:"progress,omitempty"`
}

// ExecutionHeartbeat handles POST /executions/:id/heartbeat. Heartbeats on
// an unknown execution id are accepted and logged rather than rejected,
// since a late heartbeat racing a reconciler's cleanup is expected.
func (s *Sink) ExecutionHeartbeat(c *gin.Context) {
	id := c.Param("id")
	var req heartbeatRequest
	_ = c.ShouldBindJSON(&req) // best effort; absent body is fine

	execution, err := s.executions.Get(c.Request.Context(), id)
	if err != nil {
		logging.Callback().Info().Str("execution_id", id).Msg("heartbeat for unknown execution")
		c.JSON(http.StatusOK, gin.H{"accepted": true})
		return
	}

	now := s.clock.Now()
	execution.RecordHeartbeat(now)
	if err := s.executions.Update(c.Request.Context(), execution); err != nil {
		writeError(c, apperrors.Internal(err))
		return
	}

	if session, err := s.sessions.Get(c.Request.Context(), execution.SessionID); err == nil {
		session.BumpActivity(now)
		_ = s.sessions.Update(c.Request.Context(), session)
	}

	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

type executionMetricsRequest struct {
	DurationMs   int64 `json:"duration_ms"`
	CPUTimeMs    int64 `json:"cpu_time_ms"`
	PeakMemoryMB int64 `json:"peak_memory_mb"`
	IOReadBytes  int64 `json:"io_read_bytes"`
	IOWriteBytes int64 `json:"io_write_bytes"`
}

type artifactRequest struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type"`
	Kind      string `json:"kind"`
	SHA256    string `json:"sha256"`
}

type executionResultRequest struct {
	Status          string                   `json:"status" binding:"required"` // success|failed|timeout|crashed
	Stdout          string                   `json:"stdout"`
	Stderr          string                   `json:"stderr"`
	ExitCode        int                      `json:"exit_code"`
	ExecutionTimeMS int64                    `json:"execution_time_ms"`
	ReturnValue     string                   `json:"return_value,omitempty"`
	Metrics         *executionMetricsRequest `json:"metrics,omitempty"`
	Artifacts       []artifactRequest        `json:"artifacts,omitempty"`
}

var resultStatusMap = map[string]domain.ExecutionStatus{
	"success": domain.ExecutionCompleted,
	"failed":  domain.ExecutionFailed,
	"timeout": domain.ExecutionTimeout,
	"crashed": domain.ExecutionCrashed,
}

// ExecutionResult handles POST /executions/:id/result. The executor sets
// Idempotency-Key to the execution id; the handler itself is idempotent by
// (execution_id, already-terminal) regardless of whether that header is
// present. Returns 404 unknown id, 400 unknown status, 409 illegal
// transition, 200 idempotent re-report, 201 first successful reduction.
func (s *Sink) ExecutionResult(c *gin.Context) {
	id := c.Param("id")
	var req executionResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.New(apperrors.CodeExecutionValidation, "invalid result payload").WithDetail(err.Error()))
		return
	}

	status, ok := resultStatusMap[req.Status]
	if !ok {
		writeError(c, apperrors.ExecutionUnknownStatus(req.Status))
		return
	}

	execution, err := s.executions.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, apperrors.ExecutionNotFound(id))
		return
	}

	if execution.Status.IsTerminal() {
		c.JSON(http.StatusOK, gin.H{"execution_id": execution.ID, "status": execution.Status})
		return
	}

	now := s.clock.Now()
	execution.Stdout = domain.SetOutput(req.Stdout, domain.MaxCapturedOutputBytes)
	execution.Stderr = domain.SetOutput(req.Stderr, domain.MaxCapturedOutputBytes)
	if req.ReturnValue != "" {
		if err := execution.SetReturnValue(req.ReturnValue); err != nil {
			writeError(c, apperrors.New(apperrors.CodeExecutionValidation, err.Error()))
			return
		}
	}
	if req.Metrics != nil {
		execution.Metrics = &domain.ExecutionMetrics{
			DurationMs:   req.Metrics.DurationMs,
			CPUTimeMs:    req.Metrics.CPUTimeMs,
			PeakMemoryMB: req.Metrics.PeakMemoryMB,
			IOReadBytes:  req.Metrics.IOReadBytes,
			IOWriteBytes: req.Metrics.IOWriteBytes,
		}
	}
	if len(req.Artifacts) > 0 {
		artifacts := make([]domain.Artifact, 0, len(req.Artifacts))
		for _, a := range req.Artifacts {
			artifacts = append(artifacts, domain.Artifact{
				Path:      a.Path,
				SizeBytes: a.SizeBytes,
				MimeType:  a.MimeType,
				Kind:      domain.ArtifactKind(a.Kind),
				SHA256:    a.SHA256,
				CreatedAt: now,
			})
		}
		execution.Artifacts = artifacts
	}

	exitCode := req.ExitCode
	if err := execution.ApplyTerminal(status, &exitCode, "", now); err != nil {
		writeError(c, apperrors.ExecutionStateConflict(err.Error()))
		return
	}

	if err := s.executions.Update(c.Request.Context(), execution); err != nil {
		writeError(c, apperrors.Internal(err))
		return
	}

	if session, err := s.sessions.Get(c.Request.Context(), execution.SessionID); err == nil {
		session.BumpActivity(now)
		_ = s.sessions.Update(c.Request.Context(), session)
	}

	c.JSON(http.StatusCreated, gin.H{"execution_id": execution.ID, "status": execution.Status})
}

func (s *Sink) findByContainerID(c *gin.Context, containerID string) (*domain.Session, error) {
	session, err := s.sessions.GetByContainerID(c.Request.Context(), containerID)
	if err != nil {
		return nil, apperrors.SessionNotFound(containerID)
	}
	return session, nil
}

func writeError(c *gin.Context, err error) {
	appErr := &apperrors.AppError{}
	if !apperrors.As(err, &appErr) {
		appErr = apperrors.Internal(err)
	}
	c.JSON(appErr.StatusCode, appErr.ToResponse(c.GetHeader("X-Request-Id")))
}
