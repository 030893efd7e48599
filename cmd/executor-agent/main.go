// Command executor-agent is a minimal reference implementation of the
// in-container executor contract: it receives a code payload over HTTP,
// runs it as a subprocess (optionally wrapped in bubblewrap), captures
// stdout/stderr, and reports readiness, heartbeats, and the final result
// back to the control plane. It is a reference, not a hardened sandbox.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	logger := log.With().Str("component", "executor-agent").Logger()

	cfg := loadConfig()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	a := &agent{cfg: cfg, log: logger, client: &http.Client{Timeout: 30 * time.Second}}
	router.POST("/execute", a.Execute)
	router.GET("/healthz", a.Healthz)

	go a.reportReady()

	addr := fmt.Sprintf(":%d", cfg.ExecutorPort)
	logger.Info().Str("addr", addr).Msg("executor agent listening")
	if err := router.Run(addr); err != nil {
		logger.Fatal().Err(err).Msg("executor agent server failed")
	}
}

type config struct {
	SessionID        string
	WorkspacePath    string
	ControlPlaneURL  string
	InternalAPIToken string
	ExecutorPort     int
	DisableBwrap     bool
	ContainerID      string
	HostOrPod        string
}

func loadConfig() config {
	return config{
		SessionID:        os.Getenv("SESSION_ID"),
		WorkspacePath:    getEnvOr("WORKSPACE_PATH", "/workspace"),
		ControlPlaneURL:  os.Getenv("CONTROL_PLANE_URL"),
		InternalAPIToken: os.Getenv("INTERNAL_API_TOKEN"),
		ExecutorPort:     getEnvIntOr("EXECUTOR_PORT", 8080),
		DisableBwrap:     os.Getenv("DISABLE_BWRAP") == "true",
		ContainerID:      getEnvOr("CONTAINER_ID", getEnvOr("HOSTNAME", "")),
		HostOrPod:        getEnvOr("HOSTNAME", ""),
	}
}

func getEnvOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntOr(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}

type agent struct {
	cfg    config
	log    zerolog.Logger
	client *http.Client
}

type executeRequest struct {
	ExecutionID string            `json:"execution_id"`
	SessionID   string            `json:"session_id"`
	Code        string            `json:"code"`
	Language    string            `json:"language"`
	Event       json.RawMessage   `json:"event,omitempty"`
	TimeoutSec  int               `json:"timeout_seconds"`
	EnvVars     map[string]string `json:"env_vars,omitempty"`
}

// Execute accepts a code payload, acknowledges immediately, and runs the
// code in a detached goroutine: the executor contract does not wait for
// completion on this call, only on the later result callback.
func (a *agent) Execute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"execution_id": req.ExecutionID})

	go a.run(req)
}

func (a *agent) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// run executes req.Code as a subprocess, streaming a heartbeat every 5s
// while it runs, then posts the terminal result.
func (a *agent) run(req executeRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(req.TimeoutSec)*time.Second)
	defer cancel()

	cmd := a.buildCommand(ctx, req)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	for k, v := range req.EnvVars {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = append(cmd.Env, os.Environ()...)

	stop := a.startHeartbeat(req.ExecutionID)
	defer close(stop)

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	status := "success"
	exitCode := 0
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		status = "timeout"
	case err != nil:
		status = "failed"
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	a.postResult(req.ExecutionID, resultPayload{
		Status:          status,
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		ExitCode:        exitCode,
		ExecutionTimeMS: duration.Milliseconds(),
	})
}

// buildCommand wraps the interpreter invocation in bubblewrap unless
// disabled, matching the env var the scheduler injects for local
// development and CI where bwrap is unavailable.
func (a *agent) buildCommand(ctx context.Context, req executeRequest) *exec.Cmd {
	interpreter, args := interpreterFor(req.Language, req.Code)
	if a.cfg.DisableBwrap {
		return exec.CommandContext(ctx, interpreter, args...)
	}

	bwrapArgs := []string{
		"--ro-bind", "/usr", "/usr",
		"--ro-bind", "/lib", "/lib",
		"--ro-bind", "/bin", "/bin",
		"--bind", a.cfg.WorkspacePath, "/workspace",
		"--chdir", "/workspace",
		"--unshare-all",
		"--die-with-parent",
		"--",
		interpreter,
	}
	bwrapArgs = append(bwrapArgs, args...)
	return exec.CommandContext(ctx, "bwrap", bwrapArgs...)
}

func interpreterFor(language, code string) (string, []string) {
	switch language {
	case "python":
		return "python3", []string{"-c", code}
	case "javascript", "node":
		return "node", []string{"-e", code}
	case "bash", "shell":
		return "/bin/bash", []string{"-c", code}
	default:
		return "/bin/bash", []string{"-c", code}
	}
}

// startHeartbeat fires a heartbeat POST every 5s until the returned
// channel is closed, matching the executor contract's reporting cadence.
func (a *agent) startHeartbeat(executionID string) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				a.postHeartbeat(executionID)
			}
		}
	}()
	return stop
}

type resultPayload struct {
	Status          string `json:"status"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	ExitCode        int    `json:"exit_code"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
}

func (a *agent) postResult(executionID string, payload resultPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		a.log.Error().Err(err).Msg("failed to marshal result payload")
		return
	}
	url := fmt.Sprintf("%s/internal/executions/%s/result", a.cfg.ControlPlaneURL, executionID)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		a.log.Error().Err(err).Msg("failed to build result request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.InternalAPIToken)
	req.Header.Set("Idempotency-Key", executionID)

	resp, err := a.client.Do(req)
	if err != nil {
		a.log.Warn().Err(err).Str("execution_id", executionID).Msg("failed to post result")
		return
	}
	defer resp.Body.Close()
}

func (a *agent) postHeartbeat(executionID string) {
	url := fmt.Sprintf("%s/internal/executions/%s/heartbeat", a.cfg.ControlPlaneURL, executionID)
	body, _ := json.Marshal(map[string]interface{}{"timestamp": time.Now().UTC()})
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.InternalAPIToken)

	resp, err := a.client.Do(req)
	if err != nil {
		a.log.Debug().Err(err).Str("execution_id", executionID).Msg("heartbeat post failed")
		return
	}
	defer resp.Body.Close()
}

// reportReady posts the container-ready callback once at startup.
func (a *agent) reportReady() {
	payload := map[string]interface{}{
		"container_id":  a.cfg.ContainerID,
		"host_or_pod":   a.cfg.HostOrPod,
		"executor_port": a.cfg.ExecutorPort,
		"ready_at":      time.Now().UTC(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		a.log.Error().Err(err).Msg("failed to marshal ready payload")
		return
	}
	url := fmt.Sprintf("%s/internal/containers/ready", a.cfg.ControlPlaneURL)

	for attempt := 0; attempt < 10; attempt++ {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+a.cfg.InternalAPIToken)

		resp, err := a.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 300 {
				a.log.Info().Msg("reported ready to control plane")
				return
			}
		}
		time.Sleep(time.Duration(attempt+1) * time.Second)
	}
	a.log.Error().Msg("giving up reporting ready after repeated failures")
}
