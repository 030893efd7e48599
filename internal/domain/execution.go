package domain

import (
	"fmt"
	"time"
)

// ExecutionStatus is the closed set of states an Execution passes through.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "PENDING"
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionTimeout   ExecutionStatus = "TIMEOUT"
	ExecutionCrashed   ExecutionStatus = "CRASHED"
)

func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionTimeout, ExecutionCrashed:
		return true
	default:
		return false
	}
}

const (
	MaxCodeBytes         = 1 << 20 // 1 MiB
	MaxEventPayloadBytes = 64 * 1024
	MaxReturnValueBytes  = 64 * 1024
	MinExecutionTimeout  = 1
	MaxExecutionTimeout  = 3600
	MaxRetryCount        = 3
	MaxCapturedOutputBytes = 256 * 1024
	truncationMarker     = "\n...[truncated]...\n"
)

// ExecutionMetrics carries executor-reported resource usage for a run.
type ExecutionMetrics struct {
	DurationMs    int64
	CPUTimeMs     int64
	PeakMemoryMB  int64
	IOReadBytes   int64
	IOWriteBytes  int64
}

// Execution is a single code run belonging to a Session.
type Execution struct {
	ID        string
	SessionID string
	Code      string
	Language  string
	Timeout   int // seconds, 1..3600
	Event     string // JSON object, <=64KiB
	EnvVars   map[string]string

	Status       ExecutionStatus
	ExitCode     *int
	ErrorMessage string

	Stdout      string
	Stderr      string
	ReturnValue string // JSON, <=64KiB
	Metrics     *ExecutionMetrics
	Artifacts   []Artifact

	RetryCount int

	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	LastHeartbeatAt *time.Time
}

// NewExecution validates inputs and constructs a PENDING Execution.
func NewExecution(id, sessionID, code, language string, timeoutSeconds int, event string, envVars map[string]string, now time.Time) (*Execution, error) {
	if !ValidExecutionID(id) {
		return nil, fmt.Errorf("invalid execution id %q", id)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("code must not be empty")
	}
	if len(code) > MaxCodeBytes {
		return nil, fmt.Errorf("code exceeds %d bytes", MaxCodeBytes)
	}
	if timeoutSeconds < MinExecutionTimeout || timeoutSeconds > MaxExecutionTimeout {
		return nil, fmt.Errorf("timeout must be in [%d,%d] seconds, got %d", MinExecutionTimeout, MaxExecutionTimeout, timeoutSeconds)
	}
	if len(event) > MaxEventPayloadBytes {
		return nil, fmt.Errorf("event payload exceeds %d bytes", MaxEventPayloadBytes)
	}
	return &Execution{
		ID:        id,
		SessionID: sessionID,
		Code:      code,
		Language:  language,
		Timeout:   timeoutSeconds,
		Event:     event,
		EnvVars:   envVars,
		Status:    ExecutionPending,
		CreatedAt: now,
	}, nil
}

// MarkRunning applies PENDING -> RUNNING.
func (e *Execution) MarkRunning(now time.Time) error {
	if e.Status == ExecutionRunning {
		return nil
	}
	if e.Status != ExecutionPending {
		return fmt.Errorf("cannot mark running from status %s", e.Status)
	}
	e.Status = ExecutionRunning
	e.StartedAt = &now
	return nil
}

// ApplyTerminal transitions to a terminal status, auto-promoting PENDING
// through RUNNING first per the callback auto-promote rule, and is a no-op
// if already terminal (idempotent replay of the result callback).
func (e *Execution) ApplyTerminal(status ExecutionStatus, exitCode *int, errorMessage string, now time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%s is not a terminal status", status)
	}
	if e.Status.IsTerminal() {
		return nil
	}
	if e.Status == ExecutionPending {
		if err := e.MarkRunning(now); err != nil {
			return err
		}
	}
	e.Status = status
	e.ExitCode = exitCode
	e.ErrorMessage = errorMessage
	e.CompletedAt = &now
	return nil
}

// CanRetry reports whether a CRASHED execution is eligible for a retry.
func (e *Execution) CanRetry() bool {
	return e.Status == ExecutionCrashed && e.RetryCount < MaxRetryCount
}

// RecordHeartbeat updates the last-heartbeat timestamp; ignored once the
// execution has reached a terminal state.
func (e *Execution) RecordHeartbeat(now time.Time) {
	if e.Status.IsTerminal() {
		return
	}
	e.LastHeartbeatAt = &now
}

// SetOutput truncates stdout/stderr to maxLen, appending a marker when the
// captured stream was cut.
func SetOutput(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + truncationMarker
}

// SetReturnValue validates the return_value payload size.
func (e *Execution) SetReturnValue(value string) error {
	if len(value) > MaxReturnValueBytes {
		return fmt.Errorf("return_value exceeds %d bytes", MaxReturnValueBytes)
	}
	e.ReturnValue = value
	return nil
}

// ArtifactKind enumerates the closed set of artifact categories.
type ArtifactKind string

const (
	ArtifactKindArtifact ArtifactKind = "ARTIFACT"
	ArtifactKindLog      ArtifactKind = "LOG"
	ArtifactKindOutput   ArtifactKind = "OUTPUT"
)

// Artifact describes a file produced by an Execution and persisted to
// object storage under the session's workspace prefix.
type Artifact struct {
	Path         string
	SizeBytes    int64
	MimeType     string
	Kind         ArtifactKind
	CreatedAt    time.Time
	SHA256       string
	PresignedURL string
}

// ValidateArtifactPath rejects absolute paths and path traversal, the
// boundary contract shared by upload/download and artifact registration.
func ValidateArtifactPath(path string) error {
	if path == "" {
		return fmt.Errorf("path must not be empty")
	}
	if path[0] == '/' {
		return fmt.Errorf("path must be relative")
	}
	for _, seg := range splitPath(path) {
		if seg == ".." {
			return fmt.Errorf("path must not contain '..' segments")
		}
	}
	return nil
}

func splitPath(path string) []string {
	var segs []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				segs = append(segs, path[start:i])
			}
			start = i + 1
		}
	}
	return segs
}
