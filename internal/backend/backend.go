// Package backend defines the container orchestration port the scheduler
// drives, plus Docker and Kubernetes implementations.
package backend

import (
	"context"
	"io"
	"time"
)

// ContainerConfig describes a sandbox container to create, backend-agnostic.
type ContainerConfig struct {
	SessionID      string
	TemplateID     string
	Image          string
	Name           string // desired container/pod name
	CPUCores       string // decimal core count, e.g. "1", "0.5"
	MemoryBytes    int64
	DiskBytes      int64
	MaxProcesses   int
	EnvVars        map[string]string
	Labels         map[string]string
	ExecutorPort   int
	WorkspacePath  string // s3://bucket/sessions/<id>/
	DependencySpecsJSON string // pre-serialized for sidecar/executor install step
}

// ContainerStatus is the backend-reported state of a container.
type ContainerStatus struct {
	ID        string
	Running   bool
	ExitCode  *int
	StartedAt time.Time
	HostOrPod string // container name or pod name, used for DNS-name resolution
}

// ContainerBackend is the port implemented once per orchestration target
// (Docker, Kubernetes). All operations are keyed by the backend's own
// container id, which for Docker is the engine-assigned id and for
// Kubernetes is the Pod name.
type ContainerBackend interface {
	// Create builds (but does not start) a container/pod from cfg,
	// applying the hardening fixtures mandated for this backend.
	Create(ctx context.Context, cfg ContainerConfig) (containerID string, err error)
	// Start starts a previously created container.
	Start(ctx context.Context, containerID string) error
	// Stop requests graceful termination, waiting up to gracePeriod
	// before the caller should escalate to Remove.
	Stop(ctx context.Context, containerID string, gracePeriod time.Duration) error
	// Remove forcibly deletes the container/pod and any backend-owned
	// volumes (e.g. a Kubernetes PVC created alongside it).
	Remove(ctx context.Context, containerID string) error
	// Inspect returns the current status of containerID.
	Inspect(ctx context.Context, containerID string) (ContainerStatus, error)
	// IsRunning is a cheap existence+running check used by the
	// state-sync reconciler.
	IsRunning(ctx context.Context, containerID string) (bool, error)
	// Logs streams the container's combined stdout/stderr.
	Logs(ctx context.Context, containerID string) (io.ReadCloser, error)
	// Wait blocks until the container exits or ctx is canceled.
	Wait(ctx context.Context, containerID string) (exitCode int, err error)
	// Ping verifies connectivity to the underlying orchestration API.
	Ping(ctx context.Context) error
}
