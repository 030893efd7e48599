// Package docker implements the backend.ContainerBackend port against the
// Docker Engine API for sandbox sessions scheduled onto Docker hosts.
package docker

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/kweaver-ai/sandboxctl/internal/backend"
	"github.com/kweaver-ai/sandboxctl/internal/domain"
	"github.com/kweaver-ai/sandboxctl/internal/logging"
)

// Backend implements backend.ContainerBackend using the Docker Engine SDK.
// Every container it creates is hardened per the sandbox execution
// contract: all capabilities dropped, no privilege escalation, a fixed
// non-root uid:gid, a cpu quota derived from the requested core count,
// swap disabled, and no published ports (the executor is reached over the
// shared session network by container name).
type Backend struct {
	client      *dockerclient.Client
	networkName string
}

// New connects to the Docker daemon over the given host (empty string
// picks up DOCKER_HOST from the environment, matching the engine SDK's
// default client behavior) and ensures the shared sandbox network exists.
func New(ctx context.Context, host, networkName string) (*Backend, error) {
	opts := []dockerclient.Opt{dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, dockerclient.WithHost(host))
	}
	cli, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	b := &Backend{client: cli, networkName: networkName}
	if err := b.ensureNetwork(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// ensureNetwork creates the shared bridge network sandbox containers join
// for container-name DNS resolution, if it does not already exist. It is
// idempotent and never deletes the network; network lifecycle beyond
// creation is intentionally out of scope here.
func (b *Backend) ensureNetwork(ctx context.Context) error {
	networks, err := b.client.NetworkList(ctx, types.NetworkListOptions{})
	if err != nil {
		return fmt.Errorf("list networks: %w", err)
	}
	for _, n := range networks {
		if n.Name == b.networkName {
			return nil
		}
	}
	_, err = b.client.NetworkCreate(ctx, b.networkName, types.NetworkCreate{
		Driver: "bridge",
		Labels: map[string]string{"app": "sandboxctl", "component": "session-network"},
	})
	if err != nil {
		return fmt.Errorf("create network %s: %w", b.networkName, err)
	}
	return nil
}

func (b *Backend) Create(ctx context.Context, cfg backend.ContainerConfig) (string, error) {
	log := logging.Backend()
	if err := b.ensureImage(ctx, cfg.Image); err != nil {
		return "", fmt.Errorf("ensure image %s: %w", cfg.Image, err)
	}

	env := make([]string, 0, len(cfg.EnvVars))
	for k, v := range cfg.EnvVars {
		env = append(env, k+"="+v)
	}

	executorPort := nat.Port(fmt.Sprintf("%d/tcp", cfg.ExecutorPort))
	containerCfg := &container.Config{
		Image:        cfg.Image,
		Env:          env,
		ExposedPorts: nat.PortSet{executorPort: struct{}{}},
		User:         "1000:1000",
		Labels:       cfg.Labels,
	}

	cpuQuota, err := domain.CPUQuota(cfg.CPUCores)
	if err != nil {
		return "", fmt.Errorf("invalid cpu limit: %w", err)
	}

	hostCfg := &container.HostConfig{
		// Hardening fixtures mandated for every sandbox container.
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges:true"},
		ReadonlyRootfs: false,
		Resources: container.Resources{
			NanoCPUs:     0,
			CPUQuota:     cpuQuota,
			CPUPeriod:    100000,
			Memory:       cfg.MemoryBytes,
			MemorySwap:   cfg.MemoryBytes, // swap disabled: swap == memory
			PidsLimit:    int64Ptr(int64(cfg.MaxProcesses)),
		},
		RestartPolicy: container.RestartPolicy{Name: "no"},
		// No PortBindings: ports are never published to the host; the
		// executor is reached via the shared network by container name.
	}

	networkCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			b.networkName: {},
		},
	}

	var mounts []mount.Mount
	if cfg.WorkspacePath != "" {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeVolume,
			Source: fmt.Sprintf("sandbox-%s-workspace", cfg.SessionID),
			Target: "/workspace",
		})
	}
	hostCfg.Mounts = mounts

	resp, err := b.client.ContainerCreate(ctx, containerCfg, hostCfg, networkCfg, nil, cfg.Name)
	if err != nil {
		return "", fmt.Errorf("create container %s: %w", cfg.Name, err)
	}
	log.Debug().Str("container", cfg.Name).Str("session_id", cfg.SessionID).Msg("container created")
	return resp.ID, nil
}

func (b *Backend) Start(ctx context.Context, containerID string) error {
	if err := b.client.ContainerStart(ctx, containerID, types.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", containerID, err)
	}
	return nil
}

func (b *Backend) Stop(ctx context.Context, containerID string, gracePeriod time.Duration) error {
	seconds := int(gracePeriod.Seconds())
	if err := b.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &seconds}); err != nil {
		return fmt.Errorf("stop container %s: %w", containerID, err)
	}
	return nil
}

func (b *Backend) Remove(ctx context.Context, containerID string) error {
	if err := b.client.ContainerRemove(ctx, containerID, types.ContainerRemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		return fmt.Errorf("remove container %s: %w", containerID, err)
	}
	return nil
}

func (b *Backend) Inspect(ctx context.Context, containerID string) (backend.ContainerStatus, error) {
	info, err := b.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return backend.ContainerStatus{}, fmt.Errorf("inspect container %s: %w", containerID, err)
	}
	status := backend.ContainerStatus{
		ID:        info.ID,
		Running:   info.State.Running,
		HostOrPod: trimSlash(info.Name),
	}
	if !info.State.Running && (info.State.Status == "exited" || info.State.Status == "dead") {
		code := info.State.ExitCode
		status.ExitCode = &code
	}
	if started, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil {
		status.StartedAt = started
	}
	return status, nil
}

func (b *Backend) IsRunning(ctx context.Context, containerID string) (bool, error) {
	info, err := b.client.ContainerInspect(ctx, containerID)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect container %s: %w", containerID, err)
	}
	return info.State.Running, nil
}

func (b *Backend) Logs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	return b.client.ContainerLogs(ctx, containerID, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true, Follow: false})
}

func (b *Backend) Wait(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := b.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return 0, fmt.Errorf("wait for container %s: %w", containerID, err)
	case result := <-statusCh:
		return int(result.StatusCode), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (b *Backend) Ping(ctx context.Context) error {
	_, err := b.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping docker daemon: %w", err)
	}
	return nil
}

func (b *Backend) ensureImage(ctx context.Context, image string) error {
	_, _, err := b.client.ImageInspectWithRaw(ctx, image)
	if err == nil {
		return nil
	}
	reader, err := b.client.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", image, err)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

func int64Ptr(v int64) *int64 { return &v }

func trimSlash(name string) string {
	if len(name) > 0 && name[0] == '/' {
		return name[1:]
	}
	return name
}
