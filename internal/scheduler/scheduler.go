// Package scheduler picks a node for a new session, turns it into a
// running container, and forwards execution submissions to the
// in-container executor agent.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/kweaver-ai/sandboxctl/internal/apperrors"
	"github.com/kweaver-ai/sandboxctl/internal/backend"
	"github.com/kweaver-ai/sandboxctl/internal/clock"
	"github.com/kweaver-ai/sandboxctl/internal/domain"
	"github.com/kweaver-ai/sandboxctl/internal/logging"
	"github.com/kweaver-ai/sandboxctl/internal/repository"
	"github.com/kweaver-ai/sandboxctl/internal/warmpool"
)

// ScheduleRequest carries the inputs schedule() needs to pick a node.
type ScheduleRequest struct {
	SessionID     string
	TemplateID    string
	ResourceLimit domain.ResourceLimit
}

// ScheduleResult is the node schedule() picked, plus whether it was
// satisfied from a warm pool entry bound to this session.
type ScheduleResult struct {
	Node         *domain.RuntimeNode
	FromWarmPool bool
	WarmEntry    *domain.WarmPoolEntry
}

// CreateContainerRequest carries everything create_container_for_session
// needs to build a ContainerConfig once a node has been picked.
type CreateContainerRequest struct {
	SessionID           string
	TemplateID          string
	Image               string
	Limits              domain.ResourceLimit
	EnvVars             map[string]string
	WorkspacePath       string
	NodeID              string
	DependencySpecsJSON string
}

// ExecutionRequest is forwarded to the in-container executor agent.
type ExecutionRequest struct {
	ExecutionID string            `json:"execution_id"`
	SessionID   string            `json:"session_id"`
	Code        string            `json:"code"`
	Language    string            `json:"language"`
	Event       json.RawMessage   `json:"event,omitempty"`
	TimeoutSec  int               `json:"timeout_seconds"`
	EnvVars     map[string]string `json:"env_vars,omitempty"`
}

// Config holds the fixed, non-per-request settings the scheduler needs
// to build container configs and reach executors.
type Config struct {
	ControlPlaneURL   string
	InternalAPIToken  string
	ExecutorPort      int
	DisableBwrap      bool
	ManagedByLabel    string
	HTTPClient        *http.Client
}

// Scheduler implements 4.3: node selection, detached container
// provisioning, and execution forwarding.
type Scheduler struct {
	cfg     Config
	nodes   repository.RuntimeNodeRepository
	pool    *warmpool.Manager
	backend map[string]backend.ContainerBackend // node kind -> backend
	clock   clock.Clock

	mu            sync.Mutex
	seenTemplates map[string]bool
	warmBindings  map[string]boundWarmEntry // session_id -> bound entry
}

type boundWarmEntry struct {
	entry  *domain.WarmPoolEntry
	nodeID string
}

// New constructs a Scheduler. backends maps a RuntimeNode.Kind
// ("docker"/"kubernetes") to the ContainerBackend driving that kind.
func New(cfg Config, nodes repository.RuntimeNodeRepository, pool *warmpool.Manager, backends map[string]backend.ContainerBackend, c clock.Clock) *Scheduler {
	if c == nil {
		c = clock.Real()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.ManagedByLabel == "" {
		cfg.ManagedByLabel = "sandbox-control-plane"
	}
	return &Scheduler{
		cfg:           cfg,
		nodes:         nodes,
		pool:          pool,
		backend:       backends,
		clock:         c,
		seenTemplates: make(map[string]bool),
		warmBindings:  make(map[string]boundWarmEntry),
	}
}

// Schedule picks a node for req, preferring a warm pool hit, falling back
// to the least-loaded healthy node with template affinity.
func (s *Scheduler) Schedule(ctx context.Context, req ScheduleRequest) (ScheduleResult, error) {
	s.mu.Lock()
	firstUse := !s.seenTemplates[req.TemplateID]
	s.seenTemplates[req.TemplateID] = true
	s.mu.Unlock()

	if firstUse {
		s.pool.EnsureMinimum(ctx, req.TemplateID)
	}

	entry, err := s.pool.Acquire(ctx, req.TemplateID)
	if err != nil {
		return ScheduleResult{}, fmt.Errorf("warm pool acquire: %w", err)
	}
	if entry != nil {
		node, err := s.nodes.Get(ctx, entry.NodeID)
		if err != nil {
			return ScheduleResult{}, fmt.Errorf("lookup warm entry node %s: %w", entry.NodeID, err)
		}
		s.mu.Lock()
		s.warmBindings[req.SessionID] = boundWarmEntry{entry: entry, nodeID: entry.NodeID}
		s.mu.Unlock()
		return ScheduleResult{Node: node, FromWarmPool: true, WarmEntry: entry}, nil
	}

	nodes, err := s.nodes.List(ctx)
	if err != nil {
		return ScheduleResult{}, fmt.Errorf("list nodes: %w", err)
	}
	var healthy []*domain.RuntimeNode
	for _, n := range nodes {
		if n.Healthy() && n.HasCapacity() {
			healthy = append(healthy, n)
		}
	}
	if len(healthy) == 0 {
		return ScheduleResult{}, apperrors.NoHealthyNode(req.TemplateID)
	}

	candidates := healthy
	var affine []*domain.RuntimeNode
	for _, n := range healthy {
		if n.HasTemplateCached(req.TemplateID) {
			affine = append(affine, n)
		}
	}
	if len(affine) > 0 {
		candidates = affine
	}

	sort.Slice(candidates, func(i, j int) bool {
		li, lj := candidates[i].LoadRatio(), candidates[j].LoadRatio()
		if li != lj {
			return li < lj
		}
		return candidates[i].SessionCount < candidates[j].SessionCount
	})

	return ScheduleResult{Node: candidates[0]}, nil
}

// CreateContainerForSession builds and dispatches container creation as a
// detached task, returning a synthetic container id immediately. The
// session is flipped to RUNNING only when the executor reports ready.
func (s *Scheduler) CreateContainerForSession(ctx context.Context, req CreateContainerRequest) (containerID string, err error) {
	log := logging.Scheduler()

	s.mu.Lock()
	bound, ok := s.warmBindings[req.SessionID]
	s.mu.Unlock()
	if ok {
		s.pool.ReplenishAfterAcquire(ctx, req.TemplateID)
		return bound.entry.ContainerID, nil
	}

	name := containerNameForSession(req.SessionID)
	env := map[string]string{}
	for k, v := range req.EnvVars {
		env[k] = v
	}
	env["SESSION_ID"] = req.SessionID
	env["WORKSPACE_PATH"] = req.WorkspacePath
	env["CONTROL_PLANE_URL"] = s.cfg.ControlPlaneURL
	env["INTERNAL_API_TOKEN"] = s.cfg.InternalAPIToken
	env["CONTAINER_ID"] = name
	env["EXECUTOR_PORT"] = fmt.Sprintf("%d", s.cfg.ExecutorPort)
	if s.cfg.DisableBwrap {
		env["DISABLE_BWRAP"] = "true"
	}

	memBytes, err := domain.ParseSizeBytes(req.Limits.Memory)
	if err != nil {
		return "", fmt.Errorf("invalid memory limit: %w", err)
	}
	diskBytes, err := domain.ParseSizeBytes(req.Limits.Disk)
	if err != nil {
		return "", fmt.Errorf("invalid disk limit: %w", err)
	}

	cfg := backend.ContainerConfig{
		SessionID:    req.SessionID,
		TemplateID:   req.TemplateID,
		Image:        req.Image,
		Name:         name,
		CPUCores:     req.Limits.CPU,
		MemoryBytes:  memBytes,
		DiskBytes:    diskBytes,
		MaxProcesses: req.Limits.MaxProcesses,
		EnvVars:      env,
		Labels: map[string]string{
			"session_id":  req.SessionID,
			"template_id": req.TemplateID,
			"managed_by":  s.cfg.ManagedByLabel,
		},
		ExecutorPort:        s.cfg.ExecutorPort,
		WorkspacePath:       req.WorkspacePath,
		DependencySpecsJSON: req.DependencySpecsJSON,
	}

	b, err := s.backendFor(ctx, req.NodeID)
	if err != nil {
		return "", err
	}

	go func() {
		bgCtx := context.Background()
		id, err := b.Create(bgCtx, cfg)
		if err != nil {
			log.Error().Err(err).Str("session_id", req.SessionID).Msg("detached container create failed")
			return
		}
		if err := b.Start(bgCtx, id); err != nil {
			log.Error().Err(err).Str("session_id", req.SessionID).Msg("detached container start failed")
		}
	}()

	return name, nil
}

// DestroyContainer releases a warm-bound container or stops+removes a
// regular one. For a regular container every Stop and Remove error,
// NotFound included, is swallowed and nil is returned: the caller treats
// destroy as best effort cleanup. A warm-bound release returns the pool's
// Release error.
func (s *Scheduler) DestroyContainer(ctx context.Context, containerID string, grace time.Duration) error {
	s.mu.Lock()
	var boundSessionID string
	var bound boundWarmEntry
	for sid, b := range s.warmBindings {
		if b.entry.ContainerID == containerID {
			boundSessionID, bound = sid, b
			break
		}
	}
	if boundSessionID != "" {
		delete(s.warmBindings, boundSessionID)
	}
	s.mu.Unlock()

	if boundSessionID != "" {
		return s.pool.Release(ctx, bound.entry)
	}

	for _, b := range s.backend {
		if err := b.Stop(ctx, containerID, grace); err != nil {
			logging.Scheduler().Debug().Err(err).Str("container_id", containerID).Msg("stop before remove failed, continuing to remove")
		}
		if err := b.Remove(ctx, containerID); err != nil {
			continue
		}
		return nil
	}
	return nil
}

// Execute resolves the executor's address for containerID and forwards
// req without waiting for completion.
func (s *Scheduler) Execute(ctx context.Context, nodeID, containerID string, req ExecutionRequest) (string, error) {
	b, err := s.backendFor(ctx, nodeID)
	if err != nil {
		return "", err
	}
	status, err := b.Inspect(ctx, containerID)
	if err != nil {
		return "", apperrors.ExecutorCallFailed(fmt.Errorf("inspect container %s: %w", containerID, err))
	}
	url := fmt.Sprintf("http://%s:%d/execute", status.HostOrPod, s.cfg.ExecutorPort)

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal execution request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build executor request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.cfg.InternalAPIToken)

	resp, err := s.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return "", apperrors.ExecutorCallFailed(fmt.Errorf("container %s: %w", containerID, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", apperrors.ExecutorCallFailed(fmt.Errorf("container %s: executor returned status %d", containerID, resp.StatusCode))
	}

	var out struct {
		ExecutionID string `json:"execution_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.ExecutionID == "" {
		return req.ExecutionID, nil
	}
	return out.ExecutionID, nil
}

// AcquireWarmInstance and AddWarmInstance expose warm-pool controls for
// external provisioners; neither is on the CreateSession critical path.
func (s *Scheduler) AcquireWarmInstance(ctx context.Context, templateID string) (*domain.WarmPoolEntry, error) {
	return s.pool.Acquire(ctx, templateID)
}

func (s *Scheduler) AddWarmInstance(ctx context.Context, entry *domain.WarmPoolEntry) error {
	return s.pool.Add(ctx, entry)
}

func (s *Scheduler) backendFor(ctx context.Context, nodeID string) (backend.ContainerBackend, error) {
	node, err := s.nodes.Get(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("lookup node %s: %w", nodeID, err)
	}
	b, ok := s.backend[node.Kind]
	if !ok {
		return nil, apperrors.BackendUnavailable(fmt.Errorf("no backend registered for node kind %q", node.Kind))
	}
	return b, nil
}

func containerNameForSession(sessionID string) string {
	return "sandbox-" + sessionID
}
