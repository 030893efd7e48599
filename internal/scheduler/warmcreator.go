package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kweaver-ai/sandboxctl/internal/backend"
	"github.com/kweaver-ai/sandboxctl/internal/domain"
	"github.com/kweaver-ai/sandboxctl/internal/repository"
)

// WarmCreator implements warmpool.ContainerCreator: it builds a
// ContainerConfig for a template's warm entries the same way
// CreateContainerForSession does for a bound session, minus the
// session-specific env vars a warm container has no session to carry yet.
type WarmCreator struct {
	cfg       Config
	templates repository.TemplateRepository
	b         backend.ContainerBackend
}

func NewWarmCreator(cfg Config, templates repository.TemplateRepository, b backend.ContainerBackend) *WarmCreator {
	return &WarmCreator{cfg: cfg, templates: templates, b: b}
}

// CreateWarmContainer builds and starts an unassigned container for
// templateID, returning its backend id and name for the pool entry.
func (w *WarmCreator) CreateWarmContainer(ctx context.Context, templateID string) (containerID, containerName string, err error) {
	tmpl, err := w.templates.Get(ctx, templateID)
	if err != nil {
		return "", "", fmt.Errorf("lookup template %s: %w", templateID, err)
	}

	memBytes, err := domain.ParseSizeBytes(tmpl.DefaultLimits.Memory)
	if err != nil {
		return "", "", fmt.Errorf("invalid memory limit: %w", err)
	}
	diskBytes, err := domain.ParseSizeBytes(tmpl.DefaultLimits.Disk)
	if err != nil {
		return "", "", fmt.Errorf("invalid disk limit: %w", err)
	}

	name := fmt.Sprintf("warm-%s-%s", templateID, randomSuffix())
	env := map[string]string{
		"CONTROL_PLANE_URL":  w.cfg.ControlPlaneURL,
		"INTERNAL_API_TOKEN": w.cfg.InternalAPIToken,
		"EXECUTOR_PORT":      fmt.Sprintf("%d", w.cfg.ExecutorPort),
	}
	if w.cfg.DisableBwrap {
		env["DISABLE_BWRAP"] = "true"
	}

	cfg := backend.ContainerConfig{
		TemplateID:   templateID,
		Image:        tmpl.ImageRef,
		Name:         name,
		CPUCores:     tmpl.DefaultLimits.CPU,
		MemoryBytes:  memBytes,
		DiskBytes:    diskBytes,
		MaxProcesses: tmpl.DefaultLimits.MaxProcesses,
		EnvVars:      env,
		Labels: map[string]string{
			"template_id": templateID,
			"managed_by":  w.cfg.ManagedByLabel,
			"warm_pool":   "true",
		},
		ExecutorPort: w.cfg.ExecutorPort,
	}

	id, err := w.b.Create(ctx, cfg)
	if err != nil {
		return "", "", fmt.Errorf("create warm container for %s: %w", templateID, err)
	}
	if err := w.b.Start(ctx, id); err != nil {
		return "", "", fmt.Errorf("start warm container for %s: %w", templateID, err)
	}
	return id, name, nil
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}
