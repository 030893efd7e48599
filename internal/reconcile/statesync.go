// Package reconcile implements the background state-sync and cleanup
// sweeps that keep Session rows consistent with the container backends
// across control-plane restarts and long-running drift.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kweaver-ai/sandboxctl/internal/backend"
	"github.com/kweaver-ai/sandboxctl/internal/clock"
	"github.com/kweaver-ai/sandboxctl/internal/domain"
	"github.com/kweaver-ai/sandboxctl/internal/logging"
	"github.com/kweaver-ai/sandboxctl/internal/repository"
)

// StateSyncOutcome records what happened to one session during a tick, used
// by both the periodic sweep and the startup bootstrap call that shares its
// logic.
type StateSyncOutcome struct {
	SessionID string
	Result    string // "healthy" | "recovered" | "failed"
	Err       error
}

// StateSync reconciles RUNNING/CREATING sessions against the backend's view
// of their containers, attempting one re-create on a dead container before
// giving up and marking the session FAILED.
type StateSync struct {
	sessions   repository.SessionRepository
	templates  repository.TemplateRepository
	backends   map[string]backend.ContainerBackend
	clock      clock.Clock
	tick       time.Duration
	fanOut     int
	stopCh     chan struct{}
	creationDeadline time.Duration
}

// NewStateSync constructs a StateSync reconciler. fanOut bounds how many
// sessions are checked concurrently within a single tick; tick is the
// polling interval (default 30s, per-tick work is always collected before
// the next fires).
func NewStateSync(sessions repository.SessionRepository, templates repository.TemplateRepository, backends map[string]backend.ContainerBackend, c clock.Clock, tick time.Duration, fanOut int) *StateSync {
	if c == nil {
		c = clock.Real()
	}
	if tick <= 0 {
		tick = 30 * time.Second
	}
	if fanOut <= 0 {
		fanOut = 8
	}
	return &StateSync{
		sessions:         sessions,
		templates:        templates,
		backends:         backends,
		clock:            c,
		tick:             tick,
		fanOut:           fanOut,
		stopCh:           make(chan struct{}),
		creationDeadline: 5 * time.Minute,
	}
}

// Start runs the sweep once immediately (startup bootstrap), then on a
// ticker until Stop is called. It blocks; callers run it in a goroutine.
func (r *StateSync) Start(ctx context.Context) {
	log := logging.Reconciler()
	log.Info().Msg("state-sync reconciler started")

	if _, err := r.RunOnce(ctx); err != nil {
		log.Error().Err(err).Msg("initial state-sync sweep failed")
	}

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				log.Error().Err(err).Msg("state-sync sweep failed")
			}
		case <-r.stopCh:
			log.Info().Msg("state-sync reconciler stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals Start's loop to exit.
func (r *StateSync) Stop() {
	close(r.stopCh)
}

// RunOnce fetches all RUNNING/CREATING sessions with a container_id and
// reconciles each, bounded by the configured fan-out. Results for every
// tick are collected before returning, matching the "sequenced per-session
// work, parallel backend calls" concurrency contract.
func (r *StateSync) RunOnce(ctx context.Context) ([]StateSyncOutcome, error) {
	sessions, err := r.sessions.ListByStatus(ctx, domain.SessionRunning, domain.SessionCreating)
	if err != nil {
		return nil, err
	}

	var withContainer []*domain.Session
	for _, s := range sessions {
		if s.ContainerID != "" {
			withContainer = append(withContainer, s)
		}
	}

	outcomes := make([]StateSyncOutcome, len(withContainer))
	sem := make(chan struct{}, r.fanOut)
	var wg sync.WaitGroup
	for i, s := range withContainer {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, s *domain.Session) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = r.reconcileOne(ctx, s)
		}(i, s)
	}
	wg.Wait()

	return outcomes, nil
}

func (r *StateSync) reconcileOne(ctx context.Context, s *domain.Session) StateSyncOutcome {
	log := logging.Reconciler()
	b, ok := r.backends[s.RuntimeType]
	if !ok {
		return StateSyncOutcome{SessionID: s.ID, Result: "failed", Err: nil}
	}

	running, err := b.IsRunning(ctx, s.ContainerID)
	if err == nil && running {
		return StateSyncOutcome{SessionID: s.ID, Result: "healthy"}
	}
	if err != nil {
		log.Warn().Err(err).Str("session_id", s.ID).Msg("backend inspect failed during state-sync, treating as unhealthy")
	}

	now := r.clock.Now()
	if s.Status == domain.SessionCreating && !s.CreationDeadlineExceeded(now, r.creationDeadline) {
		// Still within the creation grace window; the detached creation
		// task may simply not have finished starting the container yet.
		return StateSyncOutcome{SessionID: s.ID, Result: "healthy"}
	}

	if recoverErr := r.attemptRecovery(ctx, s); recoverErr != nil {
		log.Error().Err(recoverErr).Str("session_id", s.ID).Msg("state-sync recovery failed, marking session FAILED")
		if err := s.MarkTerminal(domain.SessionFailed, now); err != nil {
			return StateSyncOutcome{SessionID: s.ID, Result: "failed", Err: err}
		}
		if err := r.sessions.Update(ctx, s); err != nil {
			return StateSyncOutcome{SessionID: s.ID, Result: "failed", Err: err}
		}
		return StateSyncOutcome{SessionID: s.ID, Result: "failed", Err: recoverErr}
	}

	if err := s.MarkRunning(now); err != nil {
		return StateSyncOutcome{SessionID: s.ID, Result: "failed", Err: err}
	}
	if err := r.sessions.Update(ctx, s); err != nil {
		return StateSyncOutcome{SessionID: s.ID, Result: "failed", Err: err}
	}
	return StateSyncOutcome{SessionID: s.ID, Result: "recovered"}
}

// attemptRecovery re-creates a container with the session's own
// configuration and replaces its container_id in place. It does not flip
// status itself; the caller persists the outcome.
func (r *StateSync) attemptRecovery(ctx context.Context, s *domain.Session) error {
	b, ok := r.backends[s.RuntimeType]
	if !ok {
		return errNoBackend
	}
	tmpl, err := r.templates.Get(ctx, s.TemplateID)
	if err != nil {
		return err
	}

	memBytes, err := domain.ParseSizeBytes(s.Limits.Memory)
	if err != nil {
		return err
	}
	diskBytes, err := domain.ParseSizeBytes(s.Limits.Disk)
	if err != nil {
		return err
	}

	cfg := backend.ContainerConfig{
		SessionID:     s.ID,
		TemplateID:    s.TemplateID,
		Image:         tmpl.ImageRef,
		Name:          "sandbox-" + s.ID,
		CPUCores:      s.Limits.CPU,
		MemoryBytes:   memBytes,
		DiskBytes:     diskBytes,
		MaxProcesses:  s.Limits.MaxProcesses,
		EnvVars:       s.EnvVars,
		WorkspacePath: s.WorkspacePath,
		Labels: map[string]string{
			"session_id":  s.ID,
			"template_id": s.TemplateID,
			"managed_by":  "sandbox-control-plane",
		},
	}

	newID, err := b.Create(ctx, cfg)
	if err != nil {
		return err
	}
	if err := b.Start(ctx, newID); err != nil {
		return err
	}
	s.ReplaceContainerID(newID)
	return nil
}

var errNoBackend = errors.New("no backend registered for session runtime type")
