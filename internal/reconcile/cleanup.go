package reconcile

import (
	"context"
	"time"

	"github.com/kweaver-ai/sandboxctl/internal/backend"
	"github.com/kweaver-ai/sandboxctl/internal/clock"
	"github.com/kweaver-ai/sandboxctl/internal/domain"
	"github.com/kweaver-ai/sandboxctl/internal/logging"
	"github.com/kweaver-ai/sandboxctl/internal/repository"
	"github.com/kweaver-ai/sandboxctl/internal/storage"
)

// CleanupOutcome records one terminated or orphan-cleaned session.
type CleanupOutcome struct {
	SessionID string
	Reason    string // "idle" | "lifetime" | "orphan"
	Err       error
}

// Cleanup sweeps idle, over-lifetime, and orphaned sessions, always
// destroying the container before deleting workspace storage before
// marking the row terminal — errors at any step are logged and the sweep
// continues rather than aborting.
type Cleanup struct {
	sessions    repository.SessionRepository
	objects     storage.ObjectStore
	backends    map[string]backend.ContainerBackend
	clock       clock.Clock
	tick        time.Duration
	idleTimeout time.Duration // <=0 disables
	maxLifetime time.Duration // <=0 disables
	stopCh      chan struct{}
}

// NewCleanup constructs a Cleanup reconciler. tick defaults to 60s,
// idleTimeout to 30 minutes, and maxLifetime to 6 hours when zero; pass a
// negative duration explicitly to disable either sweep.
func NewCleanup(sessions repository.SessionRepository, objects storage.ObjectStore, backends map[string]backend.ContainerBackend, c clock.Clock, tick, idleTimeout, maxLifetime time.Duration) *Cleanup {
	if c == nil {
		c = clock.Real()
	}
	if tick <= 0 {
		tick = 60 * time.Second
	}
	if idleTimeout == 0 {
		idleTimeout = 30 * time.Minute
	}
	if maxLifetime == 0 {
		maxLifetime = 6 * time.Hour
	}
	return &Cleanup{
		sessions:    sessions,
		objects:     objects,
		backends:    backends,
		clock:       c,
		tick:        tick,
		idleTimeout: idleTimeout,
		maxLifetime: maxLifetime,
		stopCh:      make(chan struct{}),
	}
}

// Start runs the sweep on a ticker until Stop is called. It blocks;
// callers run it in a goroutine.
func (r *Cleanup) Start(ctx context.Context) {
	log := logging.Reconciler()
	log.Info().Msg("cleanup reconciler started")

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			outcomes := r.RunOnce(ctx)
			for _, o := range outcomes {
				if o.Err != nil {
					log.Error().Err(o.Err).Str("session_id", o.SessionID).Str("reason", o.Reason).Msg("cleanup step failed, continuing sweep")
				}
			}
		case <-r.stopCh:
			log.Info().Msg("cleanup reconciler stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals Start's loop to exit.
func (r *Cleanup) Stop() {
	close(r.stopCh)
}

// RunOnce performs one idle + lifetime + orphan sweep and returns every
// outcome, successful or not.
func (r *Cleanup) RunOnce(ctx context.Context) []CleanupOutcome {
	var outcomes []CleanupOutcome

	idleSeconds := secondsOrDisabled(r.idleTimeout)
	lifetimeSeconds := secondsOrDisabled(r.maxLifetime)
	idle, err := r.sessions.ListIdle(ctx, idleSeconds, lifetimeSeconds)
	if err != nil {
		return []CleanupOutcome{{Reason: "idle", Err: err}}
	}
	now := r.clock.Now()
	for _, s := range idle {
		reason := "idle"
		if s.LifetimeExceeded(now, r.maxLifetime) {
			reason = "lifetime"
		}
		outcomes = append(outcomes, r.terminate(ctx, s, reason))
	}

	orphaned, err := r.sessions.ListOrphaned(ctx)
	if err != nil {
		outcomes = append(outcomes, CleanupOutcome{Reason: "orphan", Err: err})
		return outcomes
	}
	for _, s := range orphaned {
		outcomes = append(outcomes, r.destroyOrphanContainer(ctx, s))
	}

	return outcomes
}

// secondsOrDisabled converts a duration to whole seconds for the repository
// query, mapping a non-positive duration to 0 (the query's own disable
// sentinel) so callers configuring a negative value to disable a sweep
// still work.
func secondsOrDisabled(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d.Seconds())
}

// terminate runs the fixed destroy -> delete-workspace -> mark-terminal
// order for an idle or over-lifetime session.
func (r *Cleanup) terminate(ctx context.Context, s *domain.Session, reason string) CleanupOutcome {
	log := logging.Reconciler()

	if s.ContainerID != "" {
		if b, ok := r.backends[s.RuntimeType]; ok {
			if err := b.Stop(ctx, s.ContainerID, 10*time.Second); err != nil {
				log.Warn().Err(err).Str("session_id", s.ID).Msg("stop failed during cleanup, continuing to remove")
			}
			if err := b.Remove(ctx, s.ContainerID); err != nil {
				log.Warn().Err(err).Str("session_id", s.ID).Msg("container remove failed during cleanup, continuing")
			}
		}
	}

	prefix := workspacePrefix(s.WorkspacePath)
	if prefix != "" {
		if err := r.objects.DeletePrefix(ctx, prefix); err != nil {
			log.Warn().Err(err).Str("session_id", s.ID).Msg("workspace delete failed during cleanup, continuing")
		}
	}

	now := r.clock.Now()
	if err := s.MarkTerminal(domain.SessionTerminated, now); err != nil {
		return CleanupOutcome{SessionID: s.ID, Reason: reason, Err: err}
	}
	if err := r.sessions.Update(ctx, s); err != nil {
		return CleanupOutcome{SessionID: s.ID, Reason: reason, Err: err}
	}
	return CleanupOutcome{SessionID: s.ID, Reason: reason}
}

// destroyOrphanContainer removes a dangling container for a FAILED/TIMEOUT
// session without touching its status, per the orphan sweep's contract.
func (r *Cleanup) destroyOrphanContainer(ctx context.Context, s *domain.Session) CleanupOutcome {
	if s.ContainerID == "" {
		return CleanupOutcome{SessionID: s.ID, Reason: "orphan"}
	}
	b, ok := r.backends[s.RuntimeType]
	if !ok {
		return CleanupOutcome{SessionID: s.ID, Reason: "orphan"}
	}
	if err := b.Remove(ctx, s.ContainerID); err != nil {
		return CleanupOutcome{SessionID: s.ID, Reason: "orphan", Err: err}
	}
	return CleanupOutcome{SessionID: s.ID, Reason: "orphan"}
}

// workspacePrefix strips the s3://<bucket>/ prefix from a workspace path,
// leaving the key prefix the object store's DeletePrefix expects.
func workspacePrefix(workspacePath string) string {
	const scheme = "s3://"
	if len(workspacePath) <= len(scheme) {
		return ""
	}
	rest := workspacePath[len(scheme):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[i+1:]
		}
	}
	return ""
}
