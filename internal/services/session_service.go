// Package services implements the application-level use cases that
// compose the domain model with the repositories, object storage,
// scheduler, and warm pool.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/kweaver-ai/sandboxctl/internal/apperrors"
	"github.com/kweaver-ai/sandboxctl/internal/clock"
	"github.com/kweaver-ai/sandboxctl/internal/domain"
	"github.com/kweaver-ai/sandboxctl/internal/logging"
	"github.com/kweaver-ai/sandboxctl/internal/repository"
	"github.com/kweaver-ai/sandboxctl/internal/scheduler"
	"github.com/kweaver-ai/sandboxctl/internal/storage"
)

// CreateSessionInput carries the fields a client may supply on POST
// /sessions; zero values fall back to the template's defaults.
type CreateSessionInput struct {
	TemplateID      string
	Timeout         int
	CPU             string
	Memory          string
	Disk            string
	MaxProcesses    int
	EnvVars         map[string]string
	Dependencies    []domain.DependencySpec
	InstallTimeout  int
	WorkspaceBucket string
}

// SessionService implements CreateSession and TerminateSession.
type SessionService struct {
	sessions  repository.SessionRepository
	templates repository.TemplateRepository
	sched     *scheduler.Scheduler
	objects   storage.ObjectStore
	clock     clock.Clock
	bucket    string
}

// NewSessionService constructs a SessionService. bucket is the default
// object-store bucket used when a request does not override it.
func NewSessionService(sessions repository.SessionRepository, templates repository.TemplateRepository, sched *scheduler.Scheduler, objects storage.ObjectStore, c clock.Clock, bucket string) *SessionService {
	if c == nil {
		c = clock.Real()
	}
	return &SessionService{sessions: sessions, templates: templates, sched: sched, objects: objects, clock: c, bucket: bucket}
}

// CreateSession looks up the template, schedules a node, persists the
// session as CREATING, then dispatches container provisioning. The session
// flips to RUNNING only once the executor reports ready; this call never
// blocks on that.
func (s *SessionService) CreateSession(ctx context.Context, in CreateSessionInput) (*domain.Session, error) {
	tmpl, err := s.templates.Get(ctx, in.TemplateID)
	if err != nil {
		return nil, apperrors.TemplateNotFound(in.TemplateID)
	}

	limits := tmpl.DefaultLimits
	if in.CPU != "" {
		limits.CPU = in.CPU
	}
	if in.Memory != "" {
		limits.Memory = in.Memory
	}
	if in.Disk != "" {
		limits.Disk = in.Disk
	}
	if in.MaxProcesses > 0 {
		limits.MaxProcesses = in.MaxProcesses
	}
	if err := limits.Validate(); err != nil {
		return nil, apperrors.SessionValidation(err.Error())
	}

	timeout := in.Timeout
	if timeout <= 0 {
		timeout = tmpl.DefaultTimeout
	}

	if err := domain.ValidateDependencySpecs(in.Dependencies); err != nil {
		return nil, apperrors.SessionValidation(err.Error())
	}

	now := s.clock.Now()
	id := domain.NewSessionID(now)

	bucket := in.WorkspaceBucket
	if bucket == "" {
		bucket = s.bucket
	}

	session, err := domain.NewSession(id, tmpl.ID, bucket, limits, "", timeout, now)
	if err != nil {
		return nil, apperrors.SessionValidation(err.Error())
	}
	session.EnvVars = in.EnvVars
	if session.EnvVars == nil {
		session.EnvVars = map[string]string{}
	}

	result, err := s.sched.Schedule(ctx, scheduler.ScheduleRequest{
		SessionID:     session.ID,
		TemplateID:    tmpl.ID,
		ResourceLimit: limits,
	})
	if err != nil {
		return nil, err
	}
	session.RuntimeNodeID = result.Node.ID
	session.RuntimeType = result.Node.Kind

	if len(in.Dependencies) > 0 {
		if err := session.StartDependencyInstall(in.Dependencies, now); err != nil {
			return nil, apperrors.SessionValidation(err.Error())
		}
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, apperrors.Internal(err)
	}

	containerID, err := s.sched.CreateContainerForSession(ctx, scheduler.CreateContainerRequest{
		SessionID:     session.ID,
		TemplateID:    tmpl.ID,
		Image:         tmpl.ImageRef,
		Limits:        limits,
		EnvVars:       session.EnvVars,
		WorkspacePath: session.WorkspacePath,
		NodeID:        result.Node.ID,
	})
	if err != nil {
		s.failSession(ctx, session, "", err)
		return nil, apperrors.Internal(err)
	}

	if err := session.SetContainerID(containerID); err != nil {
		s.failSession(ctx, session, containerID, err)
		return nil, apperrors.Internal(err)
	}
	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, apperrors.Internal(err)
	}

	return session, nil
}

// failSession marks session FAILED and best-effort destroys any
// already-provisioned container, used when container provisioning fails
// partway through CreateSession.
func (s *SessionService) failSession(ctx context.Context, session *domain.Session, containerID string, cause error) {
	log := logging.Scheduler()
	now := s.clock.Now()
	if containerID != "" {
		if err := s.sched.DestroyContainer(ctx, containerID, 10*time.Second); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID).Msg("best-effort destroy after failed create also failed")
		}
	}
	_ = session.MarkTerminal(domain.SessionFailed, now)
	if err := s.sessions.Update(ctx, session); err != nil {
		log.Error().Err(err).Str("session_id", session.ID).Msg("failed to persist FAILED session after create error")
	}
	log.Error().Err(cause).Str("session_id", session.ID).Msg("session creation failed")
}

// GetSession returns a session by id.
func (s *SessionService) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, apperrors.SessionNotFound(id)
	}
	return session, nil
}

// TerminateSession is a no-op if the session is already terminal; else it
// best-effort destroys the container, best-effort deletes the workspace
// prefix, then marks the session TERMINATED.
func (s *SessionService) TerminateSession(ctx context.Context, id string) (*domain.Session, error) {
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, apperrors.SessionNotFound(id)
	}
	if session.Status.IsTerminal() {
		return session, nil
	}

	log := logging.Scheduler()
	if session.ContainerID != "" {
		if err := s.sched.DestroyContainer(ctx, session.ContainerID, 10*time.Second); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("best-effort container destroy failed during terminate")
		}
	}

	prefix := fmt.Sprintf("sessions/%s/", id)
	if err := s.objects.DeletePrefix(ctx, prefix); err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("best-effort workspace delete failed during terminate")
	}

	now := s.clock.Now()
	if err := session.MarkTerminal(domain.SessionTerminated, now); err != nil {
		return nil, apperrors.Internal(err)
	}
	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, apperrors.Internal(err)
	}
	return session, nil
}
