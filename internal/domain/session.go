package domain

import (
	"fmt"
	"time"
)

// SessionStatus is the closed set of lifecycle states a Session may occupy.
type SessionStatus string

const (
	SessionCreating   SessionStatus = "CREATING"
	SessionRunning    SessionStatus = "RUNNING"
	SessionCompleted  SessionStatus = "COMPLETED"
	SessionFailed     SessionStatus = "FAILED"
	SessionTimeout    SessionStatus = "TIMEOUT"
	SessionTerminated SessionStatus = "TERMINATED"
)

// IsTerminal reports whether status accepts no further transitions.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionTimeout, SessionTerminated:
		return true
	default:
		return false
	}
}

// DependencyInstallState tracks the optional package-install phase a
// session's environment may go through before its first execution runs.
type DependencyInstallState string

const (
	DependencyNone        DependencyInstallState = "NONE"
	DependencyInstalling  DependencyInstallState = "INSTALLING"
	DependencyCompleted   DependencyInstallState = "COMPLETED"
	DependencyFailed      DependencyInstallState = "FAILED"
)

// Session is the aggregate root owning zero-or-more Executions and exactly
// one backing container across its lifetime.
type Session struct {
	ID              string
	TemplateID      string
	Status          SessionStatus
	Limits          ResourceLimit
	WorkspacePath   string // s3://<bucket>/sessions/<id>/, immutable once set
	RuntimeType     string // "docker" | "kubernetes"
	RuntimeNodeID   string
	ContainerID     string // empty until the backend assigns one; set-once
	EnvVars         map[string]string
	TimeoutSeconds  int
	DependencySpecs []DependencySpec
	InstallState    DependencyInstallState

	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
	LastActivityAt time.Time
}

// NewSession constructs a Session in CREATING status with an immutable
// workspace path derived from bucket and id.
func NewSession(id, templateID, bucket string, limits ResourceLimit, runtimeType string, timeoutSeconds int, now time.Time) (*Session, error) {
	if !ValidSessionID(id) {
		return nil, fmt.Errorf("invalid session id %q", id)
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	if timeoutSeconds <= 0 {
		return nil, fmt.Errorf("timeout must be positive")
	}
	return &Session{
		ID:             id,
		TemplateID:     templateID,
		Status:         SessionCreating,
		Limits:         limits,
		WorkspacePath:  fmt.Sprintf("s3://%s/sessions/%s/", bucket, id),
		RuntimeType:    runtimeType,
		EnvVars:        map[string]string{},
		TimeoutSeconds: timeoutSeconds,
		InstallState:   DependencyNone,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}, nil
}

// IsActive reports whether the session can still accept work.
func (s *Session) IsActive() bool {
	return s.Status == SessionCreating || s.Status == SessionRunning
}

// SetContainerID assigns the backend container id exactly once; subsequent
// calls with a different value are rejected so a Session can never silently
// switch which container it owns outside the state-sync recovery path,
// which calls ReplaceContainerID instead.
func (s *Session) SetContainerID(id string) error {
	if s.ContainerID != "" && s.ContainerID != id {
		return fmt.Errorf("container id already set to %q", s.ContainerID)
	}
	s.ContainerID = id
	return nil
}

// ReplaceContainerID is used only by the state-sync reconciler's recovery
// path, where a dead container is replaced in place while the Session
// remains RUNNING.
func (s *Session) ReplaceContainerID(id string) {
	s.ContainerID = id
}

// MarkRunning applies the CREATING -> RUNNING transition triggered by the
// executor's `ready` callback. It is idempotent: calling it again once
// already RUNNING is a no-op.
func (s *Session) MarkRunning(now time.Time) error {
	if s.Status == SessionRunning {
		return nil
	}
	if s.Status != SessionCreating {
		return fmt.Errorf("cannot mark running from status %s", s.Status)
	}
	s.Status = SessionRunning
	s.UpdatedAt = now
	return nil
}

// MarkTerminal transitions the session into one of its terminal statuses.
// Terminal is absorptive: once terminal, further calls are a no-op.
func (s *Session) MarkTerminal(status SessionStatus, now time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%s is not a terminal status", status)
	}
	if s.Status.IsTerminal() {
		return nil
	}
	s.Status = status
	s.UpdatedAt = now
	s.CompletedAt = &now
	return nil
}

// BumpActivity records that the session received a submission or
// heartbeat, used by the cleanup reconciler's idle sweep.
func (s *Session) BumpActivity(now time.Time) {
	s.LastActivityAt = now
	s.UpdatedAt = now
}

// StartDependencyInstall transitions NONE -> INSTALLING.
func (s *Session) StartDependencyInstall(specs []DependencySpec, now time.Time) error {
	if err := ValidateDependencySpecs(specs); err != nil {
		return err
	}
	if s.InstallState != DependencyNone {
		return fmt.Errorf("dependency install already %s", s.InstallState)
	}
	s.DependencySpecs = specs
	s.InstallState = DependencyInstalling
	s.UpdatedAt = now
	return nil
}

// CompleteDependencyInstall transitions INSTALLING -> COMPLETED.
func (s *Session) CompleteDependencyInstall(now time.Time) error {
	if s.InstallState != DependencyInstalling {
		return fmt.Errorf("cannot complete install from state %s", s.InstallState)
	}
	s.InstallState = DependencyCompleted
	s.UpdatedAt = now
	return nil
}

// FailDependencyInstall transitions INSTALLING -> FAILED; the caller is
// responsible for also marking the Session FAILED and destroying its
// container per the dependency-installation contract.
func (s *Session) FailDependencyInstall(now time.Time) error {
	if s.InstallState != DependencyInstalling {
		return fmt.Errorf("cannot fail install from state %s", s.InstallState)
	}
	s.InstallState = DependencyFailed
	s.UpdatedAt = now
	return nil
}

// CreationDeadlineExceeded reports whether a session stuck in CREATING has
// outlived the configured creation deadline, used by the state-sync
// reconciler to resolve sessions whose container never became ready.
func (s *Session) CreationDeadlineExceeded(now time.Time, deadline time.Duration) bool {
	if deadline <= 0 {
		return false
	}
	return s.Status == SessionCreating && now.Sub(s.CreatedAt) > deadline
}

// IdleExceeded reports whether a RUNNING session has been idle longer than
// timeout (used by the cleanup reconciler; a non-positive timeout disables
// the sweep).
func (s *Session) IdleExceeded(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	return s.Status == SessionRunning && now.Sub(s.LastActivityAt) > timeout
}

// LifetimeExceeded reports whether a RUNNING session has existed longer
// than maxLifetime (a non-positive value disables the sweep).
func (s *Session) LifetimeExceeded(now time.Time, maxLifetime time.Duration) bool {
	if maxLifetime <= 0 {
		return false
	}
	return s.Status == SessionRunning && now.Sub(s.CreatedAt) > maxLifetime
}
