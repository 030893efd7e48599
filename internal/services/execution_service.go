package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kweaver-ai/sandboxctl/internal/apperrors"
	"github.com/kweaver-ai/sandboxctl/internal/clock"
	"github.com/kweaver-ai/sandboxctl/internal/domain"
	"github.com/kweaver-ai/sandboxctl/internal/repository"
	"github.com/kweaver-ai/sandboxctl/internal/scheduler"
)

const (
	MinPollInterval  = 100 * time.Millisecond
	MaxPollInterval  = 10 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
	MinSyncTimeout   = 10 * time.Second
	MaxSyncTimeout   = 3600 * time.Second
	DefaultSyncTimeout = 60 * time.Second
)

// ExecuteCodeInput carries the fields a client supplies on the execute
// endpoints.
type ExecuteCodeInput struct {
	SessionID string
	Code      string
	Language  string
	Timeout   int
	Event     string
	EnvVars   map[string]string
}

// ExecutionService implements ExecuteCode and ExecuteSync.
type ExecutionService struct {
	sessions   repository.SessionRepository
	executions repository.ExecutionRepository
	sched      *scheduler.Scheduler
	clock      clock.Clock
}

// NewExecutionService constructs an ExecutionService.
func NewExecutionService(sessions repository.SessionRepository, executions repository.ExecutionRepository, sched *scheduler.Scheduler, c clock.Clock) *ExecutionService {
	if c == nil {
		c = clock.Real()
	}
	return &ExecutionService{sessions: sessions, executions: executions, sched: sched, clock: c}
}

// ExecuteCode persists the Execution row and commits it before the code is
// forwarded to the executor:
// the executor's result callback may arrive before this call returns, and
// without the pre-commit the callback sink would 404 on an unknown id.
func (s *ExecutionService) ExecuteCode(ctx context.Context, in ExecuteCodeInput) (*domain.Execution, error) {
	session, err := s.sessions.Get(ctx, in.SessionID)
	if err != nil {
		return nil, apperrors.SessionNotFound(in.SessionID)
	}
	if !session.IsActive() {
		return nil, apperrors.SessionStateConflict("session is not active")
	}

	now := s.clock.Now()
	id := domain.NewExecutionID(now)
	execution, err := domain.NewExecution(id, session.ID, in.Code, in.Language, in.Timeout, in.Event, in.EnvVars, now)
	if err != nil {
		return nil, apperrors.ExecutionValidation(err.Error())
	}

	if err := s.executions.Create(ctx, execution); err != nil {
		return nil, apperrors.Internal(err)
	}

	session.BumpActivity(now)
	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, apperrors.Internal(err)
	}

	var eventPayload json.RawMessage
	if execution.Event != "" {
		eventPayload = json.RawMessage(execution.Event)
	}
	returnedID, err := s.sched.Execute(ctx, session.RuntimeNodeID, session.ContainerID, scheduler.ExecutionRequest{
		ExecutionID: execution.ID,
		SessionID:   session.ID,
		Code:        execution.Code,
		Language:    execution.Language,
		Event:       eventPayload,
		TimeoutSec:  execution.Timeout,
		EnvVars:     execution.EnvVars,
	})
	if err != nil {
		return nil, err
	}
	_ = returnedID // the executor may echo a different id; the stored id is authoritative

	return execution, nil
}

// ExecuteSync runs ExecuteCode, then polls the Execution until terminal or
// syncTimeout elapses. If the timeout elapses first, it returns the most
// recent snapshot with status forced to TIMEOUT for the caller's benefit —
// the underlying execution is left running; only server-side polling stops.
func (s *ExecutionService) ExecuteSync(ctx context.Context, in ExecuteCodeInput, pollInterval, syncTimeout time.Duration) (*domain.Execution, error) {
	switch {
	case pollInterval == 0:
		pollInterval = DefaultPollInterval
	case pollInterval < MinPollInterval || pollInterval > MaxPollInterval:
		return nil, apperrors.ExecutionValidation(fmt.Sprintf("poll_interval must be between %s and %s", MinPollInterval, MaxPollInterval))
	}
	switch {
	case syncTimeout == 0:
		syncTimeout = DefaultSyncTimeout
	case syncTimeout < MinSyncTimeout || syncTimeout > MaxSyncTimeout:
		return nil, apperrors.ExecutionValidation(fmt.Sprintf("sync_timeout must be between %s and %s", MinSyncTimeout, MaxSyncTimeout))
	}

	execution, err := s.ExecuteCode(ctx, in)
	if err != nil {
		return nil, err
	}

	deadline := s.clock.Now().Add(syncTimeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		current, err := s.executions.Get(ctx, execution.ID)
		if err != nil {
			return nil, apperrors.Internal(err)
		}
		if current.Status.IsTerminal() {
			return current, nil
		}
		if s.clock.Now().After(deadline) {
			snapshot := *current
			snapshot.Status = domain.ExecutionTimeout
			return &snapshot, nil
		}
		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// GetExecution returns an execution by id.
func (s *ExecutionService) GetExecution(ctx context.Context, id string) (*domain.Execution, error) {
	execution, err := s.executions.Get(ctx, id)
	if err != nil {
		return nil, apperrors.ExecutionNotFound(id)
	}
	return execution, nil
}

// ListExecutions returns a page of executions for a session.
func (s *ExecutionService) ListExecutions(ctx context.Context, sessionID string, limit, offset int) ([]*domain.Execution, int, error) {
	return s.executions.ListBySession(ctx, sessionID, limit, offset)
}
