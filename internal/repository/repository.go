// Package repository defines the persistence ports the application
// services depend on. Concrete implementations live in the postgres
// subpackage; tests can supply in-memory fakes implementing the same
// interfaces.
package repository

import (
	"context"

	"github.com/kweaver-ai/sandboxctl/internal/domain"
)

// SessionRepository persists Session aggregates.
type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	GetByContainerID(ctx context.Context, containerID string) (*domain.Session, error)
	Update(ctx context.Context, s *domain.Session) error
	ListByStatus(ctx context.Context, statuses ...domain.SessionStatus) ([]*domain.Session, error)
	ListIdle(ctx context.Context, idleTimeout, maxLifetime int64) ([]*domain.Session, error)
	ListOrphaned(ctx context.Context) ([]*domain.Session, error)
}

// ExecutionRepository persists Execution entities.
type ExecutionRepository interface {
	Create(ctx context.Context, e *domain.Execution) error
	Get(ctx context.Context, id string) (*domain.Execution, error)
	Update(ctx context.Context, e *domain.Execution) error
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*domain.Execution, int, error)
}

// TemplateRepository persists Templates.
type TemplateRepository interface {
	Create(ctx context.Context, t *domain.Template) error
	Get(ctx context.Context, id string) (*domain.Template, error)
	Update(ctx context.Context, t *domain.Template) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*domain.Template, error)
}

// RuntimeNodeRepository persists RuntimeNode inventory. Reads are
// expected to be fast and frequent (every schedule() call); writes happen
// on heartbeat/health updates.
type RuntimeNodeRepository interface {
	List(ctx context.Context) ([]*domain.RuntimeNode, error)
	Get(ctx context.Context, id string) (*domain.RuntimeNode, error)
	Upsert(ctx context.Context, n *domain.RuntimeNode) error
	UpdateUsage(ctx context.Context, id string, cpuUsage, memUsage float64, sessionCount int) error
}
