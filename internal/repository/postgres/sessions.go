package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kweaver-ai/sandboxctl/internal/domain"
)

// SessionRepository implements repository.SessionRepository against
// PostgreSQL.
type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) error {
	envVars, err := json.Marshal(s.EnvVars)
	if err != nil {
		return fmt.Errorf("marshal env_vars: %w", err)
	}
	deps, err := json.Marshal(s.DependencySpecs)
	if err != nil {
		return fmt.Errorf("marshal dependency_specs: %w", err)
	}

	query := `
		INSERT INTO sessions (
			id, template_id, status, cpu, memory, disk, max_processes,
			workspace_path, runtime_type, runtime_node_id, container_id,
			env_vars, timeout_seconds, dependency_specs, install_state,
			created_at, updated_at, completed_at, last_activity_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`
	_, err = r.db.ExecContext(ctx, query,
		s.ID, s.TemplateID, string(s.Status), s.Limits.CPU, s.Limits.Memory, s.Limits.Disk, s.Limits.MaxProcesses,
		s.WorkspacePath, s.RuntimeType, nullString(s.RuntimeNodeID), nullString(s.ContainerID),
		envVars, s.TimeoutSeconds, deps, string(s.InstallState),
		s.CreatedAt, s.UpdatedAt, s.CompletedAt, s.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("create session %s: %w", s.ID, err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, sessionSelectQuery+` WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session not found: %s", id)
		}
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return s, nil
}

func (r *SessionRepository) GetByContainerID(ctx context.Context, containerID string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, sessionSelectQuery+` WHERE container_id = $1`, containerID)
	s, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session not found for container: %s", containerID)
		}
		return nil, fmt.Errorf("get session by container %s: %w", containerID, err)
	}
	return s, nil
}

func (r *SessionRepository) Update(ctx context.Context, s *domain.Session) error {
	envVars, err := json.Marshal(s.EnvVars)
	if err != nil {
		return fmt.Errorf("marshal env_vars: %w", err)
	}
	deps, err := json.Marshal(s.DependencySpecs)
	if err != nil {
		return fmt.Errorf("marshal dependency_specs: %w", err)
	}

	query := `
		UPDATE sessions SET
			status = $1, runtime_node_id = $2, container_id = $3,
			env_vars = $4, dependency_specs = $5, install_state = $6,
			updated_at = $7, completed_at = $8, last_activity_at = $9
		WHERE id = $10
	`
	result, err := r.db.ExecContext(ctx, query,
		string(s.Status), nullString(s.RuntimeNodeID), nullString(s.ContainerID),
		envVars, deps, string(s.InstallState),
		s.UpdatedAt, s.CompletedAt, s.LastActivityAt, s.ID,
	)
	if err != nil {
		return fmt.Errorf("update session %s: %w", s.ID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("session not found: %s", s.ID)
	}
	return nil
}

func (r *SessionRepository) ListByStatus(ctx context.Context, statuses ...domain.SessionStatus) ([]*domain.Session, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(statuses))
	placeholders := ""
	for i, st := range statuses {
		args[i] = string(st)
		if i > 0 {
			placeholders += ","
		}
		placeholders += fmt.Sprintf("$%d", i+1)
	}
	query := sessionSelectQuery + fmt.Sprintf(` WHERE status IN (%s) ORDER BY created_at ASC`, placeholders)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions by status: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ListIdle returns RUNNING sessions idle past idleTimeout seconds or alive
// past maxLifetime seconds since creation. A zero-or-negative threshold
// disables that half of the check for that call; pass a large sentinel to
// skip a sweep entirely from the caller side.
func (r *SessionRepository) ListIdle(ctx context.Context, idleTimeout, maxLifetime int64) ([]*domain.Session, error) {
	query := sessionSelectQuery + `
		WHERE status = 'RUNNING' AND (
			($1 > 0 AND last_activity_at < NOW() - ($1 || ' seconds')::INTERVAL)
			OR ($2 > 0 AND created_at < NOW() - ($2 || ' seconds')::INTERVAL)
		)
		ORDER BY last_activity_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, idleTimeout, maxLifetime)
	if err != nil {
		return nil, fmt.Errorf("list idle sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (r *SessionRepository) ListOrphaned(ctx context.Context) ([]*domain.Session, error) {
	query := sessionSelectQuery + `
		WHERE status IN ('FAILED', 'TIMEOUT') AND container_id IS NOT NULL
		ORDER BY updated_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list orphaned sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

const sessionSelectQuery = `
	SELECT
		id, template_id, status, cpu, memory, disk, max_processes,
		workspace_path, runtime_type, COALESCE(runtime_node_id, ''), COALESCE(container_id, ''),
		env_vars, timeout_seconds, dependency_specs, install_state,
		created_at, updated_at, completed_at, last_activity_at
	FROM sessions
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var s domain.Session
	var envVarsRaw, depsRaw []byte
	var completedAt sql.NullTime

	err := row.Scan(
		&s.ID, &s.TemplateID, &s.Status, &s.Limits.CPU, &s.Limits.Memory, &s.Limits.Disk, &s.Limits.MaxProcesses,
		&s.WorkspacePath, &s.RuntimeType, &s.RuntimeNodeID, &s.ContainerID,
		&envVarsRaw, &s.TimeoutSeconds, &depsRaw, &s.InstallState,
		&s.CreatedAt, &s.UpdatedAt, &completedAt, &s.LastActivityAt,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		s.CompletedAt = &t
	}
	if err := json.Unmarshal(envVarsRaw, &s.EnvVars); err != nil {
		return nil, fmt.Errorf("unmarshal env_vars: %w", err)
	}
	if err := json.Unmarshal(depsRaw, &s.DependencySpecs); err != nil {
		return nil, fmt.Errorf("unmarshal dependency_specs: %w", err)
	}
	return &s, nil
}

func scanSessions(rows *sql.Rows) ([]*domain.Session, error) {
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
