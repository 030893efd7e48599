package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kweaver-ai/sandboxctl/internal/domain"
)

// ExecutionRepository implements repository.ExecutionRepository against
// PostgreSQL.
type ExecutionRepository struct {
	db *sql.DB
}

func NewExecutionRepository(db *sql.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

func (r *ExecutionRepository) Create(ctx context.Context, e *domain.Execution) error {
	envVars, err := json.Marshal(e.EnvVars)
	if err != nil {
		return fmt.Errorf("marshal env_vars: %w", err)
	}
	artifacts, err := json.Marshal(e.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}

	query := `
		INSERT INTO executions (
			id, session_id, code, language, timeout_seconds, event, env_vars,
			status, exit_code, error_message, stdout, stderr, return_value,
			metrics, artifacts, retry_count,
			created_at, started_at, completed_at, last_heartbeat_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`
	_, err = r.db.ExecContext(ctx, query,
		e.ID, e.SessionID, e.Code, e.Language, e.Timeout, e.Event, envVars,
		string(e.Status), e.ExitCode, nullString(e.ErrorMessage), e.Stdout, e.Stderr, nullString(e.ReturnValue),
		metricsJSON(e.Metrics), artifacts, e.RetryCount,
		e.CreatedAt, e.StartedAt, e.CompletedAt, e.LastHeartbeatAt,
	)
	if err != nil {
		return fmt.Errorf("create execution %s: %w", e.ID, err)
	}
	return nil
}

func (r *ExecutionRepository) Get(ctx context.Context, id string) (*domain.Execution, error) {
	row := r.db.QueryRowContext(ctx, executionSelectQuery+` WHERE id = $1`, id)
	e, err := scanExecution(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("execution not found: %s", id)
		}
		return nil, fmt.Errorf("get execution %s: %w", id, err)
	}
	return e, nil
}

func (r *ExecutionRepository) Update(ctx context.Context, e *domain.Execution) error {
	artifacts, err := json.Marshal(e.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	query := `
		UPDATE executions SET
			status = $1, exit_code = $2, error_message = $3, stdout = $4, stderr = $5,
			return_value = $6, metrics = $7, artifacts = $8, retry_count = $9,
			started_at = $10, completed_at = $11, last_heartbeat_at = $12
		WHERE id = $13
	`
	result, err := r.db.ExecContext(ctx, query,
		string(e.Status), e.ExitCode, nullString(e.ErrorMessage), e.Stdout, e.Stderr,
		nullString(e.ReturnValue), metricsJSON(e.Metrics), artifacts, e.RetryCount,
		e.StartedAt, e.CompletedAt, e.LastHeartbeatAt, e.ID,
	)
	if err != nil {
		return fmt.Errorf("update execution %s: %w", e.ID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("execution not found: %s", e.ID)
	}
	return nil
}

func (r *ExecutionRepository) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*domain.Execution, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM executions WHERE session_id = $1`, sessionID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count executions for session %s: %w", sessionID, err)
	}

	query := executionSelectQuery + ` WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, sessionID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list executions for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []*domain.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan execution row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate execution rows: %w", err)
	}
	return out, total, nil
}

const executionSelectQuery = `
	SELECT
		id, session_id, code, language, timeout_seconds, event, env_vars,
		status, exit_code, COALESCE(error_message, ''), stdout, stderr, COALESCE(return_value, ''),
		metrics, artifacts, retry_count,
		created_at, started_at, completed_at, last_heartbeat_at
	FROM executions
`

func scanExecution(row rowScanner) (*domain.Execution, error) {
	var e domain.Execution
	var envVarsRaw, artifactsRaw, metricsRaw []byte
	var startedAt, completedAt, lastHeartbeatAt sql.NullTime

	err := row.Scan(
		&e.ID, &e.SessionID, &e.Code, &e.Language, &e.Timeout, &e.Event, &envVarsRaw,
		&e.Status, &e.ExitCode, &e.ErrorMessage, &e.Stdout, &e.Stderr, &e.ReturnValue,
		&metricsRaw, &artifactsRaw, &e.RetryCount,
		&e.CreatedAt, &startedAt, &completedAt, &lastHeartbeatAt,
	)
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		t := startedAt.Time
		e.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	if lastHeartbeatAt.Valid {
		t := lastHeartbeatAt.Time
		e.LastHeartbeatAt = &t
	}
	if len(envVarsRaw) > 0 {
		if err := json.Unmarshal(envVarsRaw, &e.EnvVars); err != nil {
			return nil, fmt.Errorf("unmarshal env_vars: %w", err)
		}
	}
	if len(artifactsRaw) > 0 {
		if err := json.Unmarshal(artifactsRaw, &e.Artifacts); err != nil {
			return nil, fmt.Errorf("unmarshal artifacts: %w", err)
		}
	}
	if len(metricsRaw) > 0 {
		var m domain.ExecutionMetrics
		if err := json.Unmarshal(metricsRaw, &m); err != nil {
			return nil, fmt.Errorf("unmarshal metrics: %w", err)
		}
		e.Metrics = &m
	}
	return &e, nil
}

func metricsJSON(m *domain.ExecutionMetrics) []byte {
	if m == nil {
		return nil
	}
	b, _ := json.Marshal(m)
	return b
}
