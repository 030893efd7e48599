package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kweaver-ai/sandboxctl/internal/domain"
)

// RuntimeNodeRepository implements repository.RuntimeNodeRepository
// against PostgreSQL. Node inventory is read-mostly: the scheduler reads
// it on every schedule() call, while usage fields are written on each
// heartbeat.
type RuntimeNodeRepository struct {
	db *sql.DB
}

func NewRuntimeNodeRepository(db *sql.DB) *RuntimeNodeRepository {
	return &RuntimeNodeRepository{db: db}
}

func (r *RuntimeNodeRepository) List(ctx context.Context) ([]*domain.RuntimeNode, error) {
	rows, err := r.db.QueryContext(ctx, nodeSelectQuery+` ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list runtime nodes: %w", err)
	}
	defer rows.Close()

	var out []*domain.RuntimeNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan runtime node row: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runtime node rows: %w", err)
	}
	return out, nil
}

func (r *RuntimeNodeRepository) Get(ctx context.Context, id string) (*domain.RuntimeNode, error) {
	row := r.db.QueryRowContext(ctx, nodeSelectQuery+` WHERE id = $1`, id)
	n, err := scanNode(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("runtime node not found: %s", id)
		}
		return nil, fmt.Errorf("get runtime node %s: %w", id, err)
	}
	return n, nil
}

func (r *RuntimeNodeRepository) Upsert(ctx context.Context, n *domain.RuntimeNode) error {
	cached := make([]string, 0, len(n.CachedTemplates))
	for id, ok := range n.CachedTemplates {
		if ok {
			cached = append(cached, id)
		}
	}
	cachedJSON, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("marshal cached_templates: %w", err)
	}

	query := `
		INSERT INTO runtime_nodes (id, kind, contact_url, status, cpu_usage, mem_usage, session_count, max_sessions, cached_templates)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind, contact_url = EXCLUDED.contact_url, status = EXCLUDED.status,
			cpu_usage = EXCLUDED.cpu_usage, mem_usage = EXCLUDED.mem_usage,
			session_count = EXCLUDED.session_count, max_sessions = EXCLUDED.max_sessions,
			cached_templates = EXCLUDED.cached_templates
	`
	_, err = r.db.ExecContext(ctx, query,
		n.ID, n.Kind, n.ContactURL, string(n.Status), n.CPUUsage, n.MemUsage, n.SessionCount, n.MaxSessions, cachedJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert runtime node %s: %w", n.ID, err)
	}
	return nil
}

func (r *RuntimeNodeRepository) UpdateUsage(ctx context.Context, id string, cpuUsage, memUsage float64, sessionCount int) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE runtime_nodes SET cpu_usage = $1, mem_usage = $2, session_count = $3 WHERE id = $4
	`, cpuUsage, memUsage, sessionCount, id)
	if err != nil {
		return fmt.Errorf("update usage for runtime node %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("runtime node not found: %s", id)
	}
	return nil
}

const nodeSelectQuery = `
	SELECT id, kind, contact_url, status, cpu_usage, mem_usage, session_count, max_sessions, cached_templates
	FROM runtime_nodes
`

func scanNode(row rowScanner) (*domain.RuntimeNode, error) {
	var n domain.RuntimeNode
	var cachedRaw []byte
	err := row.Scan(&n.ID, &n.Kind, &n.ContactURL, &n.Status, &n.CPUUsage, &n.MemUsage, &n.SessionCount, &n.MaxSessions, &cachedRaw)
	if err != nil {
		return nil, err
	}
	var cached []string
	if len(cachedRaw) > 0 {
		if err := json.Unmarshal(cachedRaw, &cached); err != nil {
			return nil, fmt.Errorf("unmarshal cached_templates: %w", err)
		}
	}
	n.CachedTemplates = make(map[string]bool, len(cached))
	for _, id := range cached {
		n.CachedTemplates[id] = true
	}
	return &n, nil
}
