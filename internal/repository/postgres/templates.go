package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kweaver-ai/sandboxctl/internal/domain"
	"github.com/lib/pq"
)

// TemplateRepository implements repository.TemplateRepository against
// PostgreSQL.
type TemplateRepository struct {
	db *sql.DB
}

func NewTemplateRepository(db *sql.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

func (r *TemplateRepository) Create(ctx context.Context, t *domain.Template) error {
	query := `
		INSERT INTO templates (
			id, display_name, image_ref, runtime_kind,
			default_cpu, default_memory, default_disk, default_max_processes, default_timeout_seconds
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.DisplayName, t.ImageRef, string(t.RuntimeKind),
		t.DefaultLimits.CPU, t.DefaultLimits.Memory, t.DefaultLimits.Disk, t.DefaultLimits.MaxProcesses, t.DefaultTimeout,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("template already exists: %s", t.ID)
		}
		return fmt.Errorf("create template %s: %w", t.ID, err)
	}
	return nil
}

func (r *TemplateRepository) Get(ctx context.Context, id string) (*domain.Template, error) {
	row := r.db.QueryRowContext(ctx, templateSelectQuery+` WHERE id = $1`, id)
	t, err := scanTemplate(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("template not found: %s", id)
		}
		return nil, fmt.Errorf("get template %s: %w", id, err)
	}
	return t, nil
}

func (r *TemplateRepository) Update(ctx context.Context, t *domain.Template) error {
	query := `
		UPDATE templates SET
			display_name = $1, default_cpu = $2, default_memory = $3,
			default_disk = $4, default_max_processes = $5, default_timeout_seconds = $6
		WHERE id = $7
	`
	result, err := r.db.ExecContext(ctx, query,
		t.DisplayName, t.DefaultLimits.CPU, t.DefaultLimits.Memory,
		t.DefaultLimits.Disk, t.DefaultLimits.MaxProcesses, t.DefaultTimeout, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update template %s: %w", t.ID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("template not found: %s", t.ID)
	}
	return nil
}

func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete template %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("template not found: %s", id)
	}
	return nil
}

func (r *TemplateRepository) List(ctx context.Context) ([]*domain.Template, error) {
	rows, err := r.db.QueryContext(ctx, templateSelectQuery+` ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []*domain.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate template rows: %w", err)
	}
	return out, nil
}

const templateSelectQuery = `
	SELECT id, display_name, image_ref, runtime_kind,
		default_cpu, default_memory, default_disk, default_max_processes, default_timeout_seconds
	FROM templates
`

func scanTemplate(row rowScanner) (*domain.Template, error) {
	var t domain.Template
	err := row.Scan(
		&t.ID, &t.DisplayName, &t.ImageRef, &t.RuntimeKind,
		&t.DefaultLimits.CPU, &t.DefaultLimits.Memory, &t.DefaultLimits.Disk, &t.DefaultLimits.MaxProcesses, &t.DefaultTimeout,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
