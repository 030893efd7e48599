// Package postgres implements the repository package's ports against
// PostgreSQL using database/sql and the lib/pq driver — raw parameterized
// SQL, no ORM, matching the rest of the control plane's data-access style.
package postgres

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Config holds the connection parameters for the control plane's database.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Open dials PostgreSQL and configures the connection pool.
func Open(cfg Config) (*sql.DB, error) {
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate creates the control plane's schema if it does not already exist.
func Migrate(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS templates (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		image_ref TEXT NOT NULL,
		runtime_kind TEXT NOT NULL,
		default_cpu TEXT NOT NULL,
		default_memory TEXT NOT NULL,
		default_disk TEXT NOT NULL,
		default_max_processes INTEGER NOT NULL,
		default_timeout_seconds INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		template_id TEXT NOT NULL REFERENCES templates(id),
		status TEXT NOT NULL,
		cpu TEXT NOT NULL,
		memory TEXT NOT NULL,
		disk TEXT NOT NULL,
		max_processes INTEGER NOT NULL,
		workspace_path TEXT NOT NULL,
		runtime_type TEXT NOT NULL,
		runtime_node_id TEXT,
		container_id TEXT,
		env_vars JSONB NOT NULL DEFAULT '{}',
		timeout_seconds INTEGER NOT NULL,
		dependency_specs JSONB NOT NULL DEFAULT '[]',
		install_state TEXT NOT NULL DEFAULT 'NONE',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		last_activity_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions(last_activity_at)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_container_id ON sessions(container_id)`,
	`CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		code TEXT NOT NULL,
		language TEXT NOT NULL,
		timeout_seconds INTEGER NOT NULL,
		event JSONB NOT NULL DEFAULT '{}',
		env_vars JSONB NOT NULL DEFAULT '{}',
		status TEXT NOT NULL,
		exit_code INTEGER,
		error_message TEXT,
		stdout TEXT NOT NULL DEFAULT '',
		stderr TEXT NOT NULL DEFAULT '',
		return_value TEXT,
		metrics JSONB,
		artifacts JSONB NOT NULL DEFAULT '[]',
		retry_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		last_heartbeat_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_session_id ON executions(session_id)`,
	`CREATE TABLE IF NOT EXISTS runtime_nodes (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		contact_url TEXT NOT NULL,
		status TEXT NOT NULL,
		cpu_usage DOUBLE PRECISION NOT NULL DEFAULT 0,
		mem_usage DOUBLE PRECISION NOT NULL DEFAULT 0,
		session_count INTEGER NOT NULL DEFAULT 0,
		max_sessions INTEGER NOT NULL DEFAULT 0,
		cached_templates JSONB NOT NULL DEFAULT '[]'
	)`,
}
