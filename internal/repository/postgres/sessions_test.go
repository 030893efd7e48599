package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kweaver-ai/sandboxctl/internal/domain"
)

func newTestSession(now time.Time) *domain.Session {
	s, err := domain.NewSession("sess_20260304_abcdef12", "python-3.11", "test-bucket", domain.DefaultResourceLimit(), "docker", 600, now)
	if err != nil {
		panic(err)
	}
	return s
}

func TestSessionRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSessionRepository(db)
	s := newTestSession(time.Now())

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(s.ID, s.TemplateID, string(s.Status), s.Limits.CPU, s.Limits.Memory, s.Limits.Disk, s.Limits.MaxProcesses,
			s.WorkspacePath, s.RuntimeType, sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), s.TimeoutSeconds, sqlmock.AnyArg(), string(s.InstallState),
			s.CreatedAt, s.UpdatedAt, s.CompletedAt, s.LastActivityAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Create(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_Get_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSessionRepository(db)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "template_id", "status", "cpu", "memory", "disk", "max_processes",
		"workspace_path", "runtime_type", "runtime_node_id", "container_id",
		"env_vars", "timeout_seconds", "dependency_specs", "install_state",
		"created_at", "updated_at", "completed_at", "last_activity_at",
	}).AddRow(
		"sess_20260304_abcdef12", "python-3.11", "CREATING", "1", "512Mi", "1Gi", 128,
		"s3://test-bucket/sessions/sess_20260304_abcdef12/", "docker", "", "",
		[]byte(`{}`), 600, []byte(`[]`), "NONE",
		now, now, nil, now,
	)

	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE id").
		WithArgs("sess_20260304_abcdef12").
		WillReturnRows(rows)

	s, err := repo.Get(context.Background(), "sess_20260304_abcdef12")
	require.NoError(t, err)
	assert.Equal(t, "sess_20260304_abcdef12", s.ID)
	assert.Equal(t, domain.SessionCreating, s.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_Get_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSessionRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	s, err := repo.Get(context.Background(), "missing")
	assert.Error(t, err)
	assert.Nil(t, s)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_GetByContainerID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSessionRepository(db)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "template_id", "status", "cpu", "memory", "disk", "max_processes",
		"workspace_path", "runtime_type", "runtime_node_id", "container_id",
		"env_vars", "timeout_seconds", "dependency_specs", "install_state",
		"created_at", "updated_at", "completed_at", "last_activity_at",
	}).AddRow(
		"sess_20260304_abcdef12", "python-3.11", "RUNNING", "1", "512Mi", "1Gi", 128,
		"s3://test-bucket/sessions/sess_20260304_abcdef12/", "docker", "node-1", "container-1",
		[]byte(`{}`), 600, []byte(`[]`), "NONE",
		now, now, nil, now,
	)

	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE container_id").
		WithArgs("container-1").
		WillReturnRows(rows)

	s, err := repo.GetByContainerID(context.Background(), "container-1")
	require.NoError(t, err)
	assert.Equal(t, "container-1", s.ContainerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_Update_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSessionRepository(db)
	s := newTestSession(time.Now())
	s.Status = domain.SessionRunning

	mock.ExpectExec("UPDATE sessions SET").
		WithArgs(string(s.Status), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), string(s.InstallState),
			s.UpdatedAt, s.CompletedAt, s.LastActivityAt, s.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Update(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_Update_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSessionRepository(db)
	s := newTestSession(time.Now())

	mock.ExpectExec("UPDATE sessions SET").
		WithArgs(string(s.Status), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), string(s.InstallState),
			s.UpdatedAt, s.CompletedAt, s.LastActivityAt, s.ID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.Update(context.Background(), s)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_ListByStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSessionRepository(db)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "template_id", "status", "cpu", "memory", "disk", "max_processes",
		"workspace_path", "runtime_type", "runtime_node_id", "container_id",
		"env_vars", "timeout_seconds", "dependency_specs", "install_state",
		"created_at", "updated_at", "completed_at", "last_activity_at",
	}).AddRow(
		"sess_a", "python-3.11", "RUNNING", "1", "512Mi", "1Gi", 128,
		"s3://test-bucket/sessions/sess_a/", "docker", "", "",
		[]byte(`{}`), 600, []byte(`[]`), "NONE",
		now, now, nil, now,
	)

	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE status IN").
		WithArgs(string(domain.SessionRunning)).
		WillReturnRows(rows)

	out, err := repo.ListByStatus(context.Background(), domain.SessionRunning)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_ListByStatus_Empty(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSessionRepository(db)
	out, err := repo.ListByStatus(context.Background())
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestSessionRepository_ListIdle(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSessionRepository(db)

	rows := sqlmock.NewRows([]string{
		"id", "template_id", "status", "cpu", "memory", "disk", "max_processes",
		"workspace_path", "runtime_type", "runtime_node_id", "container_id",
		"env_vars", "timeout_seconds", "dependency_specs", "install_state",
		"created_at", "updated_at", "completed_at", "last_activity_at",
	})

	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE status = 'RUNNING'").
		WithArgs(int64(1800), int64(28800)).
		WillReturnRows(rows)

	out, err := repo.ListIdle(context.Background(), 1800, 28800)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_ListOrphaned(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSessionRepository(db)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "template_id", "status", "cpu", "memory", "disk", "max_processes",
		"workspace_path", "runtime_type", "runtime_node_id", "container_id",
		"env_vars", "timeout_seconds", "dependency_specs", "install_state",
		"created_at", "updated_at", "completed_at", "last_activity_at",
	}).AddRow(
		"sess_orphan", "python-3.11", "FAILED", "1", "512Mi", "1Gi", 128,
		"s3://test-bucket/sessions/sess_orphan/", "docker", "node-1", "container-dead",
		[]byte(`{}`), 600, []byte(`[]`), "NONE",
		now, now, now, now,
	)

	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE status IN \\('FAILED', 'TIMEOUT'\\)").
		WillReturnRows(rows)

	out, err := repo.ListOrphaned(context.Background())
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, "container-dead", out[0].ContainerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
