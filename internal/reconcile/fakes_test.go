package reconcile

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kweaver-ai/sandboxctl/internal/backend"
	"github.com/kweaver-ai/sandboxctl/internal/domain"
	"github.com/kweaver-ai/sandboxctl/internal/storage"
)

// fakeSessionRepo is an in-memory repository.SessionRepository with
// directly settable idle/orphaned result sets, since the reconcilers never
// compute those filters themselves.
type fakeSessionRepo struct {
	mu            sync.Mutex
	byID          map[string]*domain.Session
	idleResult    []*domain.Session
	orphanResult  []*domain.Session
	listIdleErr   error
	listOrphanErr error
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{byID: make(map[string]*domain.Session)}
}

func (r *fakeSessionRepo) put(s *domain.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[s.ID] = s
}

func (r *fakeSessionRepo) Create(ctx context.Context, s *domain.Session) error {
	r.put(s)
	return nil
}

func (r *fakeSessionRepo) Get(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return s, nil
}

func (r *fakeSessionRepo) GetByContainerID(ctx context.Context, containerID string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byID {
		if s.ContainerID == containerID {
			return s, nil
		}
	}
	return nil, fmt.Errorf("session with container %s not found", containerID)
}

func (r *fakeSessionRepo) Update(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[s.ID]; !ok {
		return fmt.Errorf("session %s not found", s.ID)
	}
	r.byID[s.ID] = s
	return nil
}

func (r *fakeSessionRepo) ListByStatus(ctx context.Context, statuses ...domain.SessionStatus) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for _, s := range r.byID {
		for _, want := range statuses {
			if s.Status == want {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) ListIdle(ctx context.Context, idleTimeout, maxLifetime int64) ([]*domain.Session, error) {
	if r.listIdleErr != nil {
		return nil, r.listIdleErr
	}
	return r.idleResult, nil
}

func (r *fakeSessionRepo) ListOrphaned(ctx context.Context) ([]*domain.Session, error) {
	if r.listOrphanErr != nil {
		return nil, r.listOrphanErr
	}
	return r.orphanResult, nil
}

// fakeTemplateRepo is a minimal in-memory repository.TemplateRepository.
type fakeTemplateRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.Template
}

func newFakeTemplateRepo(templates ...*domain.Template) *fakeTemplateRepo {
	r := &fakeTemplateRepo{byID: make(map[string]*domain.Template)}
	for _, t := range templates {
		r.byID[t.ID] = t
	}
	return r
}

func (r *fakeTemplateRepo) Create(ctx context.Context, t *domain.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[t.ID] = t
	return nil
}

func (r *fakeTemplateRepo) Get(ctx context.Context, id string) (*domain.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("template %s not found", id)
	}
	return t, nil
}

func (r *fakeTemplateRepo) Update(ctx context.Context, t *domain.Template) error { return nil }
func (r *fakeTemplateRepo) Delete(ctx context.Context, id string) error         { return nil }
func (r *fakeTemplateRepo) List(ctx context.Context) ([]*domain.Template, error) {
	return nil, nil
}

// fakeObjectStore is an in-memory storage.ObjectStore that just records
// which prefixes were deleted.
type fakeObjectStore struct {
	mu             sync.Mutex
	deletedPrefixes []string
	deleteErr      error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{}
}

func (s *fakeObjectStore) Upload(ctx context.Context, key string, data io.Reader, size int64, contentType string) error {
	return nil
}

func (s *fakeObjectStore) Download(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	return nil, 0, fmt.Errorf("not implemented")
}

func (s *fakeObjectStore) Exists(ctx context.Context, key string) (bool, error) { return false, nil }

func (s *fakeObjectStore) List(ctx context.Context, prefix string, limit int) ([]storage.ObjectInfo, error) {
	return nil, nil
}

func (s *fakeObjectStore) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "", nil
}

func (s *fakeObjectStore) DeletePrefix(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deletedPrefixes = append(s.deletedPrefixes, prefix)
	return nil
}

// fakeBackend is an in-memory backend.ContainerBackend with configurable
// IsRunning/Create/Stop/Remove outcomes per test.
type fakeBackend struct {
	mu           sync.Mutex
	running      bool
	isRunningErr error
	stopErr      error
	removeErr    error
	createErr    error
	startErr     error
	nextID       int
	removed      []string
	created      []backend.ContainerConfig
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{}
}

func (b *fakeBackend) Create(ctx context.Context, cfg backend.ContainerConfig) (string, error) {
	if b.createErr != nil {
		return "", b.createErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.created = append(b.created, cfg)
	return fmt.Sprintf("container-%d", b.nextID), nil
}

func (b *fakeBackend) Start(ctx context.Context, containerID string) error { return b.startErr }

func (b *fakeBackend) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	return b.stopErr
}

func (b *fakeBackend) Remove(ctx context.Context, containerID string) error {
	if b.removeErr != nil {
		return b.removeErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed = append(b.removed, containerID)
	return nil
}

func (b *fakeBackend) Inspect(ctx context.Context, containerID string) (backend.ContainerStatus, error) {
	return backend.ContainerStatus{ID: containerID, Running: b.running}, nil
}

func (b *fakeBackend) IsRunning(ctx context.Context, containerID string) (bool, error) {
	if b.isRunningErr != nil {
		return false, b.isRunningErr
	}
	return b.running, nil
}

func (b *fakeBackend) Logs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	return io.NopCloser(nil), nil
}

func (b *fakeBackend) Wait(ctx context.Context, containerID string) (int, error) { return 0, nil }
func (b *fakeBackend) Ping(ctx context.Context) error                            { return nil }
