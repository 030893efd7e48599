package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/kweaver-ai/sandboxctl/internal/backend"
	"github.com/kweaver-ai/sandboxctl/internal/domain"
	"github.com/kweaver-ai/sandboxctl/internal/storage"
)

// fakeSessionRepo is an in-memory repository.SessionRepository.
type fakeSessionRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{byID: make(map[string]*domain.Session)}
}

func (r *fakeSessionRepo) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.byID[s.ID] = &cp
	return nil
}

func (r *fakeSessionRepo) Get(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSessionRepo) GetByContainerID(ctx context.Context, containerID string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byID {
		if s.ContainerID == containerID {
			cp := *s
			return &cp, nil
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
	cp := *s
	r.byID[s.ID] = &cp
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
	return nil, nil
}

func (r *fakeSessionRepo) ListOrphaned(ctx context.Context) ([]*domain.Session, error) {
	return nil, nil
}

// fakeExecutionRepo is an in-memory repository.ExecutionRepository.
type fakeExecutionRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.Execution
}

func newFakeExecutionRepo() *fakeExecutionRepo {
	return &fakeExecutionRepo{byID: make(map[string]*domain.Execution)}
}

func (r *fakeExecutionRepo) Create(ctx context.Context, e *domain.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.byID[e.ID] = &cp
	return nil
}

func (r *fakeExecutionRepo) Get(ctx context.Context, id string) (*domain.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("execution %s not found", id)
	}
	cp := *e
	return &cp, nil
}

func (r *fakeExecutionRepo) Update(ctx context.Context, e *domain.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[e.ID]; !ok {
		return fmt.Errorf("execution %s not found", e.ID)
	}
	cp := *e
	r.byID[e.ID] = &cp
	return nil
}

func (r *fakeExecutionRepo) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*domain.Execution, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Execution
	for _, e := range r.byID {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, len(out), nil
}

// fakeTemplateRepo is an in-memory repository.TemplateRepository.
type fakeTemplateRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.Template
}

func newFakeTemplateRepo() *fakeTemplateRepo {
	return &fakeTemplateRepo{byID: make(map[string]*domain.Template)}
}

func (r *fakeTemplateRepo) Create(ctx context.Context, t *domain.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.byID[t.ID] = &cp
	return nil
}

func (r *fakeTemplateRepo) Get(ctx context.Context, id string) (*domain.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("template %s not found", id)
	}
	cp := *t
	return &cp, nil
}

func (r *fakeTemplateRepo) Update(ctx context.Context, t *domain.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[t.ID]; !ok {
		return fmt.Errorf("template %s not found", t.ID)
	}
	cp := *t
	r.byID[t.ID] = &cp
	return nil
}

func (r *fakeTemplateRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return fmt.Errorf("template %s not found", id)
	}
	delete(r.byID, id)
	return nil
}

func (r *fakeTemplateRepo) List(ctx context.Context) ([]*domain.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Template, 0, len(r.byID))
	for _, t := range r.byID {
		out = append(out, t)
	}
	return out, nil
}

// fakeNodeRepo is an in-memory repository.RuntimeNodeRepository.
type fakeNodeRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.RuntimeNode
}

func newFakeNodeRepo(nodes ...*domain.RuntimeNode) *fakeNodeRepo {
	r := &fakeNodeRepo{byID: make(map[string]*domain.RuntimeNode)}
	for _, n := range nodes {
		r.byID[n.ID] = n
	}
	return r
}

func (r *fakeNodeRepo) List(ctx context.Context) ([]*domain.RuntimeNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.RuntimeNode, 0, len(r.byID))
	for _, n := range r.byID {
		out = append(out, n)
	}
	return out, nil
}

func (r *fakeNodeRepo) Get(ctx context.Context, id string) (*domain.RuntimeNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("node %s not found", id)
	}
	return n, nil
}

func (r *fakeNodeRepo) Upsert(ctx context.Context, n *domain.RuntimeNode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[n.ID] = n
	return nil
}

func (r *fakeNodeRepo) UpdateUsage(ctx context.Context, id string, cpuUsage, memUsage float64, sessionCount int) error {
	return nil
}

// fakeObjectStore is an in-memory storage.ObjectStore.
type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failGet bool
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (s *fakeObjectStore) Upload(ctx context.Context, key string, data io.Reader, size int64, contentType string) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = body
	return nil
}

func (s *fakeObjectStore) Download(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.objects[key]
	if !ok {
		return nil, 0, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(nopReader{body}), int64(len(body)), nil
}

type nopReader struct{ b []byte }

func (r nopReader) Read(p []byte) (int, error) {
	n := copy(p, r.b)
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (s *fakeObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *fakeObjectStore) List(ctx context.Context, prefix string, limit int) ([]storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.ObjectInfo
	for k, v := range s.objects {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			out = append(out, storage.ObjectInfo{Key: k, SizeBytes: int64(len(v))})
		}
	}
	return out, nil
}

func (s *fakeObjectStore) DeletePrefix(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			delete(s.objects, k)
		}
	}
	return nil
}

func (s *fakeObjectStore) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://presigned.example.invalid/" + key, nil
}

// fakeBackend is an in-memory backend.ContainerBackend that never touches
// a real runtime.
type fakeBackend struct {
	mu         sync.Mutex
	nextID     int
	created    []backend.ContainerConfig
	startErr   error
	createErr  error
	inspectHost string // overrides ContainerStatus.HostOrPod when set
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
	return nil
}
func (b *fakeBackend) Remove(ctx context.Context, containerID string) error { return nil }
func (b *fakeBackend) Inspect(ctx context.Context, containerID string) (backend.ContainerStatus, error) {
	host := containerID
	if b.inspectHost != "" {
		host = b.inspectHost
	}
	return backend.ContainerStatus{ID: containerID, Running: true, HostOrPod: host}, nil
}
func (b *fakeBackend) IsRunning(ctx context.Context, containerID string) (bool, error) {
	return true, nil
}
func (b *fakeBackend) Logs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	return io.NopCloser(nopReader{}), nil
}
func (b *fakeBackend) Wait(ctx context.Context, containerID string) (int, error) { return 0, nil }
func (b *fakeBackend) Ping(ctx context.Context) error                            { return nil }
