package handlers

import (
	"bytes"
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
	r.byID[s.ID] = s
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
	return nil, fmt.Errorf("not implemented")
}

func (r *fakeSessionRepo) Update(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[s.ID] = s
	return nil
}

func (r *fakeSessionRepo) ListByStatus(ctx context.Context, statuses ...domain.SessionStatus) ([]*domain.Session, error) {
	return nil, nil
}
func (r *fakeSessionRepo) ListIdle(ctx context.Context, idleTimeout, maxLifetime int64) ([]*domain.Session, error) {
	return nil, nil
}
func (r *fakeSessionRepo) ListOrphaned(ctx context.Context) ([]*domain.Session, error) { return nil, nil }

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
	if _, exists := r.byID[t.ID]; exists {
		return fmt.Errorf("template %s already exists", t.ID)
	}
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

func (r *fakeTemplateRepo) Update(ctx context.Context, t *domain.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[t.ID] = t
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
	r.byID[e.ID] = e
	return nil
}

func (r *fakeExecutionRepo) Get(ctx context.Context, id string) (*domain.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("execution %s not found", id)
	}
	return e, nil
}

func (r *fakeExecutionRepo) Update(ctx context.Context, e *domain.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[e.ID] = e
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

func healthyNode(id string) *domain.RuntimeNode {
	return &domain.RuntimeNode{ID: id, Kind: "docker", Status: domain.NodeOnline, MaxSessions: 10}
}

type fakeBackend struct {
	mu sync.Mutex
}

func (b *fakeBackend) Create(ctx context.Context, cfg backend.ContainerConfig) (string, error) {
	return "created-container", nil
}
func (b *fakeBackend) Start(ctx context.Context, containerID string) error { return nil }
func (b *fakeBackend) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	return nil
}
func (b *fakeBackend) Remove(ctx context.Context, containerID string) error { return nil }
func (b *fakeBackend) Inspect(ctx context.Context, containerID string) (backend.ContainerStatus, error) {
	return backend.ContainerStatus{ID: containerID, Running: true, HostOrPod: "127.0.0.1"}, nil
}
func (b *fakeBackend) IsRunning(ctx context.Context, containerID string) (bool, error) {
	return true, nil
}
func (b *fakeBackend) Logs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	return io.NopCloser(nil), nil
}
func (b *fakeBackend) Wait(ctx context.Context, containerID string) (int, error) { return 0, nil }
func (b *fakeBackend) Ping(ctx context.Context) error                            { return nil }

type fakeContainerCreator struct{}

func (fakeContainerCreator) CreateWarmContainer(ctx context.Context, templateID string) (string, string, error) {
	return "warm-c", "warm-name", nil
}

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
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
	return io.NopCloser(bytes.NewReader(body)), int64(len(body)), nil
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
		if strings.HasPrefix(k, prefix) {
			out = append(out, storage.ObjectInfo{Key: k, SizeBytes: int64(len(v)), LastModified: time.Now()})
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
	return "https://example.invalid/presigned/" + key, nil
}
