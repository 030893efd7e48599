// Package warmpool maintains pre-started, unallocated containers per
// template so CreateSession can skip the container-boot latency on the
// common path.
package warmpool

import (
	"context"
	"fmt"
	"sync"

	"github.com/kweaver-ai/sandboxctl/internal/backend"
	"github.com/kweaver-ai/sandboxctl/internal/clock"
	"github.com/kweaver-ai/sandboxctl/internal/domain"
	"github.com/kweaver-ai/sandboxctl/internal/logging"
)

// ContainerCreator is the subset of scheduling logic the pool needs to
// bring up a fresh warm entry: build the config, create, and start it.
type ContainerCreator interface {
	CreateWarmContainer(ctx context.Context, templateID string) (containerID, containerName string, err error)
}

// Manager owns the per-template pools. Every entry it releases is
// destroyed, never scrubbed and recycled: user code running inside a
// sandbox container can mutate the filesystem and process table in ways a
// cleanup script cannot be trusted to fully undo, so each allocation gets a
// freshly-created container instead.
type Manager struct {
	mu      sync.Mutex
	pools   map[string][]*domain.WarmPoolEntry // templateID -> entries
	configs map[string]domain.TemplatePoolConfig

	backend backend.ContainerBackend
	creator ContainerCreator
	clock   clock.Clock
}

// New constructs a Manager. configs maps template id to its pool sizing
// policy; templates absent from the map use domain.DefaultTemplatePoolConfig.
func New(b backend.ContainerBackend, creator ContainerCreator, configs map[string]domain.TemplatePoolConfig, c clock.Clock) *Manager {
	if c == nil {
		c = clock.Real()
	}
	return &Manager{
		pools:   make(map[string][]*domain.WarmPoolEntry),
		configs: configs,
		backend: b,
		creator: creator,
		clock:   c,
	}
}

func (m *Manager) configFor(templateID string) domain.TemplatePoolConfig {
	if cfg, ok := m.configs[templateID]; ok {
		return cfg
	}
	return domain.DefaultTemplatePoolConfig()
}

// Acquire returns and removes the first AVAILABLE, non-idle entry for
// templateID, or nil if there is none. Idle entries it encounters are
// skipped but left in the pool; CleanupIdle evicts them.
func (m *Manager) Acquire(ctx context.Context, templateID string) (*domain.WarmPoolEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.pools[templateID]
	now := m.clock.Now()
	for i, e := range entries {
		if e.Status != domain.WarmPoolAvailable {
			continue
		}
		if e.Idle(now, m.configFor(templateID).MaxIdleTime) {
			continue
		}
		m.pools[templateID] = append(append([]*domain.WarmPoolEntry{}, entries[:i]...), entries[i+1:]...)
		return e, nil
	}
	return nil, nil
}

// Release destroys the entry's container unconditionally; the pool never
// reuses an allocated container.
func (m *Manager) Release(ctx context.Context, entry *domain.WarmPoolEntry) error {
	if err := m.backend.Remove(ctx, entry.ContainerID); err != nil {
		return fmt.Errorf("release warm entry %s: %w", entry.ContainerID, err)
	}
	return nil
}

// Add inserts a freshly-created entry into the pool, capping the
// template's AVAILABLE entries at its pool_size: when the pool already
// holds that many, the entry's container is destroyed instead. There is no
// separate max_pool_size_per_template setting.
func (m *Manager) Add(ctx context.Context, entry *domain.WarmPoolEntry) error {
	m.mu.Lock()
	cfg := m.configFor(entry.TemplateID)
	current := m.availableCountLocked(entry.TemplateID)
	if current >= cfg.PoolSize {
		m.mu.Unlock()
		if err := m.backend.Remove(ctx, entry.ContainerID); err != nil {
			return fmt.Errorf("destroy excess warm entry %s: %w", entry.ContainerID, err)
		}
		return nil
	}
	m.pools[entry.TemplateID] = append(m.pools[entry.TemplateID], entry)
	m.mu.Unlock()
	return nil
}

func (m *Manager) availableCountLocked(templateID string) int {
	count := 0
	for _, e := range m.pools[templateID] {
		if e.Status == domain.WarmPoolAvailable {
			count++
		}
	}
	return count
}

// AvailableCount reports the number of AVAILABLE entries for templateID.
func (m *Manager) AvailableCount(templateID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.availableCountLocked(templateID)
}

// AllPoolSizes reports the available-entry count for every template
// currently tracked.
func (m *Manager) AllPoolSizes() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.pools))
	for templateID := range m.pools {
		out[templateID] = m.availableCountLocked(templateID)
	}
	return out
}

// Replenish creates entries for templateID until its pool reaches target,
// stopping at the first creation error so a struggling backend doesn't
// spin forever.
func (m *Manager) Replenish(ctx context.Context, templateID string, target int) error {
	log := logging.WarmPool()
	for {
		if m.AvailableCount(templateID) >= target {
			return nil
		}
		containerID, containerName, err := m.creator.CreateWarmContainer(ctx, templateID)
		if err != nil {
			log.Warn().Err(err).Str("template_id", templateID).Msg("warm pool replenish stopped on creation error")
			return fmt.Errorf("replenish %s: %w", templateID, err)
		}
		now := m.clock.Now()
		entry := &domain.WarmPoolEntry{
			TemplateID:     templateID,
			ContainerID:    containerID,
			ContainerName:  containerName,
			Status:         domain.WarmPoolAvailable,
			CreatedAt:      now,
			LastActivityAt: now,
		}
		if err := m.Add(ctx, entry); err != nil {
			return err
		}
	}
}

// ReplenishAsync triggers Replenish in a detached goroutine, matching the
// scheduler's "do not wait" contract for pool maintenance.
func (m *Manager) ReplenishAsync(ctx context.Context, templateID string, target int) {
	go func() {
		if err := m.Replenish(context.Background(), templateID, target); err != nil {
			logging.WarmPool().Error().Err(err).Str("template_id", templateID).Msg("async replenish failed")
		}
	}()
}

// CleanupIdle evicts and destroys AVAILABLE entries that have sat idle
// longer than their template's max_idle_time. Idle entries are taken out
// of every pool under the lock, and the backend Remove calls run only
// after it is released, so a slow Remove never blocks Acquire, matching the concurrency contract's "no network calls
// inside the pool's critical sections" rule.
func (m *Manager) CleanupIdle(ctx context.Context) (evicted int, errs []error) {
	now := m.clock.Now()

	m.mu.Lock()
	var toEvict []*domain.WarmPoolEntry
	for templateID, entries := range m.pools {
		cfg := m.configFor(templateID)
		var kept []*domain.WarmPoolEntry
		for _, e := range entries {
			if e.Idle(now, cfg.MaxIdleTime) {
				toEvict = append(toEvict, e)
				continue
			}
			kept = append(kept, e)
		}
		m.pools[templateID] = kept
	}
	m.mu.Unlock()

	for _, e := range toEvict {
		if err := m.backend.Remove(ctx, e.ContainerID); err != nil {
			errs = append(errs, fmt.Errorf("cleanup idle entry %s: %w", e.ContainerID, err))
			continue
		}
		evicted++
	}
	return evicted, errs
}

// EnsureMinimum triggers an async replenish up to min_size, used the first
// time a template is referenced by CreateSession.
func (m *Manager) EnsureMinimum(ctx context.Context, templateID string) {
	cfg := m.configFor(templateID)
	m.ReplenishAsync(ctx, templateID, cfg.MinSize)
}

// ReplenishAfterAcquire triggers an async replenish back up to pool_size,
// called after every successful Acquire.
func (m *Manager) ReplenishAfterAcquire(ctx context.Context, templateID string) {
	cfg := m.configFor(templateID)
	m.ReplenishAsync(ctx, templateID, cfg.PoolSize)
}
