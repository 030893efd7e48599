package domain

import "time"

// WarmPoolEntryStatus tracks an entry's place in its pool lifecycle.
type WarmPoolEntryStatus string

const (
	WarmPoolAvailable WarmPoolEntryStatus = "AVAILABLE"
	WarmPoolAllocated WarmPoolEntryStatus = "ALLOCATED"
	WarmPoolExpired   WarmPoolEntryStatus = "EXPIRED"
)

// WarmPoolEntry is a pre-started, unallocated container waiting to be bound
// to a Session on CreateSession.
type WarmPoolEntry struct {
	TemplateID      string
	NodeID          string
	ContainerID     string
	ContainerName   string
	Image           string
	Status          WarmPoolEntryStatus
	CreatedAt       time.Time
	LastActivityAt  time.Time
	AllocatedAt     *time.Time
	SessionID       string // set once allocated
}

// Idle reports whether an AVAILABLE entry has sat unused longer than
// maxIdle (used by cleanup_idle).
func (e *WarmPoolEntry) Idle(now time.Time, maxIdle time.Duration) bool {
	return e.Status == WarmPoolAvailable && now.Sub(e.LastActivityAt) > maxIdle
}

// Allocate transfers ownership of the entry to sessionID.
func (e *WarmPoolEntry) Allocate(sessionID string, now time.Time) {
	e.Status = WarmPoolAllocated
	e.SessionID = sessionID
	e.AllocatedAt = &now
}

// TemplatePoolConfig is the per-template warm pool sizing policy loaded
// from the static YAML config file.
type TemplatePoolConfig struct {
	PoolSize    int           `yaml:"pool_size"`
	MinSize     int           `yaml:"min_size"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`
}

// DefaultTemplatePoolConfig is applied to templates absent from the config
// file.
func DefaultTemplatePoolConfig() TemplatePoolConfig {
	return TemplatePoolConfig{PoolSize: 2, MinSize: 1, MaxIdleTime: 180 * time.Second}
}
