package domain

// NodeStatus enumerates the health states a RuntimeNode reports.
type NodeStatus string

const (
	NodeOnline   NodeStatus = "online"
	NodeOffline  NodeStatus = "offline"
	NodeDraining NodeStatus = "draining"
)

// RuntimeNode is a scheduling candidate: a Docker host or Kubernetes
// cluster capable of hosting sandbox containers.
type RuntimeNode struct {
	ID              string
	Kind            string // "docker" | "kubernetes"
	ContactURL      string
	Status          NodeStatus
	CPUUsage        float64 // [0,1]
	MemUsage        float64 // [0,1]
	SessionCount    int
	MaxSessions     int
	CachedTemplates map[string]bool
}

// Healthy reports whether the node may receive new sessions.
func (n *RuntimeNode) Healthy() bool {
	return n.Status == NodeOnline
}

// LoadRatio is max(cpu_usage, mem_usage, session_count/max_sessions),
// the single scalar the scheduler sorts candidates by.
func (n *RuntimeNode) LoadRatio() float64 {
	ratio := n.CPUUsage
	if n.MemUsage > ratio {
		ratio = n.MemUsage
	}
	if n.MaxSessions > 0 {
		sessionRatio := float64(n.SessionCount) / float64(n.MaxSessions)
		if sessionRatio > ratio {
			ratio = sessionRatio
		}
	}
	return ratio
}

// HasTemplateCached reports whether the node already has the template's
// image pulled, used as the scheduler's affinity preference.
func (n *RuntimeNode) HasTemplateCached(templateID string) bool {
	return n.CachedTemplates[templateID]
}

// HasCapacity reports whether the node can accept one more session.
func (n *RuntimeNode) HasCapacity() bool {
	return n.MaxSessions <= 0 || n.SessionCount < n.MaxSessions
}
