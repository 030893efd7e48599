// Package metrics declares the control plane's Prometheus collectors:
// session and execution counts by state, scheduler and warm-pool
// behavior, and reconciler sweep outcomes. They register with the default
// Prometheus registry via promauto; no route in this module serves them
// and no other package updates them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sandboxctl_sessions_by_status",
			Help: "Current number of sessions in each status",
		},
		[]string{"status"},
	)

	SessionCreateTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxctl_session_create_total",
			Help: "Total CreateSession attempts by outcome",
		},
		[]string{"outcome"},
	)

	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxctl_executions_total",
			Help: "Total executions submitted by language",
		},
		[]string{"language"},
	)

	ExecutionResultTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxctl_execution_result_total",
			Help: "Total executions reaching a terminal status, by status",
		},
		[]string{"status"},
	)

	ExecutionDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandboxctl_execution_duration_seconds",
			Help:    "Wall-clock duration of executions from submit to terminal result",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"language", "status"},
	)

	WarmPoolAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sandboxctl_warm_pool_available",
			Help: "Available warm pool entries by template",
		},
		[]string{"template_id"},
	)

	WarmPoolAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxctl_warm_pool_acquire_total",
			Help: "Warm pool acquire attempts by outcome",
		},
		[]string{"outcome"},
	)

	SchedulerSelectDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sandboxctl_scheduler_select_duration_seconds",
			Help:    "Time spent selecting a node or warm entry for a new session",
			Buckets: prometheus.DefBuckets,
		},
	)

	StateSyncOutcomeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxctl_state_sync_outcome_total",
			Help: "State-sync reconciler outcomes per tick, by result",
		},
		[]string{"result"},
	)

	CleanupOutcomeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxctl_cleanup_outcome_total",
			Help: "Cleanup reconciler outcomes per tick, by reason",
		},
		[]string{"reason"},
	)
)
