// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activation_actions_total",
			Help: "Total number of step actions by outcome",
		},
		[]string{"action", "outcome"},
	)

	ActionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activation_action_errors_total",
			Help: "Total number of absorbed step action errors by code",
		},
		[]string{"action", "error_code"},
	)

	ActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "activation_action_duration_seconds",
			Help:    "Duration of step actions in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	StepTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activation_step_transitions_total",
			Help: "Derived step changes observed after reconciliation",
		},
		[]string{"from", "to"},
	)

	ReconcileResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activation_reconcile_total",
			Help: "Snapshot reconciliations by result",
		},
		[]string{"result"},
	)

	LandingOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activation_landing_outcomes_total",
			Help: "Redirect landing outcomes",
		},
		[]string{"landing", "outcome"},
	)

	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "activation_backend_request_duration_seconds",
			Help:    "Backend API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "activation_sessions_active",
			Help: "Number of sessions holding a live orchestrator",
		},
	)

	SessionsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "activation_sessions_evicted_total",
			Help: "Sessions dropped for idleness or to respect the session cap",
		},
	)
)

// Reconcile results
const (
	ReconcileOK           = "ok"
	ReconcileFailed       = "error"
	ReconcileInconsistent = "inconsistent"
	ReconcileDiscarded    = "discarded"
)
