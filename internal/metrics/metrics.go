package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Mission-control metrics for production monitoring
var (
	// Mission metrics
	MissionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "missionctl_missions_created_total",
			Help: "Total number of missions created",
		},
		[]string{"subsystem", "severity", "autonomous"},
	)

	MissionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "missionctl_mission_transitions_total",
			Help: "Total number of mission status transitions",
		},
		[]string{"from", "to"},
	)

	MissionsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "missionctl_missions_by_status",
			Help: "Current number of missions in each status",
		},
		[]string{"status"},
	)

	// Pipeline stage metrics
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "missionctl_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7min
		},
		[]string{"stage"},
	)

	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "missionctl_stage_failures_total",
			Help: "Total number of pipeline stage failures",
		},
		[]string{"stage"},
	)

	Rollbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "missionctl_rollbacks_total",
			Help: "Total number of rollbacks performed",
		},
		[]string{"stage"},
	)

	// Trust gate metrics
	TrustGateDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "missionctl_trust_gate_denials_total",
			Help: "Total number of trust gate denials",
		},
		[]string{"check"}, // check: agent_execution / live_execution
	)

	GovernanceDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "missionctl_governance_decisions_total",
			Help: "Total number of governance decisions",
		},
		[]string{"decision"}, // allow / deny
	)

	// Observation window metrics
	WindowsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "missionctl_observation_windows_active",
			Help: "Current number of active observation windows",
		},
	)

	WindowResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "missionctl_observation_window_resolutions_total",
			Help: "Total number of observation window resolutions",
		},
		[]string{"outcome"}, // resolved / escalated
	)

	Escalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "missionctl_escalations_total",
			Help: "Total number of mission escalations",
		},
		[]string{"reason"}, // anomalies / stuck
	)

	// Hub metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "missionctl_queue_depth",
			Help: "Current number of missions in the priority queue",
		},
	)

	AssignmentsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "missionctl_assignments_skipped_total",
			Help: "Total number of missions skipped during assignment because the trust gate denied the agent",
		},
	)

	// Event bus metrics
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "missionctl_events_dropped_total",
			Help: "Total number of events dropped for slow subscribers without an overflow handler",
		},
	)

	// Audit metrics
	AuditAppendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "missionctl_audit_append_failures_total",
			Help: "Total number of failed audit log appends (each one halts the affected mission)",
		},
	)
)
