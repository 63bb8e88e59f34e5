package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_actions_total",
			Help: "Step actions recorded, by channel, action type and outcome",
		},
		[]string{"channel", "action_type", "outcome"},
	)

	EnrollmentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_enrollment_transitions_total",
			Help: "Enrollment state changes by resulting status",
		},
		[]string{"status"},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_step_retries_total",
			Help: "Transient step failures by channel and retry decision",
		},
		[]string{"channel", "decision"},
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leadflow_scheduler_tick_duration_seconds",
			Help:    "Scheduler tick duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		},
	)

	TicksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadflow_scheduler_ticks_skipped_total",
			Help: "Ticks skipped because the previous tick was still running",
		},
	)

	DueEnrollments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadflow_scheduler_due_enrollments",
			Help: "Enrollments picked up by the last tick",
		},
	)

	WriteConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadflow_enrollment_write_conflicts_total",
			Help: "Version-checked enrollment writes that lost a race",
		},
	)

	InboundEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_inbound_events_total",
			Help: "Inbound contact events by type and result",
		},
		[]string{"type", "result"},
	)

	OutboxEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_outbox_events_total",
			Help: "Outbox events relayed, by result",
		},
		[]string{"result"},
	)
)
