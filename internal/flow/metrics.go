package flow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enroll",
			Name:      "transitions_total",
			Help:      "Orchestrator transition attempts by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	busyRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enroll",
			Name:      "busy_rejections_total",
			Help:      "Transitions dropped because another was in flight",
		},
		[]string{"trigger"},
	)

	adapterCallSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "enroll",
			Name:      "adapter_call_duration_seconds",
			Help:      "Enrollment adapter call latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"op", "outcome"},
	)

	latchDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enroll",
			Name:      "latch_decisions_total",
			Help:      "Lead acquisition latch decisions",
		},
		[]string{"decision"},
	)
)
