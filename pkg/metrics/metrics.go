package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InvitationAcceptances counts processed invitation ids by outcome (accepted|skipped|error).
	InvitationAcceptances = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crowdlink_invitation_acceptances_total",
			Help: "Total number of invitation acceptance attempts by outcome",
		},
		[]string{"outcome"},
	)

	// DeletionTransitions counts organization deletion state transitions
	// (initiated|confirmed|undone|expired|executed).
	DeletionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crowdlink_deletion_transitions_total",
			Help: "Total number of organization deletion lifecycle transitions",
		},
		[]string{"transition"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crowdlink_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
