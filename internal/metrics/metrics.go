package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RemoteCallsTotal tracks remote calls per upstream service and operation
	RemoteCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teller_remote_calls_total",
			Help: "Total number of remote calls",
		},
		[]string{"service", "op"},
	)

	// RemoteCallErrorsTotal tracks remote call failures by status code
	RemoteCallErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teller_remote_call_errors_total",
			Help: "Total number of failed remote calls",
		},
		[]string{"service", "op", "status"},
	)

	// RemoteCallLatency tracks remote call latency
	RemoteCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "teller_remote_call_latency_seconds",
			Help:    "Remote call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "op"},
	)

	// RetriesTotal tracks retry attempts per logical operation
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teller_retries_total",
			Help: "Total number of retry attempts",
		},
		[]string{"op"},
	)

	// StageLatency tracks staging pipeline stage latency
	StageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "teller_stage_latency_seconds",
			Help:    "Staging pipeline stage latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// ValidationsTotal tracks validation outcomes
	ValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teller_validations_total",
			Help: "Total number of validation passes by outcome",
		},
		[]string{"state"},
	)

	// TransfersTotal tracks submitted transfers by outcome
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teller_transfers_total",
			Help: "Total number of submitted transfers",
		},
		[]string{"status"},
	)

	// SessionsActive tracks currently open staging sessions
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "teller_sessions_active",
			Help: "Number of open staging sessions",
		},
	)
)
