package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breaker metrics are labelled by target: razorpay, stripe or fulfillment-webhook.
var (
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Current breaker state: 0=closed, 1=open, 2=half-open.",
	}, []string{"target"})

	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_transition_total",
		Help: "Count of breaker state transitions.",
	}, []string{"target", "from", "to"})

	BreakerOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_open_total",
		Help: "Number of times a breaker opened.",
	}, []string{"target"})

	// HTTPAttemptsTotal counts outbound attempts made by HTTPClient.
	HTTPAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbound_http_attempts_total",
		Help: "Outbound HTTP attempts by target and outcome.",
	}, []string{"target", "outcome"})
)
