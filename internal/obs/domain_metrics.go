package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentOrderTotal counts gateway order creation outcomes.
	PaymentOrderTotal *prometheus.CounterVec
	// PaymentIntentTotal counts card payment intent creation outcomes.
	PaymentIntentTotal *prometheus.CounterVec
	// PaymentProviderLatency records provider round trips in milliseconds.
	PaymentProviderLatency *prometheus.HistogramVec
	// PaymentVerificationTotal counts verification outcomes by terminal state.
	PaymentVerificationTotal *prometheus.CounterVec
	// PaymentSettlementTotal counts settlement hand-offs by outcome.
	PaymentSettlementTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound payment webhook processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
	// FulfillmentDeliveriesTotal tracks order.paid notifier outcomes.
	FulfillmentDeliveriesTotal *prometheus.CounterVec
	// FulfillmentAttemptLatency records notifier delivery latency in milliseconds.
	FulfillmentAttemptLatency *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		latencyBuckets := []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

		PaymentOrderTotal = registerCounterVec(reg, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_order_total",
			Help:      "Count of gateway order creation outcomes.",
		}, "provider", "result")
		PaymentIntentTotal = registerCounterVec(reg, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intent_total",
			Help:      "Count of payment intent creation outcomes.",
		}, "provider", "currency", "result")
		PaymentProviderLatency = registerHistogramVec(reg, prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_provider_duration_ms",
			Help:      "Latency of payment provider calls in milliseconds.",
			Buckets:   latencyBuckets,
		}, "provider", "operation")
		PaymentVerificationTotal = registerCounterVec(reg, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_verification_total",
			Help:      "Count of payment verification outcomes.",
		}, "result")
		PaymentSettlementTotal = registerCounterVec(reg, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_settlement_total",
			Help:      "Count of settlement hand-offs by outcome.",
		}, "source", "result")
		PaymentWebhookTotal = registerCounterVec(reg, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, "provider", "result")
		FulfillmentDeliveriesTotal = registerCounterVec(reg, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillment_deliveries_total",
			Help:      "Count of order.paid notifier outcomes.",
		}, "notifier", "result")
		FulfillmentAttemptLatency = registerHistogramVec(reg, prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fulfillment_attempt_duration_ms",
			Help:      "Latency for fulfillment notifier deliveries in milliseconds.",
			Buckets:   latencyBuckets,
		}, "notifier")
	})
}
