package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue collectors live on the default registry, which /metrics serves.
var (
	// QueueDepth approximates ready tasks per kind in this process's view.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_depth",
		Help: "Approximate number of ready tasks per kind.",
	}, []string{"kind"})

	// QueueProcessedTotal counts handler outcomes: ok, retry or dlq.
	QueueProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_processed_total",
		Help: "Tasks processed grouped by kind and outcome.",
	}, []string{"kind", "status"})

	QueueDLQSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_dlq_size",
		Help: "Number of dead-lettered tasks per kind.",
	}, []string{"kind"})

	// QueueTaskDuration observes handler run time in seconds.
	QueueTaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "queue_task_duration_seconds",
		Help:    "Handler run time per task kind.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"kind"})
)
