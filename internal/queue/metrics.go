package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue metrics for Prometheus monitoring.
var (
	MessagesEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pn_ec_queue_messages_enqueued_total",
			Help: "Total number of messages enqueued per queue",
		},
		[]string{"queue"},
	)

	MessagesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pn_ec_queue_messages_processed_total",
			Help: "Total number of messages processed by disposition",
		},
		[]string{"queue", "disposition"}, // ack, requeue, redeliver
	)

	MessageProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pn_ec_queue_message_processing_duration_seconds",
			Help:    "Duration of message processing per queue",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)
)
