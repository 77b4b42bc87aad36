package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring the relay
var (
	MessagesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_relayed_total",
		Help: "The total number of messages delivered per chain pair",
	}, []string{"src_chain", "dst_chain", "message_type"})

	DeliveryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_delivery_errors_total",
		Help: "Total number of delivery errors by type",
	}, []string{"dst_chain", "error_type"})

	DeliveryRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_delivery_retries_total",
		Help: "The total number of delivery retries by destination chain",
	}, []string{"dst_chain"})

	AlreadyDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_already_delivered_total",
		Help: "Deliveries resolved as idempotent no-ops on the destination",
	}, []string{"src_chain", "dst_chain"})

	DeliveryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_delivery_seconds",
		Help:    "Time from mailbox pickup to accepted delivery",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"dst_chain"})

	CursorNonce = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_cursor_nonce",
		Help: "Last persisted mailbox nonce per chain pair",
	}, []string{"src_chain", "dst_chain"})

	PendingMessages = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_pending_messages",
		Help: "Mailbox entries past the cursor awaiting delivery",
	}, []string{"src_chain", "dst_chain"})

	CircuitOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_circuit_open",
		Help: "Whether the destination chain circuit breaker is open (1) or closed (0)",
	}, []string{"dst_chain"})
)
