// Package metrics exposes the Prometheus instruments the engine, observe
// registry, and block/exchange manager update as they run.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lwm2m_messages_sent_total",
		Help: "CoAP messages emitted by type (con, non, ack, rst).",
	}, []string{"type"})

	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lwm2m_messages_received_total",
		Help: "CoAP messages decoded by type.",
	}, []string{"type"})

	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lwm2m_operations_total",
		Help: "Operations dispatched by kind and outcome.",
	}, []string{"operation", "outcome"})

	ActiveObservations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lwm2m_active_observations",
		Help: "Number of currently active observations.",
	})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lwm2m_notifications_sent_total",
		Help: "Notifications emitted by reason (threshold, pmax, step).",
	}, []string{"reason"})

	TransactionRollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lwm2m_transaction_rollbacks_total",
		Help: "Writing operations that rolled back after a validate or write failure.",
	})

	BlockTransfersInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lwm2m_block_transfers_in_flight",
		Help: "Open block1/block2 exchanges by direction.",
	}, []string{"direction"})
)

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
