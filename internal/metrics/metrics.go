package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OutboxPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_outbox_published_total",
			Help: "Outbox rows successfully published to the broker",
		},
	)

	OutboxRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_outbox_retries_total",
			Help: "Outbox publish attempts that were rescheduled for retry",
		},
	)

	// OutboxFailedTotal is the operator alert surface for rows that
	// exhausted retries and need manual intervention.
	OutboxFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_outbox_failed_total",
			Help: "Outbox rows that exhausted retries (terminal failed status)",
		},
	)

	OutboxPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_outbox_purged_total",
			Help: "Published outbox rows deleted by the retention sweep",
		},
	)

	ConsumerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_consumer_handled_total",
			Help: "Consumed events by outcome (ok|dead_letter)",
		},
		[]string{"service", "outcome"},
	)

	ConsumerReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_consumer_reconnects_total",
			Help: "Consumer reconnect attempts",
		},
		[]string{"service"},
	)

	RealtimeDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_realtime_dropped_total",
			Help: "Realtime pushes dropped because a session buffer was full",
		},
	)

	RealtimeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_realtime_sessions",
			Help: "Currently connected realtime sessions",
		},
	)

	MessagesPostedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_messages_posted_total",
			Help: "Messages accepted by the HTTP API",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		OutboxPublishedTotal,
		OutboxRetriesTotal,
		OutboxFailedTotal,
		OutboxPurgedTotal,
		ConsumerHandledTotal,
		ConsumerReconnectsTotal,
		RealtimeDroppedTotal,
		RealtimeSessions,
		MessagesPostedTotal,
	)
}

// Handler exposes g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve runs a standalone /metrics listener for worker processes that
// carry no HTTP server of their own, so relay_outbox_failed_total and
// the consumer counters stay scrapeable in dedicated-worker
// deployments. It blocks.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(prometheus.DefaultGatherer))
	return http.ListenAndServe(addr, mux)
}
