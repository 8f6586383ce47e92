package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds all Prometheus collectors for the replay tester.
type Metrics struct {
	// WebSocket fan-out
	WSConnections   prometheus.Gauge
	WSSubscriptions *prometheus.GaugeVec
	EventsPublished *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec

	// Feed ingestion
	IngestMessages   *prometheus.CounterVec
	IngestReconnects prometheus.Counter

	// Remote control endpoint
	ControlRequests *prometheus.CounterVec

	// Storage
	StoreErrors *prometheus.CounterVec
}

// New builds and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replay_ws_connections_active",
			Help: "Active WebSocket console connections",
		}),
		WSSubscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "replay_ws_subscriptions_active",
			Help: "Active topic subscriptions",
		}, []string{"kind"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replay_events_published_total",
			Help: "Events published to the fan-out bus",
		}, []string{"event_type"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replay_events_dropped_total",
			Help: "Events dropped by the fan-out bus",
		}, []string{"reason"}),
		IngestMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replay_ingest_messages_total",
			Help: "Feed messages consumed from the replay queue",
		}, []string{"message_type"}),
		IngestReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replay_ingest_reconnects_total",
			Help: "Reconnection attempts to the replay queue",
		}),
		ControlRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replay_control_requests_total",
			Help: "Requests issued to the replay control endpoint",
		}, []string{"op", "outcome"}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replay_store_errors_total",
			Help: "Storage operations degraded by the persistence gateway",
		}, []string{"op"}),
	}

	reg.MustRegister(
		m.WSConnections,
		m.WSSubscriptions,
		m.EventsPublished,
		m.EventsDropped,
		m.IngestMessages,
		m.IngestReconnects,
		m.ControlRequests,
		m.StoreErrors,
	)
	return m
}

// TopicKind buckets a fan-out topic name for the subscription gauge, keeping
// label cardinality bounded.
func TopicKind(topic string) string {
	switch {
	case topic == "global":
		return "global"
	case len(topic) > 6 && topic[:6] == "match:":
		return "match"
	case len(topic) > 8 && topic[:8] == "session:":
		return "session"
	default:
		return "other"
	}
}
