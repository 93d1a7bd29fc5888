package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Error kinds recorded in the errors_total metric.
const (
	kindConnection   = "connection"
	kindMessage      = "message"
	kindSubscription = "subscription"
	kindRouting      = "routing"
	kindClient       = "client"
	kindRateLimit    = "rate_limit"
	kindAuth         = "auth"
	kindUpgrade      = "upgrade"
)

// Metrics holds the counters and gauges the hub reports to.
type Metrics struct {
	Connections      prometheus.Gauge
	ConnectionsTotal prometheus.Counter
	Subscriptions    prometheus.Gauge
	Published        prometheus.Counter
	Delivered        prometheus.Counter
	Lagged           prometheus.Counter
	Errors           *prometheus.CounterVec
}

// NewMetrics creates an unregistered set of hub metrics.
func NewMetrics() *Metrics {
	const (
		namespace = "agora"
		subsystem = "hub"
	)

	return &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connections",
			Help:      "Number of open client sessions",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connections_total",
			Help:      "Count of accepted client sessions",
		}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscriptions",
			Help:      "Number of active (session, topic) forwarding tasks",
		}),
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_published_total",
			Help:      "Count of messages published to topics",
		}),
		Delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_delivered_total",
			Help:      "Count of topic messages queued to subscribers",
		}),
		Lagged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "lagged_messages_total",
			Help:      "Count of messages skipped for subscribers that fell behind",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Count of errors by kind",
		}, []string{"kind"}),
	}
}

// PrometheusCollectors returns every collector in m.
func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Connections,
		m.ConnectionsTotal,
		m.Subscriptions,
		m.Published,
		m.Delivered,
		m.Lagged,
		m.Errors,
	}
}

func (m *Metrics) error(kind string) {
	m.Errors.WithLabelValues(kind).Inc()
}
