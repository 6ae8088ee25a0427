package appwrite

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Error kinds recorded by Metrics.
const (
	errorKindDial     = "dial"
	errorKindDecode   = "decode"
	errorKindProtocol = "protocol"
	errorKindRead     = "read"
)

// Metrics exposes realtime engine counters to Prometheus. A nil *Metrics
// records nothing.
type Metrics struct {
	connections      prometheus.Counter
	reconnects       prometheus.Counter
	eventsReceived   prometheus.Counter
	eventsDispatched prometheus.Counter
	errors           *prometheus.CounterVec
	subscriptions    prometheus.Gauge
	connected        prometheus.Gauge
}

// NewMetrics registers the realtime collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connections: f.NewCounter(prometheus.CounterOpts{
			Namespace: "appwrite",
			Subsystem: "realtime",
			Name:      "connections_total",
			Help:      "Realtime sockets successfully opened",
		}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: "appwrite",
			Subsystem: "realtime",
			Name:      "reconnects_total",
			Help:      "Reconnects scheduled after an unexpected close",
		}),
		eventsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: "appwrite",
			Subsystem: "realtime",
			Name:      "events_received_total",
			Help:      "Event envelopes received from the server",
		}),
		eventsDispatched: f.NewCounter(prometheus.CounterOpts{
			Namespace: "appwrite",
			Subsystem: "realtime",
			Name:      "events_dispatched_total",
			Help:      "Subscriber callback invocations",
		}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appwrite",
			Subsystem: "realtime",
			Name:      "errors_total",
			Help:      "Realtime errors by kind",
		}, []string{"kind"}),
		subscriptions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "appwrite",
			Subsystem: "realtime",
			Name:      "subscriptions",
			Help:      "Currently registered subscriptions",
		}),
		connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "appwrite",
			Subsystem: "realtime",
			Name:      "connected",
			Help:      "1 while a realtime socket is open",
		}),
	}
}

func (m *Metrics) connectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
	m.connected.Set(1)
}

func (m *Metrics) connectionClosed() {
	if m == nil {
		return
	}
	m.connected.Set(0)
}

func (m *Metrics) reconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) eventReceived() {
	if m == nil {
		return
	}
	m.eventsReceived.Inc()
}

func (m *Metrics) eventDispatched(n int) {
	if m == nil {
		return
	}
	m.eventsDispatched.Add(float64(n))
}

func (m *Metrics) error(kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}

func (m *Metrics) setSubscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}
