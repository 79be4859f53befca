package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kisvi"

// Metrics holds all collectors.
type Metrics struct {
	// Stream metrics
	Frames            *prometheus.CounterVec
	ProtocolErrors    prometheus.Counter
	Heartbeats        prometheus.Counter
	Events            *prometheus.CounterVec
	ActiveTriggers    prometheus.Gauge
	EventBufferLength prometheus.Gauge

	// Connection metrics
	Connects          *prometheus.CounterVec
	ReconnectAttempts prometheus.Counter
	KeepaliveFailures prometheus.Counter
	Subscriptions     *prometheus.CounterVec

	// Journal metrics
	JournalRows   *prometheus.CounterVec
	JournalErrors prometheus.Counter
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "frames_total",
			Help:      "Frames received by kind",
		}, []string{"kind"}),
		ProtocolErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "protocol_errors_total",
			Help:      "Frames discarded because they could not be decoded",
		}),
		Heartbeats: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "heartbeats_total",
			Help:      "Heartbeat frames received",
		}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Market events emitted by type",
		}, []string{"type"}),
		ActiveTriggers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active_triggers",
			Help:      "Symbols currently inside a trigger window",
		}),
		EventBufferLength: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "event_buffer_length",
			Help:      "Events waiting for the consumer",
		}),

		Connects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "connects_total",
			Help:      "Connect attempts by result",
		}, []string{"result"}),
		ReconnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts started",
		}),
		KeepaliveFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "keepalive_failures_total",
			Help:      "Failed probes and exceeded silence windows",
		}),
		Subscriptions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "subscription_requests_total",
			Help:      "Subscription requests by channel, direction and result",
		}, []string{"tr_id", "direction", "result"}),

		JournalRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "rows_inserted_total",
			Help:      "Rows inserted by table",
		}, []string{"table"}),
		JournalErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "errors_total",
			Help:      "Failed batch inserts",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) FrameReceived(kind string) {
	if m == nil {
		return
	}
	m.Frames.WithLabelValues(kind).Inc()
}

func (m *Metrics) ProtocolError() {
	if m == nil {
		return
	}
	m.ProtocolErrors.Inc()
}

func (m *Metrics) Heartbeat() {
	if m == nil {
		return
	}
	m.Heartbeats.Inc()
}

func (m *Metrics) EventEmitted(eventType string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(eventType).Inc()
}

func (m *Metrics) SetActiveTriggers(n int) {
	if m == nil {
		return
	}
	m.ActiveTriggers.Set(float64(n))
}

func (m *Metrics) SetEventBufferLength(n int) {
	if m == nil {
		return
	}
	m.EventBufferLength.Set(float64(n))
}

func (m *Metrics) ConnectResult(result string) {
	if m == nil {
		return
	}
	m.Connects.WithLabelValues(result).Inc()
}

func (m *Metrics) ReconnectAttempt() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

func (m *Metrics) KeepaliveFailure() {
	if m == nil {
		return
	}
	m.KeepaliveFailures.Inc()
}

func (m *Metrics) SubscriptionResult(trID, direction, result string) {
	if m == nil {
		return
	}
	m.Subscriptions.WithLabelValues(trID, direction, result).Inc()
}

func (m *Metrics) JournalInserted(table string, n int) {
	if m == nil {
		return
	}
	m.JournalRows.WithLabelValues(table).Add(float64(n))
}

func (m *Metrics) JournalError() {
	if m == nil {
		return
	}
	m.JournalErrors.Inc()
}
