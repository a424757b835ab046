// Package metrics provides Prometheus metrics for inspectrelay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "inspectrelay"

// Connection roles.
const (
	RoleFrontend = "frontend"
	RoleBackend  = "backend"
)

// Connection outcomes recorded on connections_total.
const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
	StatusLimited  = "limited"
)

// Message actions recorded on messages_total.
const (
	ActionQueued    = "queued"
	ActionForwarded = "forwarded"
	ActionDrained   = "drained"
	ActionLogged    = "logged"
)

// Metrics holds all Prometheus metrics for inspectrelay.
type Metrics struct {
	Registry *prometheus.Registry

	connectionsTotal   *prometheus.CounterVec
	activeConnections  *prometheus.GaugeVec
	connectionDuration *prometheus.HistogramVec
	messagesTotal      *prometheus.CounterVec
	bytesTotal         *prometheus.CounterVec
	decodeErrors       *prometheus.CounterVec
	deliveryErrors     prometheus.Counter
	pendingMessages    prometheus.Gauge
	backendAttached    prometheus.Gauge
	backendAttaches    prometheus.Counter
}

// New creates a new Metrics instance with a custom Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total WebSocket connections, by role and outcome.",
		}, []string{"role", "status"}),

		activeConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of currently open relay connections.",
		}, []string{"role"}),

		connectionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connection_duration_seconds",
			Help:      "Duration of completed connections in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"role"}),

		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Total protocol messages handled, by originating role and action taken.",
		}, []string{"role", "action"}),

		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Total payload bytes received, by originating role.",
		}, []string{"role"}),

		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Messages that could not be decoded for diagnostics.",
		}, []string{"role"}),

		deliveryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_errors_total",
			Help:      "Failed writes to the backend connection.",
		}),

		pendingMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_messages",
			Help:      "Frontend messages buffered while no backend is attached.",
		}),

		backendAttached: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_attached",
			Help:      "Whether a backend connection occupies the slot (1) or not (0).",
		}),

		backendAttaches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_attaches_total",
			Help:      "Total number of backend connections installed into the slot.",
		}),
	}

	reg.MustRegister(
		m.connectionsTotal,
		m.activeConnections,
		m.connectionDuration,
		m.messagesTotal,
		m.bytesTotal,
		m.decodeErrors,
		m.deliveryErrors,
		m.pendingMessages,
		m.backendAttached,
		m.backendAttaches,
	)

	return m
}

// ConnectionRejected records a connection that was closed before any
// message was exchanged.
func (m *Metrics) ConnectionRejected(role, status string) {
	if m == nil {
		return
	}
	m.connectionsTotal.WithLabelValues(role, status).Inc()
}

// ConnectionOpened records an accepted connection and increments the active
// gauge. Returns a ConnectionTracker to record the end of the connection.
func (m *Metrics) ConnectionOpened(role string) *ConnectionTracker {
	if m == nil {
		return nil
	}
	m.connectionsTotal.WithLabelValues(role, StatusAccepted).Inc()
	m.activeConnections.WithLabelValues(role).Inc()
	return &ConnectionTracker{m: m, role: role}
}

// MessageReceived records an inbound payload of n bytes from role.
func (m *Metrics) MessageReceived(role string, n int) {
	if m == nil {
		return
	}
	m.bytesTotal.WithLabelValues(role).Add(float64(n))
}

// MessageHandled records the action applied to a message from role.
func (m *Metrics) MessageHandled(role, action string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.messagesTotal.WithLabelValues(role, action).Add(float64(count))
}

// DecodeError records a message that failed diagnostic decoding.
func (m *Metrics) DecodeError(role string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(role).Inc()
}

// DeliveryError records a failed write to the backend.
func (m *Metrics) DeliveryError() {
	if m == nil {
		return
	}
	m.deliveryErrors.Inc()
}

// SetPending sets the pending-queue depth gauge.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pendingMessages.Set(float64(n))
}

// SetBackendAttached sets the backend slot gauge and counts attachments.
func (m *Metrics) SetBackendAttached(up bool) {
	if m == nil {
		return
	}
	if up {
		m.backendAttached.Set(1)
		m.backendAttaches.Inc()
	} else {
		m.backendAttached.Set(0)
	}
}

// ConnectionTracker records the end of a single relay connection.
type ConnectionTracker struct {
	m    *Metrics
	role string
}

// Done decrements the active gauge and observes the connection duration.
func (t *ConnectionTracker) Done(durationSec float64) {
	if t == nil {
		return
	}
	t.m.activeConnections.WithLabelValues(t.role).Dec()
	t.m.connectionDuration.WithLabelValues(t.role).Observe(durationSec)
}
