// Package metrics provides Prometheus instrumentation for the server-side
// tick loop: encode timing, bytes sent, dedup effectiveness, and
// connection/session counts.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Label constants for metrics.
const (
	LabelMode   = "mode"
	LabelReason = "reason"
)

// Mode label values for tick duration and bytes-sent metrics.
const (
	ModeBroadcast = "broadcast"
	ModeFiltered  = "filtered"
)

// Reason label values for session termination counters.
const (
	ReasonGraceExpired = "grace_expired"
	ReasonExplicit     = "explicit"
)

// Metrics holds every Prometheus collector the core reports. A nil
// *Metrics is valid and every method is a no-op on it, so callers that
// don't wire a registry pay nothing beyond a branch.
type Metrics struct {
	tickDuration *prometheus.HistogramVec
	bytesSent    *prometheus.CounterVec
	bytesRecv    prometheus.Counter

	dedupGroups  prometheus.Histogram
	dedupClients prometheus.Histogram

	connectedClients prometheus.Gauge
	sessionsActive   prometheus.Gauge
	sessionsGrace    prometheus.Gauge
	sessionsTotal    *prometheus.CounterVec

	reconnectTotal        prometheus.Counter
	burstResyncTotal      prometheus.Counter
	clientDeltaRejections *prometheus.CounterVec

	registered bool
}

// New creates and, if registry is non-nil, registers the core's metrics.
// Passing a nil registry is useful for tests that want real collectors
// without touching the default Prometheus registry.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		tickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "archnet",
				Subsystem: "server",
				Name:      "tick_duration_seconds",
				Help:      "Wall-clock time spent computing and dispatching one tick",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{LabelMode},
		),
		bytesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "archnet",
				Subsystem: "server",
				Name:      "bytes_sent_total",
				Help:      "Total bytes written to client connections",
			},
			[]string{LabelMode},
		),
		bytesRecv: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "archnet",
				Subsystem: "server",
				Name:      "bytes_received_total",
				Help:      "Total bytes read from client connections",
			},
		),
		dedupGroups: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "archnet",
				Subsystem: "server",
				Name:      "dedup_groups",
				Help:      "Number of distinct canonical delta groups per tick",
				Buckets:   prometheus.LinearBuckets(0, 2, 10),
			},
		),
		dedupClients: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "archnet",
				Subsystem: "server",
				Name:      "dedup_clients_per_group",
				Help:      "Number of clients sharing one encoded buffer per tick",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		connectedClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "archnet",
				Subsystem: "server",
				Name:      "connected_clients",
				Help:      "Number of transport connections currently open",
			},
		),
		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "archnet",
				Subsystem: "server",
				Name:      "sessions_active",
				Help:      "Number of logical sessions in the Active state",
			},
		),
		sessionsGrace: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "archnet",
				Subsystem: "server",
				Name:      "sessions_grace_window",
				Help:      "Number of logical sessions in the Disconnected(GraceWindow) state",
			},
		),
		sessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "archnet",
				Subsystem: "server",
				Name:      "sessions_retired_total",
				Help:      "Total number of sessions that reached Retired",
			},
			[]string{LabelReason},
		),
		reconnectTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "archnet",
				Subsystem: "server",
				Name:      "reconnect_total",
				Help:      "Total number of successful token-based reconnects",
			},
		),
		burstResyncTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "archnet",
				Subsystem: "client",
				Name:      "burst_resync_total",
				Help:      "Total number of burst-threshold-triggered full resyncs",
			},
		),
		clientDeltaRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "archnet",
				Subsystem: "server",
				Name:      "client_delta_rejections_total",
				Help:      "Total number of rejected MSG_CLIENT_DELTA entries",
			},
			[]string{LabelReason},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.tickDuration, m.bytesSent, m.bytesRecv,
			m.dedupGroups, m.dedupClients,
			m.connectedClients, m.sessionsActive, m.sessionsGrace, m.sessionsTotal,
			m.reconnectTotal, m.burstResyncTotal, m.clientDeltaRejections,
		)
		m.registered = true
	}

	return m
}

// ObserveTick records a tick's duration and total bytes written.
func (m *Metrics) ObserveTick(mode string, duration time.Duration, bytesOut int) {
	if m == nil {
		return
	}
	m.tickDuration.WithLabelValues(mode).Observe(duration.Seconds())
	m.bytesSent.WithLabelValues(mode).Add(float64(bytesOut))
}

// AddBytesReceived records inbound bytes from client connections.
func (m *Metrics) AddBytesReceived(n int) {
	if m == nil {
		return
	}
	m.bytesRecv.Add(float64(n))
}

// ObserveDedup records, for one filtered tick, how many canonical delta
// groups were formed and the client-count of each group.
func (m *Metrics) ObserveDedup(groupSizes []int) {
	if m == nil {
		return
	}
	m.dedupGroups.Observe(float64(len(groupSizes)))
	for _, size := range groupSizes {
		m.dedupClients.Observe(float64(size))
	}
}

// SetConnectedClients sets the number of open transport connections.
func (m *Metrics) SetConnectedClients(n int) {
	if m == nil {
		return
	}
	m.connectedClients.Set(float64(n))
}

// SetSessionCounts sets the number of Active and Disconnected(GraceWindow)
// sessions.
func (m *Metrics) SetSessionCounts(active, grace int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(active))
	m.sessionsGrace.Set(float64(grace))
}

// ObserveSessionRetired records a session reaching the Retired state.
func (m *Metrics) ObserveSessionRetired(reason string) {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues(reason).Inc()
}

// ObserveReconnect records a successful token-based reconnect.
func (m *Metrics) ObserveReconnect() {
	if m == nil {
		return
	}
	m.reconnectTotal.Inc()
}

// ObserveBurstResync records a client-side burst-threshold full resync.
func (m *Metrics) ObserveBurstResync() {
	if m == nil {
		return
	}
	m.burstResyncTotal.Inc()
}

// ObserveClientDeltaRejection records one rejected MSG_CLIENT_DELTA entry.
func (m *Metrics) ObserveClientDeltaRejection(reason string) {
	if m == nil {
		return
	}
	m.clientDeltaRejections.WithLabelValues(reason).Inc()
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	if m == nil || !m.registered {
		return
	}
	m.tickDuration.Describe(ch)
	m.bytesSent.Describe(ch)
	ch <- m.bytesRecv.Desc()
	ch <- m.dedupGroups.Desc()
	ch <- m.dedupClients.Desc()
	ch <- m.connectedClients.Desc()
	ch <- m.sessionsActive.Desc()
	ch <- m.sessionsGrace.Desc()
	m.sessionsTotal.Describe(ch)
	ch <- m.reconnectTotal.Desc()
	ch <- m.burstResyncTotal.Desc()
	m.clientDeltaRejections.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	if m == nil || !m.registered {
		return
	}
	m.tickDuration.Collect(ch)
	m.bytesSent.Collect(ch)
	ch <- m.bytesRecv
	ch <- m.dedupGroups
	ch <- m.dedupClients
	ch <- m.connectedClients
	ch <- m.sessionsActive
	ch <- m.sessionsGrace
	m.sessionsTotal.Collect(ch)
	ch <- m.reconnectTotal
	ch <- m.burstResyncTotal
	m.clientDeltaRejections.Collect(ch)
}
