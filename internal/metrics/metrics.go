// Package metrics provides Prometheus metrics for the daemon.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the daemon.
type Metrics struct {
	EventsTotal      *prometheus.CounterVec
	EventDuration    *prometheus.HistogramVec
	ChangesTotal     *prometheus.CounterVec
	SnapshotsTotal   *prometheus.CounterVec
	DeltasTotal      prometheus.Counter
	SessionsFlushed  prometheus.Counter
	DashboardClients prometheus.Gauge
	EventsInFlight   prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "butlerd_events_total",
				Help: "Internal events handled by kind and result.",
			},
			[]string{"kind", "result"},
		),
		EventDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "butlerd_event_duration_seconds",
				Help:    "Event handling duration by kind.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		ChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "butlerd_changes_total",
				Help: "Changes emitted to clients by kind.",
			},
			[]string{"kind"},
		),
		SnapshotsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "butlerd_snapshots_total",
				Help: "Oplog snapshots attempted by result.",
			},
			[]string{"result"},
		),
		DeltasTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "butlerd_delta_registrations_total",
				Help: "File observations registered with a session.",
			},
		),
		SessionsFlushed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "butlerd_sessions_flushed_total",
				Help: "Sessions closed and archived.",
			},
		),
		DashboardClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "butlerd_dashboard_clients",
				Help: "Connected websocket clients.",
			},
		),
		EventsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "butlerd_events_in_flight",
				Help: "Events currently being handled.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.EventsTotal)
	reg.MustRegister(m.EventDuration)
	reg.MustRegister(m.ChangesTotal)
	reg.MustRegister(m.SnapshotsTotal)
	reg.MustRegister(m.DeltasTotal)
	reg.MustRegister(m.SessionsFlushed)
	reg.MustRegister(m.DashboardClients)
	reg.MustRegister(m.EventsInFlight)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordEvent counts a handled event and its duration.
func (m *Metrics) RecordEvent(kind, result string, seconds float64) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(kind, result).Inc()
	m.EventDuration.WithLabelValues(kind).Observe(seconds)
}

// EventStarted and EventFinished track events in flight.
func (m *Metrics) EventStarted() {
	if m == nil {
		return
	}
	m.EventsInFlight.Inc()
}

func (m *Metrics) EventFinished() {
	if m == nil {
		return
	}
	m.EventsInFlight.Dec()
}

// RecordChange counts an emitted change.
func (m *Metrics) RecordChange(kind string) {
	if m == nil {
		return
	}
	m.ChangesTotal.WithLabelValues(kind).Inc()
}

// RecordSnapshot counts a snapshot attempt.
func (m *Metrics) RecordSnapshot(result string) {
	if m == nil {
		return
	}
	m.SnapshotsTotal.WithLabelValues(result).Inc()
}

// RecordDelta counts a registered file observation.
func (m *Metrics) RecordDelta() {
	if m == nil {
		return
	}
	m.DeltasTotal.Inc()
}

// RecordSessionFlush counts a flushed session.
func (m *Metrics) RecordSessionFlush() {
	if m == nil {
		return
	}
	m.SessionsFlushed.Inc()
}

// SetDashboardClients sets the connected client count.
func (m *Metrics) SetDashboardClients(count int) {
	if m == nil {
		return
	}
	m.DashboardClients.Set(float64(count))
}
