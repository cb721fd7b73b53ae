// Package metrics exposes Prometheus collectors for the reference server.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "plansync"

// Metrics groups the server collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	connectedClients prometheus.Gauge
	activeRooms      prometheus.Gauge
	messagesStored   *prometheus.CounterVec
	messagesDeleted  prometheus.Counter
	eventsDropped    prometheus.Counter
	rateLimited      prometheus.Counter
	historyRequests  *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		connectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Authenticated websocket connections.",
		}),
		activeRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Rooms with at least one subscriber.",
		}),
		messagesStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_stored_total",
			Help:      "Messages persisted and broadcast, by kind.",
		}, []string{"kind"}),
		messagesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_deleted_total",
			Help:      "Messages soft-deleted by their authors.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because a subscriber queue was full.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_rate_limited_total",
			Help:      "Client commands rejected by the per-connection limiter.",
		}),
		historyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_requests_total",
			Help:      "History page requests, by HTTP status.",
		}, []string{"status"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connectedClients,
		m.activeRooms,
		m.messagesStored,
		m.messagesDeleted,
		m.eventsDropped,
		m.rateLimited,
		m.historyRequests,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ClientConnected() {
	if m != nil {
		m.connectedClients.Inc()
	}
}

func (m *Metrics) ClientDisconnected() {
	if m != nil {
		m.connectedClients.Dec()
	}
}

func (m *Metrics) SetActiveRooms(n int) {
	if m != nil {
		m.activeRooms.Set(float64(n))
	}
}

func (m *Metrics) MessageStored(kind string) {
	if m != nil {
		m.messagesStored.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) MessageDeleted() {
	if m != nil {
		m.messagesDeleted.Inc()
	}
}

func (m *Metrics) EventsDropped(n int) {
	if m != nil && n > 0 {
		m.eventsDropped.Add(float64(n))
	}
}

func (m *Metrics) CommandRateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}

func (m *Metrics) HistoryServed(status string) {
	if m != nil {
		m.historyRequests.WithLabelValues(status).Inc()
	}
}
