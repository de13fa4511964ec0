package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "casegen"

// Metrics holds the client-side counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Requests       *prometheus.CounterVec
	Retries        *prometheus.CounterVec
	WSMessages     *prometheus.CounterVec
	WSReconnects   prometheus.Counter
	WSDropped      prometheus.Counter
	TasksFinished  *prometheus.CounterVec
	ActiveWatchers prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Backend requests by method and status code (0 for network failures).",
		}, []string{"method", "code"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retried operations by context.",
		}, []string{"context"}),
		WSMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Inbound websocket messages by type.",
		}, []string{"type"}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_reconnect_attempts_total",
			Help:      "Websocket reconnect attempts.",
		}),
		WSDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_dropped_messages_total",
			Help:      "Inbound websocket messages that were malformed or of unknown type.",
		}),
		TasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Tracked generation tasks reaching a terminal status.",
		}, []string{"status"}),
		ActiveWatchers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_task_watchers",
			Help:      "Tasks currently being watched.",
		}),
	}

	m.registry.MustRegister(
		m.Requests, m.Retries, m.WSMessages, m.WSReconnects, m.WSDropped, m.TasksFinished, m.ActiveWatchers,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(method string, code int) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

func (m *Metrics) ObserveRetry(context string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(context).Inc()
}

func (m *Metrics) ObserveWSMessage(msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(msgType).Inc()
}

func (m *Metrics) ObserveReconnect() {
	if m == nil {
		return
	}
	m.WSReconnects.Inc()
}

func (m *Metrics) ObserveDropped() {
	if m == nil {
		return
	}
	m.WSDropped.Inc()
}

func (m *Metrics) ObserveTaskFinished(status string) {
	if m == nil {
		return
	}
	m.TasksFinished.WithLabelValues(status).Inc()
}

func (m *Metrics) WatcherStarted() {
	if m == nil {
		return
	}
	m.ActiveWatchers.Inc()
}

func (m *Metrics) WatcherStopped() {
	if m == nil {
		return
	}
	m.ActiveWatchers.Dec()
}
