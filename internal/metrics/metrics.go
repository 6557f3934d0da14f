// Package metrics exposes Prometheus counters for the webhook pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "starship"

// Metrics holds the collectors for one process
type Metrics struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	tasks        *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	tickets      *prometheus.CounterVec
	inflight     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Verified Slack requests by payload kind.",
		}, []string{"kind"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_rejections_total",
			Help:      "Requests rejected before classification.",
		}, []string{"reason"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deferred_tasks_total",
			Help:      "Deferred tasks by name and outcome.",
		}, []string{"task", "outcome"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deferred_task_duration_seconds",
			Help:      "Deferred task run time.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
		}, []string{"task"}),
		tickets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_created_total",
			Help:      "Tickets created by provider.",
		}, []string{"provider"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "deferred_tasks_inflight",
			Help:      "Deferred tasks currently running.",
		}),
	}

	m.registry.MustRegister(
		m.requests, m.rejections, m.tasks, m.taskDuration, m.tickets, m.inflight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RequestReceived(kind string) {
	m.requests.WithLabelValues(kind).Inc()
}

func (m *Metrics) RequestRejected(reason string) {
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) TaskStarted() {
	m.inflight.Inc()
}

// TaskFinished records the outcome of a deferred task: ok, error, panic or timeout
func (m *Metrics) TaskFinished(task, outcome string, took time.Duration) {
	m.inflight.Dec()
	m.tasks.WithLabelValues(task, outcome).Inc()
	m.taskDuration.WithLabelValues(task).Observe(took.Seconds())
}

func (m *Metrics) TicketCreated(provider string) {
	m.tickets.WithLabelValues(provider).Inc()
}
