// Package metrics provides Prometheus instrumentation shared by the gateway
// and worker processes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// GatewayMetrics defines metrics operations needed by the gateway.
type GatewayMetrics interface {
	// Upload metrics.
	IncUploadsAccepted()
	IncWorkPublished(processType string)

	// Relay metrics.
	IncStatusApplied(processType string)
	IncStatusRejected(processType string)
	IncEventsDelivered()
	IncEventsDropped()

	// Connection metrics.
	IncConnectedClients()
	DecConnectedClients()
	SetConnectedClients(count int)
}

// WorkerMetrics defines metrics operations needed by the worker.
type WorkerMetrics interface {
	IncTasksDequeued(processType string)
	IncTasksRetried(processType string)
	IncTasksDeadLettered(processType string)
	TrackTask(processType string, f func() error) error
}

// Metrics implements both GatewayMetrics and WorkerMetrics.
type Metrics struct {
	// Gateway metrics.
	UploadsAccepted  prometheus.Counter
	WorkPublished    *prometheus.CounterVec
	StatusApplied    *prometheus.CounterVec
	StatusRejected   *prometheus.CounterVec
	EventsDelivered  prometheus.Counter
	EventsDropped    prometheus.Counter
	ConnectedClients prometheus.Gauge

	// Worker metrics.
	TasksDequeued     *prometheus.CounterVec
	TasksRetried      *prometheus.CounterVec
	TasksDeadLettered *prometheus.CounterVec
	ActiveTasks       prometheus.Gauge
	TaskProcessTime   *prometheus.HistogramVec
}

var _ GatewayMetrics = (*Metrics)(nil)
var _ WorkerMetrics = (*Metrics)(nil)

func (m *Metrics) IncUploadsAccepted() { m.UploadsAccepted.Inc() }

func (m *Metrics) IncWorkPublished(processType string) {
	m.WorkPublished.WithLabelValues(processType).Inc()
}

func (m *Metrics) IncStatusApplied(processType string) {
	m.StatusApplied.WithLabelValues(processType).Inc()
}

func (m *Metrics) IncStatusRejected(processType string) {
	m.StatusRejected.WithLabelValues(processType).Inc()
}

func (m *Metrics) IncEventsDelivered() { m.EventsDelivered.Inc() }
func (m *Metrics) IncEventsDropped()   { m.EventsDropped.Inc() }

func (m *Metrics) IncConnectedClients() { m.ConnectedClients.Inc() }
func (m *Metrics) DecConnectedClients() { m.ConnectedClients.Dec() }

func (m *Metrics) SetConnectedClients(count int) { m.ConnectedClients.Set(float64(count)) }

func (m *Metrics) IncTasksDequeued(processType string) {
	m.TasksDequeued.WithLabelValues(processType).Inc()
}

func (m *Metrics) IncTasksRetried(processType string) {
	m.TasksRetried.WithLabelValues(processType).Inc()
}

func (m *Metrics) IncTasksDeadLettered(processType string) {
	m.TasksDeadLettered.WithLabelValues(processType).Inc()
}

// TrackTask tracks the duration of a task execution and updates the metrics.
func (m *Metrics) TrackTask(processType string, f func() error) error {
	m.ActiveTasks.Inc()
	defer m.ActiveTasks.Dec()

	start := time.Now()
	err := f()
	m.TaskProcessTime.WithLabelValues(processType).Observe(time.Since(start).Seconds())
	return err
}

// New creates a new Metrics instance with registered metrics.
func New(namespace string) *Metrics {
	return &Metrics{
		UploadsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_accepted_total",
			Help:      "Total number of accepted video uploads",
		}),
		WorkPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "work_published_total",
			Help:      "Total number of work messages published to the broker",
		}, []string{"process_type"}),
		StatusApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_applied_total",
			Help:      "Total number of status messages applied to the state store",
		}, []string{"process_type"}),
		StatusRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_rejected_total",
			Help:      "Total number of stale or duplicate status messages rejected",
		}, []string{"process_type"}),
		EventsDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Total number of push events delivered to clients",
		}),
		EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Total number of push events dropped for slow or absent clients",
		}),
		ConnectedClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Number of currently connected push clients",
		}),

		TasksDequeued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_dequeued_total",
			Help:      "Total number of work messages consumed from the broker",
		}, []string{"process_type"}),
		TasksRetried: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_retried_total",
			Help:      "Total number of work messages republished for retry",
		}, []string{"process_type"}),
		TasksDeadLettered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_dead_lettered_total",
			Help:      "Total number of work messages discarded after exhausting attempts",
		}, []string{"process_type"}),
		ActiveTasks: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_tasks",
			Help:      "Number of tasks currently being processed",
		}),
		TaskProcessTime: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_process_duration_seconds",
			Help:      "Time taken to process each task",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		}, []string{"process_type"}),
	}
}

// StartServer starts the metrics HTTP server.
func StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
