package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the orchestration engine. A nil
// *Metrics is valid and records nothing, which keeps tests free of
// duplicate-registration panics.
type Metrics struct {
	// Terminal task outcomes by status
	TasksTotal *prometheus.CounterVec

	// Per-stage latency
	StageDuration *prometheus.HistogramVec

	// Queue dequeue/ack failures
	QueueErrors prometheus.Counter

	// Tasks currently being processed
	TasksInFlight prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		TasksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "prospector_tasks_total",
			Help: "Total tasks that reached a terminal status",
		}, []string{"status"}),

		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prospector_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"stage"}),

		QueueErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "prospector_queue_errors_total",
			Help: "Total queue dequeue and ack failures",
		}),

		TasksInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "prospector_tasks_in_flight",
			Help: "Tasks currently being processed by workers",
		}),
	}
}

// ObserveOutcome records a terminal task status.
func (m *Metrics) ObserveOutcome(status string) {
	if m != nil {
		m.TasksTotal.WithLabelValues(status).Inc()
	}
}

// ObserveStage records the duration of one pipeline stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m != nil {
		m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// IncQueueError records a queue failure.
func (m *Metrics) IncQueueError() {
	if m != nil {
		m.QueueErrors.Inc()
	}
}

// TrackInFlight marks a task as started and returns the matching done func.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.TasksInFlight.Inc()
	return m.TasksInFlight.Dec
}
