// Package metrics defines the Prometheus collectors of the enhancement
// pipeline. Collectors are registered on a registry passed in by the caller
// rather than the global default, so tests can build as many as they like.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every pipeline metric.
type Collector struct {
	TasksSubmitted       *prometheus.CounterVec
	SubmissionsRejected  *prometheus.CounterVec
	TasksFinished        *prometheus.CounterVec
	TaskDurationSeconds  *prometheus.HistogramVec
	TasksInFlight        prometheus.Gauge
	QueueDepth           prometheus.Gauge
	RefundFailures       prometheus.Counter
	TaskPanics           prometheus.Counter
	SweepTasksSelected   prometheus.Counter
	CleanupTasksDeleted  prometheus.Counter
	SchedulerJobsSkipped *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)

	return &Collector{
		TasksSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enhancer",
			Subsystem: "tasks",
			Name:      "submitted_total",
			Help:      "Tasks accepted for processing, by enhancement type.",
		}, []string{"enhancement_type"}),

		SubmissionsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enhancer",
			Subsystem: "tasks",
			Name:      "rejected_total",
			Help:      "Submissions rejected before a task was created, by reason.",
		}, []string{"reason"}),

		TasksFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enhancer",
			Subsystem: "tasks",
			Name:      "finished_total",
			Help:      "Tasks that reached a terminal status, by provider and status.",
		}, []string{"provider", "status"}),

		TaskDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "enhancer",
			Subsystem: "tasks",
			Name:      "provider_duration_seconds",
			Help:      "Time spent waiting for the provider, by provider.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"provider"}),

		TasksInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "enhancer",
			Subsystem: "tasks",
			Name:      "inflight",
			Help:      "Tasks currently being processed.",
		}),

		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "enhancer",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Task ids waiting in the in-process queue.",
		}),

		RefundFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "enhancer",
			Subsystem: "credits",
			Name:      "refund_failures_total",
			Help:      "Compensating refunds that could not be applied. Each one needs manual reconciliation.",
		}),

		TaskPanics: f.NewCounter(prometheus.CounterOpts{
			Namespace: "enhancer",
			Subsystem: "tasks",
			Name:      "panics_total",
			Help:      "Panics recovered while processing a task.",
		}),

		SweepTasksSelected: f.NewCounter(prometheus.CounterOpts{
			Namespace: "enhancer",
			Subsystem: "sweep",
			Name:      "tasks_selected_total",
			Help:      "Pending tasks picked up by the recovery sweep.",
		}),

		CleanupTasksDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "enhancer",
			Subsystem: "cleanup",
			Name:      "tasks_deleted_total",
			Help:      "Completed tasks removed by the retention job.",
		}),

		SchedulerJobsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enhancer",
			Subsystem: "scheduler",
			Name:      "jobs_skipped_total",
			Help:      "Scheduled runs skipped because another replica held the lock.",
		}, []string{"job"}),
	}
}

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the metrics in reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
