package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics — метрики планировщика.
type Metrics struct {
	TasksDispatched prometheus.Counter
	TasksCompleted  *prometheus.CounterVec // label: where (worker|own)
	Batches         prometheus.Counter
	TaskDuration    prometheus.Histogram
	ReadyTasks      *prometheus.GaugeVec // label: queue (worker|own)
	BusyWorkers     prometheus.Gauge
	ReturnsConsumed prometheus.Counter
}

// NewMetrics создаёт метрики и регистрирует их в reg.
// reg == nil — метрики не регистрируются (удобно в тестах).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TasksDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskgraph",
			Name:      "tasks_dispatched_total",
			Help:      "Tasks sent to workers.",
		}),
		TasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskgraph",
			Name:      "tasks_completed_total",
			Help:      "Tasks marked done.",
		}, []string{"where"}),
		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskgraph",
			Name:      "batches_total",
			Help:      "Batches sent to workers.",
		}),
		TaskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "taskgraph",
			Name:      "task_duration_seconds",
			Help:      "Measured task execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		ReadyTasks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "taskgraph",
			Name:      "ready_tasks",
			Help:      "Tasks waiting in the ready queues.",
		}, []string{"queue"}),
		BusyWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskgraph",
			Name:      "busy_workers",
			Help:      "Workers executing a batch.",
		}),
		ReturnsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskgraph",
			Name:      "returns_consumed_total",
			Help:      "Results received through shared memory.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.TasksDispatched,
			m.TasksCompleted,
			m.Batches,
			m.TaskDuration,
			m.ReadyTasks,
			m.BusyWorkers,
			m.ReturnsConsumed,
		)
	}
	return m
}
