package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WaitingTasksTotal is the queue-depth estimate: WAITING or RUNNING tasks
	// older than 5s minus the live worker count, sampled by housekeeping on
	// METRIC_HEARTBEAT_INTERVAL beats. It goes negative when live workers
	// outnumber those tasks.
	WaitingTasksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulp_worker_waiting_tasks_total",
			Help: "WAITING or RUNNING tasks older than 5s minus the live worker count",
		},
	)

	LiveWorkersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulp_worker_live_workers_total",
			Help: "Number of workers with a heartbeat inside the liveness window",
		},
	)

	TasksDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulp_worker_tasks_dispatched_total",
			Help: "Total number of tasks this process fetched and dispatched to a child",
		},
		[]string{"task_name"},
	)

	TaskOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulp_worker_task_outcomes_total",
			Help: "Total number of completed tasks by terminal state",
		},
		[]string{"task_name", "state"},
	)

	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulp_worker_task_duration_seconds",
			Help:    "Wall-clock duration of a supervised child task, start to exit",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 3600},
		},
		[]string{"task_name"},
	)

	ClaimLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pulp_worker_claim_latency_seconds",
			Help:    "Time taken by one fetch pass to claim a task or find none claimable",
			Buckets: prometheus.DefBuckets,
		},
	)

	HousekeepingCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pulp_worker_housekeeping_cycle_duration_seconds",
			Help:    "Time taken for one housekeeping beat, including any advisory-locked work",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkersReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pulp_worker_workers_reaped_total",
			Help: "Total number of missing peer workers cleaned up by this process",
		},
	)

	ResourceLockContentionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulp_worker_resource_lock_contention_total",
			Help: "Total number of claim attempts that lost a resource lock race",
		},
		[]string{"resource"},
	)
)

func init() {
	prometheus.MustRegister(WaitingTasksTotal)
	prometheus.MustRegister(LiveWorkersTotal)
	prometheus.MustRegister(TasksDispatchedTotal)
	prometheus.MustRegister(TaskOutcomesTotal)
	prometheus.MustRegister(TaskDuration)
	prometheus.MustRegister(ClaimLatency)
	prometheus.MustRegister(HousekeepingCycleDuration)
	prometheus.MustRegister(WorkersReapedTotal)
	prometheus.MustRegister(ResourceLockContentionTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
