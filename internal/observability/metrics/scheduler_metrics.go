// Package metrics exposes the Prometheus instruments for the scheduling
// pipeline. Instruments are process-wide singletons registered on the
// default registerer.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SchedulerMetrics captures scheduler job health signals.
type SchedulerMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobErrors      *prometheus.CounterVec
	batchProcessed *prometheus.CounterVec
	runLoopLag     prometheus.Histogram
}

var (
	schedulerOnce sync.Once
	scheduler     *SchedulerMetrics
)

// Scheduler returns the singleton scheduler metrics registry.
func Scheduler() *SchedulerMetrics {
	schedulerOnce.Do(func() {
		scheduler = newSchedulerMetrics()
	})
	return scheduler
}

func newSchedulerMetrics() *SchedulerMetrics {
	return &SchedulerMetrics{
		jobRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "payflow_scheduler_job_runs_total",
			Help: "Number of scheduler job executions.",
		}, []string{"job"}),
		jobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payflow_scheduler_job_duration_seconds",
			Help:    "Scheduler job wall time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		jobErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "payflow_scheduler_job_errors_total",
			Help: "Number of scheduler job failures.",
		}, []string{"job"}),
		batchProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "payflow_scheduler_batch_processed_total",
			Help: "Units of work settled per scheduler job.",
		}, []string{"job"}),
		runLoopLag: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "payflow_scheduler_run_loop_lag_seconds",
			Help:    "How far behind its tick the run loop started.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
	}
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *SchedulerMetrics) IncJobError(job string) {
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) AddBatchProcessed(job string, n int) {
	if n > 0 {
		m.batchProcessed.WithLabelValues(job).Add(float64(n))
	}
}

func (m *SchedulerMetrics) ObserveRunLoopLag(lag time.Duration) {
	m.runLoopLag.Observe(lag.Seconds())
}
