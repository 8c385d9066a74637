package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WorkflowJobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "operandi_workflow_jobs_total",
			Help: "Total workflow jobs currently in each job_state",
		},
		[]string{"state"},
	)

	JobTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "operandi_job_transitions_total",
			Help: "Total workflow job state transitions observed",
		},
		[]string{"from", "to"},
	)

	SubmitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "operandi_submit_duration_seconds",
			Help:    "Time taken for the submission wrapper to return a remote_job_id",
			Buckets: prometheus.DefBuckets,
		},
	)

	SubmitFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "operandi_submit_failures_total",
			Help: "Total submissions that failed with SubmitFailed",
		},
	)

	PollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "operandi_poll_duration_seconds",
			Help:    "Wall-clock time spent in poll_until_terminal per job",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "operandi_queue_depth",
			Help: "Messages ready for delivery per queue, sampled at queue declaration",
		},
		[]string{"queue"},
	)

	ProcessingPagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "operandi_processing_pages_total",
			Help: "Pages processed, partitioned by outcome",
		},
		[]string{"institution_id", "outcome"},
	)

	TransferFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "operandi_transfer_failures_total",
			Help: "Total remote transfer failures by phase",
		},
		[]string{"phase"},
	)

	WorkerRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "operandi_worker_restarts_total",
			Help: "Total worker child restarts performed by the broker supervisor",
		},
		[]string{"queue"},
	)
)

func init() {
	prometheus.MustRegister(WorkflowJobsTotal)
	prometheus.MustRegister(JobTransitionsTotal)
	prometheus.MustRegister(SubmitDuration)
	prometheus.MustRegister(SubmitFailuresTotal)
	prometheus.MustRegister(PollDuration)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(ProcessingPagesTotal)
	prometheus.MustRegister(TransferFailuresTotal)
	prometheus.MustRegister(WorkerRestartsTotal)
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
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
