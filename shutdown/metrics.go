package shutdown

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors for shutdown runs.
// A nil *Metrics records nothing.
type Metrics struct {
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	phaseDuration *prometheus.HistogramVec
	phaseOutcomes *prometheus.CounterVec
	taskFailures  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{}

	m.runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "shutdown_runs_total", Help: "Total number of shutdown runs by reason and status."},
		[]string{"reason", "status"},
	)
	reg.MustRegister(m.runs)

	m.runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "shutdown_run_duration_seconds", Help: "Duration of shutdown runs in seconds.", Buckets: prometheus.DefBuckets},
	)
	reg.MustRegister(m.runDuration)

	m.phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "shutdown_phase_duration_seconds", Help: "Duration of shutdown phases in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"phase"},
	)
	reg.MustRegister(m.phaseDuration)

	m.phaseOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "shutdown_phase_outcomes_total", Help: "Total number of phase executions by outcome."},
		[]string{"phase", "outcome"},
	)
	reg.MustRegister(m.phaseOutcomes)

	m.taskFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "shutdown_task_failures_total", Help: "Total number of tasks that failed or panicked."},
		[]string{"phase"},
	)
	reg.MustRegister(m.taskFailures)

	return m
}

func (m *Metrics) observeRun(reason Reason, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "completed"
	if err != nil {
		status = "failed"
	}
	m.runs.WithLabelValues(string(reason), status).Inc()
	m.runDuration.Observe(d.Seconds())
}

func (m *Metrics) observePhase(r PhaseResult) {
	if m == nil {
		return
	}
	m.phaseOutcomes.WithLabelValues(r.Name, string(r.Outcome)).Inc()
	if r.Outcome != OutcomeSkipped {
		m.phaseDuration.WithLabelValues(r.Name).Observe(r.Duration.Seconds())
	}
}

func (m *Metrics) taskFailed(phase string) {
	if m == nil {
		return
	}
	m.taskFailures.WithLabelValues(phase).Inc()
}
