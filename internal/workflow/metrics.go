package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pincollector/internal/models"
)

// Metrics exposes step and workflow outcomes. A nil *Metrics records nothing.
type Metrics struct {
	steps     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	workflows *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pincollector",
			Name:      "workflow_steps_total",
			Help:      "Step executions by step name and outcome.",
		}, []string{"step", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pincollector",
			Name:      "workflow_step_duration_seconds",
			Help:      "Wall time of step executions including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step"}),
		workflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pincollector",
			Name:      "workflows_finished_total",
			Help:      "Workflows reaching a terminal status.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.steps, m.duration, m.workflows)
	return m
}

func (m *Metrics) observeStep(step models.StepName, outcome StepOutcome, took time.Duration) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(string(step), string(outcome)).Inc()
	m.duration.WithLabelValues(string(step)).Observe(took.Seconds())
}

func (m *Metrics) observeWorkflow(status models.WorkflowStatus) {
	if m == nil {
		return
	}
	m.workflows.WithLabelValues(string(status)).Inc()
}

// StepCount returns the counter for step and outcome; used by tests.
func (m *Metrics) StepCount(step models.StepName, outcome StepOutcome) prometheus.Counter {
	return m.steps.WithLabelValues(string(step), string(outcome))
}

// WorkflowCount returns the counter for status; used by tests.
func (m *Metrics) WorkflowCount(status models.WorkflowStatus) prometheus.Counter {
	return m.workflows.WithLabelValues(string(status))
}
