// Package metrics exposes Prometheus counters for the WFM engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess                = "success"
	OutcomeNotFound               = "not_found"
	OutcomeInvalidTransition      = "invalid_transition"
	OutcomeConcurrentModification = "concurrent_modification"
	OutcomeConfigurationError     = "configuration_error"
	OutcomeError                  = "error"
)

// Metrics holds the engine's collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	progressions     *prometheus.CounterVec
	projectsCreated  *prometheus.CounterVec
	historyFailures  prometheus.Counter
	eventFailures    prometheus.Counter
	cacheLookups     *prometheus.CounterVec
	orphanedProjects prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		progressions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wfm_step_progressions_total",
				Help: "Step progression attempts by outcome",
			},
			[]string{"outcome"},
		),
		projectsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wfm_projects_created_total",
				Help: "Project instantiation attempts by outcome",
			},
			[]string{"outcome"},
		),
		historyFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wfm_history_append_failures_total",
				Help: "History entries that could not be written after a committed change",
			},
		),
		eventFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wfm_event_publish_failures_total",
				Help: "Events that could not be delivered to the sink",
			},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wfm_definition_cache_lookups_total",
				Help: "Workflow graph cache lookups by result",
			},
			[]string{"result"},
		),
		orphanedProjects: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wfm_orphaned_projects",
				Help: "Projects without a linked lead or deal found by the last janitor run",
			},
		),
	}

	m.registry.MustRegister(
		m.progressions,
		m.projectsCreated,
		m.historyFailures,
		m.eventFailures,
		m.cacheLookups,
		m.orphanedProjects,
		collectors.NewGoCollector(),
	)

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Progression(outcome string) {
	if m == nil {
		return
	}

	m.progressions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ProjectCreated(outcome string) {
	if m == nil {
		return
	}

	m.projectsCreated.WithLabelValues(outcome).Inc()
}

func (m *Metrics) HistoryAppendFailed() {
	if m == nil {
		return
	}

	m.historyFailures.Inc()
}

func (m *Metrics) EventPublishFailed() {
	if m == nil {
		return
	}

	m.eventFailures.Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
	}

	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) OrphanedProjects(count int) {
	if m == nil {
		return
	}

	m.orphanedProjects.Set(float64(count))
}

// ProgressionCounter returns the progression counter for one outcome.
//
//nolint:ireturn // prometheus.Counter is the collector's public type
func (m *Metrics) ProgressionCounter(outcome string) prometheus.Counter {
	return m.progressions.WithLabelValues(outcome)
}

//nolint:ireturn // prometheus.Gauge is the collector's public type
func (m *Metrics) OrphanedProjectsGauge() prometheus.Gauge {
	return m.orphanedProjects
}
