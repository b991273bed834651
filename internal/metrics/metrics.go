// Package metrics exposes Prometheus collectors for pipeline runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/morozRed/cfgaudit/internal/synthesis"
)

const namespace = "cfgaudit"

// Metrics holds every collector. A nil *Metrics records nothing, so callers
// never need to check whether metrics are enabled.
type Metrics struct {
	registry *prometheus.Registry

	// RunsTotal counts finished runs. Labels: mode, status.
	RunsTotal *prometheus.CounterVec
	// StageDurationSeconds measures each stage. Labels: stage.
	StageDurationSeconds *prometheus.HistogramVec
	// UnitsTotal counts analysis units by outcome. Labels: kind, status.
	UnitsTotal *prometheus.CounterVec
	// UnitDurationSeconds measures analysis units. Labels: kind.
	UnitDurationSeconds *prometheus.HistogramVec
	// CompositeScore is the latest composite score.
	CompositeScore prometheus.Gauge
	// GraphCycles, GraphOrphans and GraphBrokenLinks mirror the latest report.
	GraphCycles      prometheus.Gauge
	GraphOrphans     prometheus.Gauge
	GraphBrokenLinks prometheus.Gauge
	// CacheWarnings counts cache and ledger problems that did not stop a run.
	CacheWarnings *prometheus.CounterVec
}

// New registers collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished pipeline runs by mode and status.",
		}, []string{"mode", "status"}),
		StageDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"stage"}),
		UnitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_total",
			Help:      "Analysis units by component kind and outcome.",
		}, []string{"kind", "status"}),
		UnitDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "unit_duration_seconds",
			Help:      "Duration of single component analyses.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 9),
		}, []string{"kind"}),
		CompositeScore: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "composite_score",
			Help:      "Composite score of the latest completed run.",
		}),
		GraphCycles: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "cycles",
			Help:      "Dependency cycles in the latest run.",
		}),
		GraphOrphans: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "orphans",
			Help:      "Orphan components in the latest run.",
		}),
		GraphBrokenLinks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "broken_links",
			Help:      "Unresolved references in the latest run.",
		}),
		CacheWarnings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_total",
			Help:      "Non-fatal problems by error code.",
		}, []string{"code"}),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves m in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordRun(mode, status string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(mode, status).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) RecordUnit(kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.UnitsTotal.WithLabelValues(kind, status).Inc()
	m.UnitDurationSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) RecordWarning(code string) {
	if m == nil {
		return
	}
	m.CacheWarnings.WithLabelValues(code).Inc()
}

// SetReport updates the gauges from a finished report.
func (m *Metrics) SetReport(r *synthesis.Report) {
	if m == nil || r == nil {
		return
	}
	m.CompositeScore.Set(r.CompositeScore)
	m.GraphCycles.Set(float64(len(r.Graph.Cycles)))
	m.GraphOrphans.Set(float64(len(r.Graph.Orphans)))
	m.GraphBrokenLinks.Set(float64(len(r.Graph.BrokenLinks)))
}
