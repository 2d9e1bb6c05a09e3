package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is a ProgressSink that exports run progress as prometheus
// metrics on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	phaseUnits   *prometheus.GaugeVec
	unitsDone    *prometheus.CounterVec
	unitSeconds  *prometheus.HistogramVec
	phaseSeconds *prometheus.GaugeVec
	filesSkipped prometheus.Counter
}

// NewMetrics registers the canopy metrics on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		phaseUnits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "canopy",
			Name:      "phase_units",
			Help:      "Work units scheduled in the phase.",
		}, []string{"phase"}),
		unitsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canopy",
			Name:      "units_done_total",
			Help:      "Work units completed.",
		}, []string{"phase"}),
		unitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "canopy",
			Name:      "unit_duration_seconds",
			Help:      "Time spent on one work unit.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"phase"}),
		phaseSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "canopy",
			Name:      "phase_duration_seconds",
			Help:      "Wall time of the last completed phase.",
		}, []string{"phase"}),
		filesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "canopy",
			Name:      "files_skipped_total",
			Help:      "Input files skipped because they could not be read.",
		}),
	}
	m.registry.MustRegister(m.phaseUnits, m.unitsDone, m.unitSeconds, m.phaseSeconds, m.filesSkipped)
	return m
}

// Registry exposes the registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) PhaseStarted(phase string, units int) {
	m.phaseUnits.WithLabelValues(phase).Set(float64(units))
}

func (m *Metrics) UnitDone(phase string, _ int, elapsed time.Duration) {
	m.unitsDone.WithLabelValues(phase).Inc()
	m.unitSeconds.WithLabelValues(phase).Observe(elapsed.Seconds())
}

func (m *Metrics) PhaseFinished(phase string, elapsed time.Duration) {
	m.phaseSeconds.WithLabelValues(phase).Set(elapsed.Seconds())
}

func (m *Metrics) FileSkipped(string, error) { m.filesSkipped.Inc() }
