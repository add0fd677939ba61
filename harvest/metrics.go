package harvest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hazyhaar/audasnap/fault"
)

// Metrics bundles Prometheus collectors for extraction runs.
type Metrics struct {
	Registry    *prometheus.Registry
	RunsTotal   *prometheus.CounterVec
	RunDuration prometheus.Histogram
	ZonesTotal  *prometheus.CounterVec
	ErrorsTotal *prometheus.CounterVec
	Running     prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry,
// together with the Go runtime and process collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audasnap_runs_total",
			Help: "Extraction runs by outcome.",
		},
		[]string{"status"},
	)
	duration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audasnap_run_duration_seconds",
			Help:    "Wall time of extraction runs.",
			Buckets: []float64{15, 30, 60, 120, 240, 480, 960},
		},
	)
	zones := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audasnap_zones_total",
			Help: "Damage zones processed, by state.",
		},
		[]string{"state"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audasnap_errors_total",
			Help: "Failed or rejected extractions by error kind and code.",
		},
		[]string{"kind", "code"},
	)
	running := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "audasnap_run_in_progress",
			Help: "1 while an extraction is running.",
		},
	)

	registry.MustRegister(runs, duration, zones, errorsTotal, running,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		Registry:    registry,
		RunsTotal:   runs,
		RunDuration: duration,
		ZonesTotal:  zones,
		ErrorsTotal: errorsTotal,
		Running:     running,
	}
}

// ObserveRun counts a finished run and records its duration.
func (m *Metrics) ObserveRun(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(d.Seconds())
}

// AddZones counts captured and degraded zones.
func (m *Metrics) AddZones(captured, degraded int) {
	if m == nil {
		return
	}
	m.ZonesTotal.WithLabelValues("captured").Add(float64(captured))
	m.ZonesTotal.WithLabelValues("degraded").Add(float64(degraded))
}

// IncError counts a failure.
func (m *Metrics) IncError(kind fault.Kind, code string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(kind), code).Inc()
}

// SetRunning flags whether a run is in progress.
func (m *Metrics) SetRunning(on bool) {
	if m == nil {
		return
	}
	if on {
		m.Running.Set(1)
	} else {
		m.Running.Set(0)
	}
}
