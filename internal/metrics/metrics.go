// Package metrics records load and patch statistics in a prometheus registry.
//
// Metrics are not served; the CLI writes them to a textfile that a node
// exporter can collect.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Load results.
const (
	ResultSuccess            = "success"
	ResultNotFound           = "not_found"
	ResultUnsupportedVersion = "unsupported_version"
	ResultLoadError          = "load_error"
	ResultPatchError         = "patch_error"
	ResultError              = "error"
)

// Metrics holds the collectors of one process.
type Metrics struct {
	reg *prometheus.Registry

	// Loads counts loads by model type and result.
	Loads *prometheus.CounterVec

	// LoadDuration observes load latency by model type.
	LoadDuration *prometheus.HistogramVec

	// Patches counts patch outcomes by patch name.
	Patches *prometheus.CounterVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		Loads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "xwm",
				Name:      "loads_total",
				Help:      "Total number of model loads",
			},
			[]string{"model_type", "result"},
		),
		LoadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "xwm",
				Name:      "load_duration_seconds",
				Help:      "Model load duration in seconds",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"model_type"},
		),
		Patches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "xwm",
				Name:      "patches_total",
				Help:      "Total number of post-load patches by outcome",
			},
			[]string{"patch", "outcome"},
		),
	}
}

// Registry exposes the underlying registry, e.g. for testutil.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ObserveLoad records one load.
func (m *Metrics) ObserveLoad(modelType, result string, d time.Duration) {
	m.Loads.WithLabelValues(modelType, result).Inc()
	m.LoadDuration.WithLabelValues(modelType).Observe(d.Seconds())
}

// ObservePatch records one patch outcome.
func (m *Metrics) ObservePatch(patch, outcome string) {
	m.Patches.WithLabelValues(patch, outcome).Inc()
}

// WriteTextfile writes the current values in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}
