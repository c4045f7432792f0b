package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Compile results used as the "result" label.
const (
	resultCompiled = "compiled"
	resultReused   = "reused"
	resultFailed   = "failed"
)

var (
	counterCompiles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flail_compiles_total",
			Help: "Number of compile requests by result",
		},
		[]string{"result"},
	)

	counterCompileErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flail_compile_errors_total",
			Help: "Number of failed compilations by error category",
		},
		[]string{"category"},
	)

	histogramCompileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flail_compile_duration_seconds",
			Help:    "Time spent compiling scripts",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
	)

	histogramProgramSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flail_program_bytes",
			Help:    "Size of compiled programs including the sentinel",
			Buckets: prometheus.ExponentialBuckets(16, 2, 10),
		},
	)

	gaugeSimulators = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flail_simulators_connected",
			Help: "Number of open simulator connections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		counterCompiles,
		counterCompileErrors,
		histogramCompileDuration,
		histogramProgramSize,
		gaugeSimulators,
	)
}
