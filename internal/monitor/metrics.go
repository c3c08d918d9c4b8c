package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirrors the monitor's counters as Prometheus collectors.
type Metrics struct {
	ExtractionDuration *prometheus.HistogramVec
	CacheLookups       *prometheus.CounterVec
	Truncations        *prometheus.CounterVec
	Failures           *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ExtractionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "identity_ocr_extraction_duration_seconds",
			Help:    "End-to-end extraction latency by provider and cache outcome",
			Buckets: []float64{0.005, 0.05, 0.25, 0.5, 1, 2, 4, 8, 15, 30},
		}, []string{"provider", "cached"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_ocr_cache_lookups_total",
			Help: "Extraction cache lookups by result",
		}, []string{"result"}),
		Truncations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_ocr_truncations_total",
			Help: "Provider responses cut off by the output token limit",
		}, []string{"provider"}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_ocr_failures_total",
			Help: "Failed extractions by error class",
		}, []string{"class"}),
	}
}
