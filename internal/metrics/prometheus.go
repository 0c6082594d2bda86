package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RecomputeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coherence_recompute_duration_seconds",
			Help:    "Coherence recompute duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
	)

	RecomputeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coherence_recompute_total",
			Help: "Total number of coherence recomputes",
		},
		[]string{"status"},
	)

	DriftWindowsPerRecompute = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coherence_drift_windows_per_recompute",
			Help:    "Number of drift windows produced per recompute",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
	)

	CoherenceScoreObserved = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coherence_score",
			Help:    "Coherence scores produced by recomputes",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	SignalsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coherence_signals_ingested_total",
			Help: "Total signals ingested",
		},
		[]string{"source"},
	)

	SignalBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coherence_signal_batches_total",
			Help: "Total signal batches processed",
		},
		[]string{"status"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coherence_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coherence_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

func Init() {
	prometheus.MustRegister(RecomputeDuration)
	prometheus.MustRegister(RecomputeTotal)
	prometheus.MustRegister(DriftWindowsPerRecompute)
	prometheus.MustRegister(CoherenceScoreObserved)
	prometheus.MustRegister(SignalsIngested)
	prometheus.MustRegister(SignalBatchesTotal)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
