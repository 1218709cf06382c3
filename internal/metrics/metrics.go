// Package metrics exposes the Prometheus instruments of the analytics
// core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the collectors so components receive one handle
// instead of reaching for globals.
type Metrics struct {
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	CacheDegraded prometheus.Counter

	EvalErrors    prometheus.Counter
	Invalidations *prometheus.CounterVec

	ScoringDuration     prometheus.Histogram
	AggregationDuration prometheus.Histogram
	ReviewDuration      prometheus.Histogram
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer
// in production.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "procore_cache_hits_total",
			Help: "Cache reads answered from the backend.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "procore_cache_misses_total",
			Help: "Cache reads that fell through to computation.",
		}),
		CacheDegraded: factory.NewCounter(prometheus.CounterOpts{
			Name: "procore_cache_degraded_total",
			Help: "Cache operations skipped because the backend failed.",
		}),
		EvalErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "procore_equation_eval_errors_total",
			Help: "Construct equation evaluations that failed at runtime.",
		}),
		Invalidations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "procore_cache_invalidations_total",
			Help: "Version-counter bumps by scope.",
		}, []string{"scope"}),
		ScoringDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "procore_scoring_duration_seconds",
			Help:    "Time to score one submission end to end.",
			Buckets: prometheus.DefBuckets,
		}),
		AggregationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "procore_aggregation_duration_seconds",
			Help:    "Time to compute one cohort aggregate.",
			Buckets: prometheus.DefBuckets,
		}),
		ReviewDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "procore_review_duration_seconds",
			Help:    "Time to assemble one patient review.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
