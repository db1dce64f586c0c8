package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics carries the daemon's instrumentation on its own registry so tests
// can run many servers without collisions.
type Metrics struct {
	Registry *prometheus.Registry

	Verifications *prometheus.CounterVec
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	RateLimited   prometheus.Counter
	SnapshotSwaps prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pfverify_verifications_total",
			Help: "Verification runs by terminal outcome.",
		}, []string{"outcome"}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "pfverify_verdict_cache_hits_total",
			Help: "Verdict cache hits.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "pfverify_verdict_cache_misses_total",
			Help: "Verdict cache misses.",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "pfverify_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
		SnapshotSwaps: factory.NewCounter(prometheus.CounterOpts{
			Name: "pfverify_snapshot_swaps_total",
			Help: "Policy and key snapshot replacements.",
		}),
	}
}
