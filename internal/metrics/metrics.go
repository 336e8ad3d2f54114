// Package metrics provides Prometheus instrumentation for price resolution.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PriceRequestsTotal counts provider requests by outcome.
	PriceRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jupalyse_price_requests_total",
		Help: "Price history requests sent to the provider",
	}, []string{"outcome"})

	// PriceRateLimitedTotal counts rate-limit rejections.
	PriceRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jupalyse_price_rate_limited_total",
		Help: "Price history requests rejected by the provider rate limit",
	})

	// PriceCacheHitsTotal counts keys answered from the cache.
	PriceCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jupalyse_price_cache_hits_total",
		Help: "Price keys answered from the cache",
	})

	// PriceCoalescedTotal counts keys that waited on another batch's request.
	PriceCoalescedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jupalyse_price_coalesced_total",
		Help: "Price keys resolved by an in-flight request of another batch",
	})

	// PriceBatchDuration tracks how long a fetch batch takes.
	PriceBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "jupalyse_price_batch_duration_seconds",
		Help:    "Duration of price fetch batches",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	})

	// EventsCollectedTotal counts normalized events by product and kind.
	EventsCollectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jupalyse_events_collected_total",
		Help: "Deposit and trade events normalized from order history",
	}, []string{"product", "kind"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
