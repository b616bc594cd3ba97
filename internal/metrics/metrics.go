// Package metrics exposes Prometheus instrumentation for the alert engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TicksTotal counts scheduler ticks.
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "alert_engine",
		Name:      "ticks_total",
		Help:      "Number of scheduler ticks executed.",
	})

	// TickDuration observes wall-clock tick durations.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "alert_engine",
		Name:      "tick_duration_seconds",
		Help:      "Wall-clock duration of scheduler ticks.",
		Buckets:   prometheus.DefBuckets,
	})

	// AlertsEvaluated counts evaluation outcomes per alert kind.
	AlertsEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alert_engine",
		Name:      "alerts_evaluated_total",
		Help:      "Alert evaluations by kind and outcome.",
	}, []string{"kind", "outcome"})

	// Dispatches counts notification sends by result.
	Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alert_engine",
		Name:      "dispatches_total",
		Help:      "Notification dispatches by result.",
	}, []string{"result"})

	// FeedRequests counts DataSource requests by feed and outcome.
	FeedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alert_engine",
		Name:      "feed_requests_total",
		Help:      "DataSource requests by feed and outcome.",
	}, []string{"feed", "outcome"})

	// CacheHits counts snapshot cache hits per resource kind.
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alert_engine",
		Name:      "cache_hits_total",
		Help:      "DataSource cache hits by resource kind.",
	}, []string{"resource"})

	// QuotaSkips counts alerts skipped because the owner's daily call quota
	// was exhausted.
	QuotaSkips = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "alert_engine",
		Name:      "quota_skipped_total",
		Help:      "Alerts skipped due to exhausted daily call quota.",
	})

	// BreakerState reports each feed breaker's state (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "alert_engine",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per feed (0=closed, 1=half-open, 2=open).",
	}, []string{"feed"})
)
