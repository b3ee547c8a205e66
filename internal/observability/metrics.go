package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "freelas", Name: "matches_total", Help: "Total number of confirmed matches"})
	ProvidersOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "freelas", Name: "providers_online", Help: "Number of online providers"})

	SimTicksTotal        = promauto.NewCounter(prometheus.CounterOpts{Namespace: "freelas", Name: "sim_ticks_total", Help: "Total simulator movement ticks"})
	SimInvalidMovesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "freelas", Name: "sim_invalid_moves_total", Help: "Ticks dropped because they produced invalid coordinates"})

	RouteFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "freelas", Name: "route_fallbacks_total", Help: "Route computations served by the synthetic generator"})

	EventsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "freelas", Name: "events_dispatched_total", Help: "Inbound realtime events dispatched by type"},
		[]string{"type"},
	)
	EventsUnknownTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "freelas", Name: "events_unknown_total", Help: "Inbound events with an unrecognized type"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "freelas", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "freelas",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
