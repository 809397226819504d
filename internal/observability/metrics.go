package observability

import "github.com/prometheus/client_golang/prometheus"

// Routine pipeline collectors. HTTP-level metrics live in the middleware
// package; these track what happens behind the handlers.
var (
	// RoutineResolves counts resolutions by where the routine came from
	// (cache, database, generation) or "failed".
	RoutineResolves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routine_resolve_total",
			Help: "Routine resolutions by source.",
		},
		[]string{"source"},
	)

	// GenerationDuration observes engine runs by outcome
	// (ok, timeout, parse, vendor, cancelled, shared).
	GenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routine_generation_duration_seconds",
			Help:    "Duration of routine generations in seconds.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"outcome"},
	)

	DurabilityFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "routine_durability_failures_total",
		Help: "Generated routines that could not be written to the durable store.",
	})

	ChannelEmitErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "routine_channel_emit_errors_total",
		Help: "Event channel appends that failed and were dropped.",
	})

	SSEStreamsInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "routine_sse_streams_inflight",
		Help: "Open server-sent event streams.",
	})

	// CatalogCache counts product list lookups by result (hit, miss, error).
	CatalogCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routine_catalog_cache_total",
			Help: "Product catalog cache lookups by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		RoutineResolves,
		GenerationDuration,
		DurabilityFailures,
		ChannelEmitErrors,
		SSEStreamsInflight,
		CatalogCache,
	)
}
