package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine counters and histograms, partitioned by mill where the value is
// mill-specific.

var (
	// Poller
	PollerCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "milld",
		Subsystem: "poller",
		Name:      "cycles_total",
		Help:      "Total polling cycles started",
	}, []string{"mill"})

	PollerCyclesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "milld",
		Subsystem: "poller",
		Name:      "cycles_skipped_total",
		Help:      "Cycles skipped because the previous cycle was still fetching",
	}, []string{"mill"})

	PollerCyclesDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "milld",
		Subsystem: "poller",
		Name:      "cycles_discarded_total",
		Help:      "Completed cycles discarded by the staleness guard",
	}, []string{"mill"})

	PollerFetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "milld",
		Subsystem: "poller",
		Name:      "fetch_errors_total",
		Help:      "Per-parameter fetch failures within a cycle",
	}, []string{"mill", "parameter", "kind"})

	PollerCycleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "milld",
		Subsystem: "poller",
		Name:      "cycle_duration_seconds",
		Help:      "Polling cycle duration including all tag fetches",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"mill"})

	// Tag gateway client
	TagCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "milld",
		Subsystem: "tags",
		Name:      "calls_total",
		Help:      "Total tag gateway calls by method and status",
	}, []string{"method", "status"})

	TagRateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "milld",
		Subsystem: "tags",
		Name:      "rate_limit_waits_total",
		Help:      "Tag gateway calls delayed by the client-side rate limiter",
	})

	TagTrendCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "milld",
		Subsystem: "tags",
		Name:      "trend_cache_hits_total",
		Help:      "Trend fetches served from the in-process cache",
	})

	// Prediction dispatch
	PredictionsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "milld",
		Subsystem: "dispatch",
		Name:      "predictions_total",
		Help:      "Prediction requests dispatched by trigger source",
	}, []string{"mill", "trigger"})

	PredictionsCollapsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "milld",
		Subsystem: "dispatch",
		Name:      "requests_collapsed_total",
		Help:      "Prediction triggers absorbed by debouncing or in-flight coalescing",
	}, []string{"mill"})

	PredictionsRejectedStale = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "milld",
		Subsystem: "dispatch",
		Name:      "responses_rejected_stale_total",
		Help:      "Prediction responses discarded because the mill changed mid-flight",
	}, []string{"mill"})

	PredictionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "milld",
		Subsystem: "dispatch",
		Name:      "errors_total",
		Help:      "Failed prediction calls by error class",
	}, []string{"mill", "class"})

	PredictionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "milld",
		Subsystem: "dispatch",
		Name:      "request_duration_seconds",
		Help:      "Cascade prediction round-trip duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"mill"})

	// Target-driven search
	SearchRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "milld",
		Subsystem: "search",
		Name:      "runs_total",
		Help:      "Distribution search runs by outcome",
	}, []string{"mill", "outcome"})

	SearchTrialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "milld",
		Subsystem: "search",
		Name:      "trials_total",
		Help:      "Individual search trials by result",
	}, []string{"mill", "result"})

	SearchRunLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "milld",
		Subsystem: "search",
		Name:      "run_duration_seconds",
		Help:      "End-to-end distribution search duration",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"mill"})

	// State store
	StateEpoch = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "milld",
		Subsystem: "state",
		Name:      "model_epoch",
		Help:      "Current model epoch, bumped on every mill switch",
	})

	StateTrendPoints = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "milld",
		Subsystem: "state",
		Name:      "trend_points",
		Help:      "Retained trend points per parameter",
	}, []string{"parameter"})

	StateLastCycleTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "milld",
		Subsystem: "state",
		Name:      "last_cycle_timestamp_seconds",
		Help:      "Unix time of the last applied polling cycle",
	})

	// Circuit breaker
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "milld",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{"name"})

	BreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "milld",
		Subsystem: "breaker",
		Name:      "trips_total",
		Help:      "Circuit breaker open transitions",
	}, []string{"name"})

	// Relay
	RelayPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "milld",
		Subsystem: "relay",
		Name:      "events_published_total",
		Help:      "Prediction updates published to the redis stream",
	}, []string{"stream"})

	RelayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "milld",
		Subsystem: "relay",
		Name:      "errors_total",
		Help:      "Failed redis stream publishes",
	}, []string{"stream"})

	// Alerts
	AlertsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "milld",
		Subsystem: "alerts",
		Name:      "fired_total",
		Help:      "Alerts fired by type",
	}, []string{"type"})
)
