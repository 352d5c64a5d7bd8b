package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the indicator service.
type Metrics struct {
	CandlesIngested  *prometheus.CounterVec // labels: tf
	CandlesRejected  *prometheus.CounterVec // labels: reason
	DuplicateCandles prometheus.Counter
	Revisions        prometheus.Counter

	ValuesComputed    prometheus.Counter
	ProvisionalValues prometheus.Counter
	ComputeDur        prometheus.Histogram
	RecomputeDur      prometheus.Histogram

	ShardQueueDrops prometheus.Counter
	ActiveInstances prometheus.Gauge
	StaleInstances  prometheus.Gauge
	EvictedTotal    prometheus.Counter

	BackfillsTotal *prometheus.CounterVec // labels: result
	BackfillDur    prometheus.Histogram

	RedisWriteDur            prometheus.Histogram
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
	PELMessagesReclaimed     prometheus.Counter

	SQLiteCommitDur prometheus.Histogram

	WSClients       prometheus.Gauge
	WSSubscriptions prometheus.Gauge
	WSDroppedFrames prometheus.Counter

	SnapshotDur prometheus.Histogram
}

// New registers all metrics on the default registerer.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers all metrics on the given registerer. Tests pass a
// throwaway prometheus.NewRegistry() to avoid duplicate-registration panics.
func NewWith(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CandlesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indicators_candles_ingested_total",
			Help: "Closed candles accepted by the engine (by timeframe)",
		}, []string{"tf"}),
		CandlesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indicators_candles_rejected_total",
			Help: "Candles rejected before processing (by reason)",
		}, []string{"reason"}),
		DuplicateCandles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indicators_duplicate_candles_total",
			Help: "Exact duplicate candle deliveries ignored as no-ops",
		}),
		Revisions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indicators_candle_revisions_total",
			Help: "Revised candles that triggered a bounded recompute",
		}),

		ValuesComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indicators_values_computed_total",
			Help: "Committed indicator values computed",
		}),
		ProvisionalValues: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indicators_provisional_values_total",
			Help: "Provisional values computed from forming candles",
		}),
		ComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indicators_compute_duration_seconds",
			Help:    "Per-candle update latency across a key's instances",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),
		RecomputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indicators_recompute_duration_seconds",
			Help:    "Window replay latency after a candle revision",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
		}),

		ShardQueueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indicators_shard_queue_drops_total",
			Help: "Tasks rejected because a shard queue was full",
		}),
		ActiveInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indicators_active_instances",
			Help: "Registered indicator instances currently held in memory",
		}),
		StaleInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indicators_stale_instances",
			Help: "Instances currently in the stale state awaiting backfill",
		}),
		EvictedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indicators_evicted_instances_total",
			Help: "Instances evicted by the idle-retention sweep",
		}),

		BackfillsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indicators_backfills_total",
			Help: "Backfill attempts (by result: ok, fetch_error, timeout, exhausted)",
		}, []string{"result"}),
		BackfillDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indicators_backfill_duration_seconds",
			Help:    "Backfill fetch + rebuild latency",
			Buckets: prometheus.DefBuckets,
		}),

		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indicators_redis_write_duration_seconds",
			Help:    "Redis pipeline write latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indicators_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indicators_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indicators_redis_buffered_writes_total",
			Help: "Writes buffered locally while the Redis circuit breaker was open",
		}),
		PELMessagesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indicators_pel_messages_reclaimed_total",
			Help: "Candle messages reclaimed from dead consumers via XCLAIM",
		}),

		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indicators_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indicators_ws_clients",
			Help: "Connected WebSocket clients",
		}),
		WSSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indicators_ws_subscriptions",
			Help: "Active WebSocket subscriptions",
		}),
		WSDroppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indicators_ws_dropped_frames_total",
			Help: "Frames dropped because a client send buffer was full",
		}),

		SnapshotDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indicators_snapshot_duration_seconds",
			Help:    "Engine checkpoint gather + persist latency",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.CandlesIngested,
		m.CandlesRejected,
		m.DuplicateCandles,
		m.Revisions,
		m.ValuesComputed,
		m.ProvisionalValues,
		m.ComputeDur,
		m.RecomputeDur,
		m.ShardQueueDrops,
		m.ActiveInstances,
		m.StaleInstances,
		m.EvictedTotal,
		m.BackfillsTotal,
		m.BackfillDur,
		m.RedisWriteDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.PELMessagesReclaimed,
		m.SQLiteCommitDur,
		m.WSClients,
		m.WSSubscriptions,
		m.WSDroppedFrames,
		m.SnapshotDur,
	)

	return m
}
