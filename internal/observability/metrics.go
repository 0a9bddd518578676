package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for PredictLedger.
type Metrics struct {
	// --- Core Processing ---
	CoreOperationsApplied  *prometheus.CounterVec
	CoreOperationsRejected *prometheus.CounterVec
	CoreOperationDuration  *prometheus.HistogramVec
	CoreJournals           *prometheus.CounterVec
	CoreStateHashDur       prometheus.Histogram
	CoreSequence           prometheus.Gauge

	// --- Economy ---
	TokenSupply          prometheus.Gauge
	TokensMinted         *prometheus.CounterVec
	TradesExecuted       *prometheus.CounterVec
	TradeVolume          *prometheus.CounterVec
	MarketsCreated       prometheus.Counter
	MarketsResolved      *prometheus.CounterVec
	WinningsClaimed      prometheus.Counter
	WinningsPaid         prometheus.Counter
	OracleVotes          prometheus.Counter
	AchievementsUnlocked *prometheus.CounterVec

	// --- Latency ---
	IngestToApply       *prometheus.HistogramVec
	ApplyToPersist      prometheus.Histogram
	NATSPullLatency     *prometheus.HistogramVec
	PersistBatchDur     prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PersistBackpressure prometheus.Counter

	// --- Notifications ---
	NotificationsPublished *prometheus.CounterVec
	NotificationRetries    prometheus.Counter
	NotificationFailures   prometheus.Counter

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Gauge
	RequestSequenceGap    *prometheus.CounterVec
	RequestOutOfOrder     *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers on reg, so tests can use a private registry.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreOperationsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_core_operations_applied_total",
			Help: "Operations successfully applied by core",
		}, []string{"operation"}),

		CoreOperationsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_core_operations_rejected_total",
			Help: "Operations rejected (duplicate, ordering, business rule)",
		}, []string{"operation", "reason"}),

		CoreOperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "predict_core_operation_apply_duration_seconds",
			Help:    "Time to apply a single operation in core",
			Buckets: latencyBuckets,
		}, []string{"operation"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreStateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "predict_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "predict_core_sequence",
			Help: "Current global sequence number",
		}),

		// Economy
		TokenSupply: f.NewGauge(prometheus.GaugeOpts{
			Name: "predict_token_supply",
			Help: "Total minted token supply (fixed point)",
		}),

		TokensMinted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_tokens_minted_total",
			Help: "Tokens minted (fixed point)",
		}, []string{"journal_type"}),

		TradesExecuted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_trades_executed_total",
			Help: "Share trades executed",
		}, []string{"side"}),

		TradeVolume: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_trade_volume_total",
			Help: "Gross tokens traded (fixed point)",
		}, []string{"side"}),

		MarketsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_markets_created_total",
			Help: "Markets created",
		}),

		MarketsResolved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_markets_resolved_total",
			Help: "Markets resolved",
		}, []string{"method"}),

		WinningsClaimed: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_winnings_claimed_total",
			Help: "Winning positions claimed",
		}),

		WinningsPaid: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_winnings_paid_total",
			Help: "Tokens paid out of market escrow (fixed point)",
		}),

		OracleVotes: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_oracle_votes_total",
			Help: "Oracle votes cast",
		}),

		AchievementsUnlocked: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_achievements_unlocked_total",
			Help: "Achievements unlocked",
		}, []string{"achievement"}),

		// Latency
		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "predict_ingest_to_apply_seconds",
			Help:    "Request receive to core apply complete",
			Buckets: ingestBuckets,
		}, []string{"operation"}),

		ApplyToPersist: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "predict_apply_to_persist_seconds",
			Help:    "Core emit to Postgres commit",
			Buckets: latencyBuckets,
		}),

		NATSPullLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "predict_nats_pull_latency_seconds",
			Help:    "NATS fetch latency",
			Buckets: ingestBuckets,
		}, []string{"subject"}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "predict_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "predict_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "predict_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "predict_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "predict_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}, []string{"projection"}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		// Notifications
		NotificationsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_notifications_published_total",
			Help: "Notifications acknowledged by the sink",
		}, []string{"type"}),

		NotificationRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_notification_retries_total",
			Help: "Notification publish retries",
		}),

		NotificationFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_notification_failures_total",
			Help: "Notifications given up after all retries",
		}),

		// Idempotency & Ordering
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_idempotency_duplicates_total",
			Help: "Duplicate requests answered from a stored response",
		}, []string{"operation"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "predict_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: f.NewGauge(prometheus.GaugeOpts{
			Name: "predict_dedup_lru_evictions",
			Help: "LRU evictions since start",
		}),

		RequestSequenceGap: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_request_sequence_gap_total",
			Help: "Upstream sequence gaps",
		}, []string{"partition"}),

		RequestOutOfOrder: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_request_out_of_order_total",
			Help: "Out-of-order rejections",
		}, []string{"partition"}),

		// Persistence
		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_persist_events_written_total",
			Help: "Envelopes written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "predict_persist_batch_size",
			Help:    "Envelopes per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "predict_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "predict_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "predict_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "predict_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "predict_replay_events_total",
			Help: "Operations replayed on startup",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "predict_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "predict_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "predict_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
