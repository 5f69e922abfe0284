package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/sharder/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Collectors are created and registered lazily on first use, so constructing a
// PrometheusCollector never touches the registry.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	roleTransitions  *prometheus.CounterVec
	roleDuration     *prometheus.HistogramVec
	ticks            *prometheus.CounterVec
	tickDuration     prometheus.Histogram
	shardMoves       prometheus.Counter
	unassignedShards prometheus.Gauge
	liveWorkers      prometheus.Gauge
	shardCount       prometheus.Gauge
	snapshots        *prometheus.CounterVec
	clientRestarts   *prometheus.CounterVec
	ownedShards      prometheus.Gauge
	heartbeats       *prometheus.CounterVec
	leaderChanges    prometheus.Counter
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "sharder" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "sharder"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.roleTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "role",
			Name:      "transitions_total",
			Help:      "Total role transitions by source and target role.",
		}, []string{"from", "to"})
		p.roleDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "role",
			Name:      "duration_seconds",
			Help:      "Time spent in a role before leaving it.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 4, 8), // 0.5s .. ~2.3h
		}, []string{"role"})

		p.ticks = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "leader",
			Name:      "ticks_total",
			Help:      "Leader loop ticks by result (success,error,skipped).",
		}, []string{"result"})
		p.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "leader",
			Name:      "tick_duration_seconds",
			Help:      "Duration of completed leader loop ticks in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~2s
		})
		p.shardMoves = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "leader",
			Name:      "shard_moves_total",
			Help:      "Shards moved between workers by the balancing pass.",
		})
		p.unassignedShards = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "leader",
			Name:      "unassigned_shards",
			Help:      "Shards left without an owner after the last tick.",
		})
		p.liveWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "leader",
			Name:      "live_workers",
			Help:      "Workers that took part in the last tick.",
		})
		p.shardCount = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "leader",
			Name:      "target_shard_count",
			Help:      "Target shard count read during the last tick.",
		})

		p.snapshots = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "follower",
			Name:      "snapshots_total",
			Help:      "Received snapshots by result (applied,unchanged,duplicate,malformed).",
		}, []string{"result"})
		p.clientRestarts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "follower",
			Name:      "client_restarts_total",
			Help:      "Managed client restarts by result (success,failure).",
		}, []string{"result"})
		p.ownedShards = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "follower",
			Name:      "owned_shards",
			Help:      "Shards owned by this worker.",
		})

		p.heartbeats = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "membership",
			Name:      "heartbeats_total",
			Help:      "Heartbeat publish attempts by result (success,failure).",
		}, []string{"result"})
		p.leaderChanges = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "membership",
			Name:      "leader_changes_total",
			Help:      "Leadership changes observed by this worker.",
		})

		p.reg.MustRegister(
			p.roleTransitions, p.roleDuration,
			p.ticks, p.tickDuration, p.shardMoves, p.unassignedShards, p.liveWorkers, p.shardCount,
			p.snapshots, p.clientRestarts, p.ownedShards,
			p.heartbeats, p.leaderChanges,
		)
	})
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}

	return "failure"
}

// RecordRoleTransition counts the transition and observes the time spent in from.
func (p *PrometheusCollector) RecordRoleTransition(from, to types.Role, duration float64) {
	p.ensureRegistered()
	p.roleTransitions.WithLabelValues(from.String(), to.String()).Inc()
	p.roleDuration.WithLabelValues(from.String()).Observe(duration)
}

// RecordTick counts the tick; durations are observed for non-skipped ticks only.
func (p *PrometheusCollector) RecordTick(result string, duration float64) {
	p.ensureRegistered()
	p.ticks.WithLabelValues(result).Inc()
	if result != "skipped" {
		p.tickDuration.Observe(duration)
	}
}

// RecordShardMoves adds count to the move counter.
func (p *PrometheusCollector) RecordShardMoves(count int) {
	p.ensureRegistered()
	p.shardMoves.Add(float64(count))
}

// RecordUnassignedShards sets the unassigned gauge.
func (p *PrometheusCollector) RecordUnassignedShards(count int) {
	p.ensureRegistered()
	p.unassignedShards.Set(float64(count))
}

// RecordLiveWorkers sets the live worker gauge.
func (p *PrometheusCollector) RecordLiveWorkers(count int) {
	p.ensureRegistered()
	p.liveWorkers.Set(float64(count))
}

// RecordShardCount sets the target shard count gauge.
func (p *PrometheusCollector) RecordShardCount(count int) {
	p.ensureRegistered()
	p.shardCount.Set(float64(count))
}

// RecordSnapshot counts a received snapshot by result.
func (p *PrometheusCollector) RecordSnapshot(result string) {
	p.ensureRegistered()
	p.snapshots.WithLabelValues(result).Inc()
}

// RecordClientRestart counts a managed client restart.
func (p *PrometheusCollector) RecordClientRestart(success bool) {
	p.ensureRegistered()
	p.clientRestarts.WithLabelValues(resultLabel(success)).Inc()
}

// RecordOwnedShards sets the owned shard gauge.
func (p *PrometheusCollector) RecordOwnedShards(count int) {
	p.ensureRegistered()
	p.ownedShards.Set(float64(count))
}

// RecordHeartbeat counts a heartbeat publish attempt. The worker ID is not used as a
// label to keep cardinality bounded.
func (p *PrometheusCollector) RecordHeartbeat(_ string, success bool) {
	p.ensureRegistered()
	p.heartbeats.WithLabelValues(resultLabel(success)).Inc()
}

// RecordLeadershipChange counts a leadership change.
func (p *PrometheusCollector) RecordLeadershipChange(_ string) {
	p.ensureRegistered()
	p.leaderChanges.Inc()
}
