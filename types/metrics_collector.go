package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods are called from internal goroutines and must be thread-safe.
//
// This interface composes smaller, domain-focused interfaces for better modularity.
type MetricsCollector interface {
	RoleMetrics
	CoordinatorMetrics
	FollowerMetrics
	MembershipMetrics
}

// RoleMetrics defines metrics for role transitions.
type RoleMetrics interface {
	// RecordRoleTransition records a role transition and the time spent in the previous role.
	RecordRoleTransition(from, to Role, duration float64)
}

// CoordinatorMetrics defines metrics for the leader loop and the rebalancer.
type CoordinatorMetrics interface {
	// RecordTick records the outcome of a leader loop tick.
	//
	// Parameters:
	//   - result: "success", "error", or "skipped"
	//   - duration: Time taken in seconds (0 for skipped ticks)
	RecordTick(result string, duration float64)

	// RecordShardMoves records the number of shards moved by the balancing pass.
	RecordShardMoves(count int)

	// RecordUnassignedShards sets the number of shards left without an owner (gauge metric).
	RecordUnassignedShards(count int)

	// RecordLiveWorkers sets the number of workers participating in the last tick (gauge metric).
	RecordLiveWorkers(count int)

	// RecordShardCount sets the target shard count read during the last tick (gauge metric).
	RecordShardCount(count int)
}

// FollowerMetrics defines metrics for snapshot reconciliation.
type FollowerMetrics interface {
	// RecordSnapshot records a received snapshot.
	//
	// Parameters:
	//   - result: "applied", "unchanged", "duplicate", or "malformed"
	RecordSnapshot(result string)

	// RecordClientRestart records a managed client restart.
	//
	// Parameters:
	//   - success: false if the new client failed to start
	RecordClientRestart(success bool)

	// RecordOwnedShards sets the number of shards owned by this worker (gauge metric).
	RecordOwnedShards(count int)
}

// MembershipMetrics defines metrics for heartbeats and leadership.
type MembershipMetrics interface {
	// RecordHeartbeat records a heartbeat publish attempt.
	RecordHeartbeat(workerID string, success bool)

	// RecordLeadershipChange records a leadership change observed by this worker.
	RecordLeadershipChange(newLeader string)
}
