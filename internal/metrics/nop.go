package metrics

import "github.com/arloliu/sharder/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Example:
//
//	mgr, _ := sharder.NewManager(&cfg, conn, src, factory, sharder.WithMetrics(metrics.NewNop()))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// RoleMetrics implementation

// RecordRoleTransition discards the role transition metric.
func (n *NopMetrics) RecordRoleTransition(_ /* from */, _ /* to */ types.Role, _ /* duration */ float64) {
	// No-op
}

// CoordinatorMetrics implementation

// RecordTick discards the tick metric.
func (n *NopMetrics) RecordTick(_ /* result */ string, _ /* duration */ float64) {
	// No-op
}

// RecordShardMoves discards the shard move metric.
func (n *NopMetrics) RecordShardMoves(_ /* count */ int) {
	// No-op
}

// RecordUnassignedShards discards the unassigned shard metric.
func (n *NopMetrics) RecordUnassignedShards(_ /* count */ int) {
	// No-op
}

// RecordLiveWorkers discards the live worker metric.
func (n *NopMetrics) RecordLiveWorkers(_ /* count */ int) {
	// No-op
}

// RecordShardCount discards the shard count metric.
func (n *NopMetrics) RecordShardCount(_ /* count */ int) {
	// No-op
}

// FollowerMetrics implementation

// RecordSnapshot discards the snapshot metric.
func (n *NopMetrics) RecordSnapshot(_ /* result */ string) {
	// No-op
}

// RecordClientRestart discards the client restart metric.
func (n *NopMetrics) RecordClientRestart(_ /* success */ bool) {
	// No-op
}

// RecordOwnedShards discards the owned shard metric.
func (n *NopMetrics) RecordOwnedShards(_ /* count */ int) {
	// No-op
}

// MembershipMetrics implementation

// RecordHeartbeat discards the heartbeat metric.
func (n *NopMetrics) RecordHeartbeat(_ /* workerID */ string, _ /* success */ bool) {
	// No-op
}

// RecordLeadershipChange discards the leadership change metric.
func (n *NopMetrics) RecordLeadershipChange(_ /* newLeader */ string) {
	// No-op
}
