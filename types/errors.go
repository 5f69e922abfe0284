package types

import (
	"errors"
	"strings"
)

// Sentinel errors for the sharder library.
//
// These errors provide type-safe error checking using errors.Is() and errors.As().
// All components should use these sentinel errors for known error conditions
// and wrap external errors with context using fmt.Errorf("%s: %w", msg, err).
//
// Error Naming Convention:
//   - Use descriptive names with Err prefix
//   - Group by component (Manager, Rebalancer, Reconciler, etc.)
//   - Use consistent messages across similar error types

// Manager errors - Public API errors returned by Manager component.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNATSConnectionRequired is returned when NATS connection is nil and no membership was supplied.
	ErrNATSConnectionRequired = errors.New("NATS connection is required")

	// ErrShardCountSourceRequired is returned when the shard count source is nil.
	ErrShardCountSourceRequired = errors.New("shard count source is required")

	// ErrClientFactoryRequired is returned when the managed client factory is nil.
	ErrClientFactoryRequired = errors.New("client factory is required")

	// ErrAlreadyStarted is returned when Start is called on an already running manager.
	ErrAlreadyStarted = errors.New("manager already started")

	// ErrNotStarted is returned when operations require a started manager.
	ErrNotStarted = errors.New("manager not started")

	// ErrElectionFailed is returned when leader election fails.
	ErrElectionFailed = errors.New("leader election failed")

	// ErrConnectivity indicates a NATS/KV connectivity issue.
	ErrConnectivity = errors.New("connectivity issue")

	// ErrIDClaimFailed is returned when stable ID claiming fails.
	ErrIDClaimFailed = errors.New("failed to claim stable worker ID")
)

// Assignment model and rebalancer errors.
var (
	// ErrInvariantViolation is returned when the assignment is found in an inconsistent state,
	// such as a shard recorded as assigned with no owning worker. The current tick is aborted.
	ErrInvariantViolation = errors.New("assignment invariant violation")

	// ErrNoShardToMove is returned when the balancing pass selects an above-threshold worker
	// whose sequence is empty. It is unreachable for a consistent assignment.
	ErrNoShardToMove = errors.New("no shard to move")

	// ErrDoubleAssignment is wrapped by Validate when a shard has two owners.
	ErrDoubleAssignment = errors.New("shard assigned to more than one worker")

	// ErrCoverageGap is wrapped by Validate when some shard has no owner despite live workers.
	ErrCoverageGap = errors.New("shard space not fully covered")

	// ErrUnbalanced is wrapped by Validate when a worker load is outside {floor, floor+1}.
	ErrUnbalanced = errors.New("assignment not balanced")
)

// Shard count source errors.
var (
	// ErrShardCountUnavailable is returned when the target shard count cannot be read.
	ErrShardCountUnavailable = errors.New("shard count unavailable")

	// ErrInvalidShardCount is returned when the target shard count is not a non-negative integer.
	ErrInvalidShardCount = errors.New("invalid shard count")
)

// Reconciler and leader loop errors.
var (
	// ErrMalformedSnapshot is returned when a broadcast payload cannot be decoded.
	// The follower keeps its prior local state.
	ErrMalformedSnapshot = errors.New("malformed assignment snapshot")

	// ErrLeaderLoopAlreadyStarted is returned when Start is called twice on a leader loop.
	ErrLeaderLoopAlreadyStarted = errors.New("leader loop already started")

	// ErrTickInFlight is returned by a manual trigger while another tick is running.
	ErrTickInFlight = errors.New("rebalance tick already in flight")

	// ErrNotLeader is returned when a leader-only operation is requested on a follower.
	ErrNotLeader = errors.New("not the leader")

	// ErrInvalidRoleTransition is returned when the role machine rejects a transition.
	ErrInvalidRoleTransition = errors.New("invalid role transition")
)

// Common errors - Shared errors used across multiple components.
var (
	// ErrNoKeysFound is returned when NATS KV returns no keys (expected condition).
	ErrNoKeysFound = errors.New("no keys found")
)

// IsNoKeysFoundError checks if an error indicates that no keys were found in NATS KV.
//
// This function handles NATS-specific "no keys found" errors which may come as:
//   - Direct error: "nats: no keys found"
//   - Wrapped error: "failed to list KV keys: nats: no keys found"
//
// Parameters:
//   - err: The error to check
//
// Returns:
//   - bool: true if the error indicates no keys were found, false otherwise
func IsNoKeysFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoKeysFound) {
		return true
	}

	return strings.Contains(err.Error(), "no keys found")
}
