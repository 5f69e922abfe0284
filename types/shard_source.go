package types

import "context"

// ShardCountSource provides the target shard count N.
//
// The leader reads it once per rebalance tick, so implementations may change
// the value at any time and the next tick will pick it up.
type ShardCountSource interface {
	// ShardCount returns the current target shard count.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//
	// Returns:
	//   - int: Non-negative shard count
	//   - error: ErrShardCountUnavailable when the value is missing,
	//     ErrInvalidShardCount when it is not a non-negative integer
	ShardCount(ctx context.Context) (int, error)
}
