package types

import "context"

// Hooks defines callbacks for Manager lifecycle events.
//
// All hooks are optional and called asynchronously in background goroutines
// so they never block role transitions or reconciliation. Hooks receive the
// manager's lifecycle context which is cancelled during shutdown.
//
// Hook errors are logged but don't fail manager operations.
//
// Example:
//
//	hooks := &sharder.Hooks{
//	    OnShardsChanged: func(ctx context.Context, shards []sharder.ShardID, total int) error {
//	        log.Printf("now serving %v of %d", shards, total)
//	        return nil
//	    },
//	}
type Hooks struct {
	// OnRoleChanged is called on every role transition.
	OnRoleChanged func(ctx context.Context, from, to Role) error

	// OnShardsChanged is called after the reconciler restarts the managed client
	// (or goes idle). shards is the new local set, total the snapshot's shard count.
	OnShardsChanged func(ctx context.Context, shards []ShardID, total int) error

	// OnError is called when a recoverable error occurs (failed tick, malformed snapshot,
	// client start failure, membership error event).
	OnError func(ctx context.Context, err error) error
}
