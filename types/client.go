package types

import "context"

// ClientConfig is handed to a ClientFactory when the reconciler starts a managed client.
type ClientConfig struct {
	// WorkerID is the local worker's ID.
	WorkerID string

	// Shards is exactly the set of shards this worker owns.
	Shards []ShardID

	// ShardCount is the total number of shards in the snapshot that produced this config.
	ShardCount int
}

// ManagedClient is the workload restarted whenever the local assignment changes.
//
// The reconciler guarantees that at most one instance is active and always
// stops the old instance before starting a new one.
type ManagedClient interface {
	// Start begins serving the configured shards.
	Start(ctx context.Context) error

	// Stop releases every resource held by the client.
	Stop(ctx context.Context) error
}

// ClientFactory builds managed clients for a given shard set.
type ClientFactory interface {
	// NewClient returns a client configured with cfg. The client is not started.
	NewClient(ctx context.Context, cfg ClientConfig) (ManagedClient, error)
}

// ClientFactoryFunc adapts a function to the ClientFactory interface.
type ClientFactoryFunc func(ctx context.Context, cfg ClientConfig) (ManagedClient, error)

// NewClient calls f(ctx, cfg).
func (f ClientFactoryFunc) NewClient(ctx context.Context, cfg ClientConfig) (ManagedClient, error) {
	return f(ctx, cfg)
}
