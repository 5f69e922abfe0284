// Package types provides core type definitions and interfaces for the sharder library.
//
// This package contains shared types that are used across multiple packages in the
// sharder library. By keeping these types in a separate package, we avoid import cycles
// between the main sharder package and its internal implementations.
//
// Key types:
//   - ShardID, Assignment: The shard space and the worker-to-shards map
//   - Role: Coordinator role of a worker (follower or leader)
//   - Membership: Election, liveness, and broadcast collaborator
//   - ShardCountSource: Provider of the target shard count
//   - ManagedClient, ClientFactory: The workload restarted on reassignment
//   - Logger, MetricsCollector, Hooks: Observability surfaces
package types
