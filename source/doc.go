// Package source provides built-in shard count sources.
//
// The leader reads the target shard count once per rebalance tick. The package
// includes:
//
//   - Static: Fixed count held in memory, changeable with Update
//   - File: Integer read from a text file on every call
//   - KV: Integer stored under a JetStream KV key
//
// Custom sources can be implemented by satisfying the types.ShardCountSource interface.
package source
