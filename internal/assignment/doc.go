// Package assignment computes, distributes, and applies shard assignments.
//
// Three pieces live here:
//
//   - Rebalancer: a pure function from (previous assignment, live workers, shard
//     count) to a new assignment. It keeps every shard that can stay where it is,
//     hands unassigned shards to the least-loaded workers, and then moves shards
//     from overloaded to underloaded workers until every worker holds
//     floor(N/W) or floor(N/W)+1 shards.
//   - LeaderLoop: runs only on the elected leader. Each tick lists live
//     workers, reads the shard count, rebalances against the previous tick's
//     result, and broadcasts the whole assignment as one JSON object.
//   - Reconciler: runs on every process. It decodes broadcast snapshots and
//     restarts the local managed client only when this worker's shard set or
//     the total shard count changed.
//
// # Wire Format
//
// The broadcast payload is the assignment itself:
//
//	{"worker-0": [0, 3, 6], "worker-1": [1, 4, 7], "worker-2": [2, 5, 8]}
//
// There is no version field. Receivers always apply the latest snapshot.
//
// # Determinism
//
// Every scan over workers walks them in ascending lexicographic ID order, so the
// same inputs always yield the same assignment regardless of map iteration order.
//
// # Leadership Terms
//
// A LeaderLoop is created per election win and starts from an empty assignment.
// Nothing carries over between terms: the first tick of a new term treats every
// live worker as new and fills shards in ascending order.
package assignment
