package types

import (
	"fmt"
	"slices"
)

// ShardID identifies one indivisible unit of work in the range [0, N).
type ShardID int

// Assignment maps worker IDs to the shards they own.
//
// Every query and mutation walks workers in ascending lexicographic ID order,
// so tie-breaks are deterministic regardless of Go map iteration order.
//
// An Assignment is also the broadcast wire format: it marshals to a single JSON
// object of the form {"worker-0": [0, 3], "worker-1": [1, 2]}.
type Assignment map[string][]ShardID

// NewAssignment returns an empty assignment.
func NewAssignment() Assignment {
	return make(Assignment)
}

// Workers returns the worker IDs in ascending lexicographic order.
func (a Assignment) Workers() []string {
	workers := make([]string, 0, len(a))
	for w := range a {
		workers = append(workers, w)
	}
	slices.Sort(workers)

	return workers
}

// ShardsOf returns a copy of the shards owned by worker.
//
// Returns an empty slice when the worker is unknown.
func (a Assignment) ShardsOf(worker string) []ShardID {
	shards := a[worker]
	out := make([]ShardID, len(shards))
	copy(out, shards)

	return out
}

// AllAssignedShards returns the union of all shard sequences, flattened in worker order.
func (a Assignment) AllAssignedShards() []ShardID {
	out := make([]ShardID, 0, a.TotalShards())
	for _, w := range a.Workers() {
		out = append(out, a[w]...)
	}

	return out
}

// TotalShards returns the sum of sequence lengths across all workers.
func (a Assignment) TotalShards() int {
	total := 0
	for _, shards := range a {
		total += len(shards)
	}

	return total
}

// RemoveShard removes shard from the worker that owns it.
//
// The owner is located by a linear scan in worker order. Finding no owner means
// the assignment was already inconsistent with the caller's view of it.
//
// Returns:
//   - error: ErrInvariantViolation if no worker owns the shard
func (a Assignment) RemoveShard(shard ShardID) error {
	for _, w := range a.Workers() {
		idx := slices.Index(a[w], shard)
		if idx < 0 {
			continue
		}
		a[w] = slices.Delete(a[w], idx, idx+1)

		return nil
	}

	return fmt.Errorf("%w: shard %d has no owner", ErrInvariantViolation, shard)
}

// DropWorker deletes the worker and returns the shards it owned.
func (a Assignment) DropWorker(worker string) []ShardID {
	shards := a[worker]
	delete(a, worker)

	return shards
}

// AddWorker inserts worker with an empty sequence. Existing workers are left untouched.
func (a Assignment) AddWorker(worker string) {
	if _, ok := a[worker]; ok {
		return
	}
	a[worker] = []ShardID{}
}

// LeastLoadedWorker returns the worker with the fewest shards.
//
// Ties go to the lexicographically smallest worker ID.
//
// Returns:
//   - string: Selected worker ID
//   - bool: false when the assignment has no workers
func (a Assignment) LeastLoadedWorker() (string, bool) {
	best := ""
	found := false
	for _, w := range a.Workers() {
		if !found || len(a[w]) < len(a[best]) {
			best = w
			found = true
		}
	}

	return best, found
}

// FirstAboveThreshold returns the first worker, in ID order, holding more than t shards.
func (a Assignment) FirstAboveThreshold(t int) (string, bool) {
	for _, w := range a.Workers() {
		if len(a[w]) > t {
			return w, true
		}
	}

	return "", false
}

// FirstBelowThreshold returns the first worker, in ID order, holding fewer than t shards.
func (a Assignment) FirstBelowThreshold(t int) (string, bool) {
	for _, w := range a.Workers() {
		if len(a[w]) < t {
			return w, true
		}
	}

	return "", false
}

// Clone returns a deep copy of the assignment.
func (a Assignment) Clone() Assignment {
	out := make(Assignment, len(a))
	for w, shards := range a {
		cp := make([]ShardID, len(shards))
		copy(cp, shards)
		out[w] = cp
	}

	return out
}

// Equal reports whether both assignments have the same workers and, per worker,
// the same set of shards. Sequence order is ignored.
func (a Assignment) Equal(other Assignment) bool {
	if len(a) != len(other) {
		return false
	}
	for w, shards := range a {
		theirs, ok := other[w]
		if !ok || !SameShardSet(shards, theirs) {
			return false
		}
	}

	return true
}

// Validate checks the post-conditions of a completed rebalance against shardCount.
//
// Checks, in order:
//   - every shard lies in [0, shardCount)
//   - no shard is owned by more than one worker
//   - with at least one worker, every shard in [0, shardCount) is owned
//   - with at least one worker, each worker holds floor(N/W) or floor(N/W)+1 shards
//
// Returns:
//   - error: nil when all checks pass, otherwise an error wrapping ErrInvariantViolation
func (a Assignment) Validate(shardCount int) error {
	owner := make(map[ShardID]string, shardCount)
	for _, w := range a.Workers() {
		for _, s := range a[w] {
			if s < 0 || int(s) >= shardCount {
				return fmt.Errorf("%w: shard %d owned by %s is outside [0, %d)", ErrInvariantViolation, s, w, shardCount)
			}
			if prev, dup := owner[s]; dup {
				return fmt.Errorf("%w: %w: shard %d owned by %s and %s", ErrInvariantViolation, ErrDoubleAssignment, s, prev, w)
			}
			owner[s] = w
		}
	}

	if len(a) == 0 {
		return nil
	}

	if len(owner) != shardCount {
		return fmt.Errorf("%w: %w: %d of %d shards assigned", ErrInvariantViolation, ErrCoverageGap, len(owner), shardCount)
	}

	floor := shardCount / len(a)
	for _, w := range a.Workers() {
		if n := len(a[w]); n < floor || n > floor+1 {
			return fmt.Errorf("%w: %w: worker %s holds %d shards, want %d or %d",
				ErrInvariantViolation, ErrUnbalanced, w, n, floor, floor+1)
		}
	}

	return nil
}

// SameShardSet reports whether a and b contain the same shard IDs, ignoring order
// and duplicates.
func SameShardSet(a, b []ShardID) bool {
	setA := make(map[ShardID]struct{}, len(a))
	for _, s := range a {
		setA[s] = struct{}{}
	}
	setB := make(map[ShardID]struct{}, len(b))
	for _, s := range b {
		if _, ok := setA[s]; !ok {
			return false
		}
		setB[s] = struct{}{}
	}

	return len(setA) == len(setB)
}
