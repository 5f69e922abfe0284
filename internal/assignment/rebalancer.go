package assignment

import (
	"fmt"
	"slices"

	"github.com/arloliu/sharder/internal/logging"
	"github.com/arloliu/sharder/types"
)

// Stats summarizes one rebalance pass.
type Stats struct {
	Stale      int // shards removed because they fell outside [0, N)
	Reclaimed  int // shards taken back from workers that left
	Added      int // workers that joined
	Removed    int // workers that left
	Assigned   int // unowned shards handed to the least loaded worker
	Unassigned int // shards left without an owner because no worker is live
	Moves      int // shards moved by the balancing passes
}

// Rebalancer computes balanced assignments.
//
// It holds no assignment state of its own; callers pass the previous assignment
// in and store the result. The zero value is not usable, use NewRebalancer.
type Rebalancer struct {
	logger types.Logger
}

// NewRebalancer creates a rebalancer that logs individual shard moves at debug level.
//
// Parameters:
//   - logger: Logger for move diagnostics (no-op when nil)
//
// Returns:
//   - *Rebalancer: Ready to use rebalancer
func NewRebalancer(logger types.Logger) *Rebalancer {
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Rebalancer{logger: logger}
}

// Rebalance runs a rebalance pass with a no-op logger. See (*Rebalancer).Rebalance.
func Rebalance(prev types.Assignment, live []string, shardCount int) (types.Assignment, Stats, error) {
	return NewRebalancer(nil).Rebalance(prev, live, shardCount)
}

// Rebalance derives a new assignment from prev for the given live workers and shard count.
//
// prev is never mutated, so a failed pass leaves the caller's stored assignment intact.
//
// The pass:
//  1. removes shards outside [0, shardCount) from their owners
//  2. drops workers absent from live and reclaims their shards
//  3. adds live workers absent from prev with no shards
//  4. hands every unowned shard, in ascending order, to the least loaded worker
//  5. moves shards from workers above floor(N/W) to workers below it
//  6. moves shards from workers above floor(N/W)+1 to workers below it
//
// Step 6 only acts when step 5 stopped with no worker below the floor while some
// worker still holds two or more shards above it. Together they leave every worker
// with floor(N/W) or floor(N/W)+1 shards.
//
// With no live workers the result is empty and Stats.Unassigned equals shardCount.
// This is not an error; the shards are re-derived from the desired set on the next pass.
//
// Parameters:
//   - prev: Previous assignment (may be nil)
//   - live: Live worker IDs (duplicates and empty IDs are ignored)
//   - shardCount: Target shard count N
//
// Returns:
//   - types.Assignment: The new assignment
//   - Stats: Counters describing what changed
//   - error: ErrInvalidShardCount, ErrInvariantViolation, or ErrNoShardToMove
func (r *Rebalancer) Rebalance(prev types.Assignment, live []string, shardCount int) (types.Assignment, Stats, error) {
	var stats Stats
	if shardCount < 0 {
		return nil, stats, fmt.Errorf("%w: %d", types.ErrInvalidShardCount, shardCount)
	}

	next := prev.Clone()
	liveSet := make(map[string]struct{}, len(live))
	for _, w := range live {
		if w != "" {
			liveSet[w] = struct{}{}
		}
	}

	for _, s := range next.AllAssignedShards() {
		if s >= 0 && int(s) < shardCount {
			continue
		}
		if err := next.RemoveShard(s); err != nil {
			return nil, stats, err
		}
		stats.Stale++
	}

	for _, w := range next.Workers() {
		if _, ok := liveSet[w]; ok {
			continue
		}
		stats.Reclaimed += len(next.DropWorker(w))
		stats.Removed++
	}

	workers := make([]string, 0, len(liveSet))
	for w := range liveSet {
		workers = append(workers, w)
	}
	slices.Sort(workers)
	for _, w := range workers {
		if _, ok := next[w]; ok {
			continue
		}
		next.AddWorker(w)
		stats.Added++
	}

	owned := make(map[types.ShardID]struct{}, shardCount)
	for _, s := range next.AllAssignedShards() {
		owned[s] = struct{}{}
	}
	for s := range shardCount {
		shard := types.ShardID(s)
		if _, ok := owned[shard]; ok {
			continue
		}
		w, ok := next.LeastLoadedWorker()
		if !ok {
			stats.Unassigned++
			continue
		}
		next[w] = append(next[w], shard)
		stats.Assigned++
	}

	if len(next) == 0 {
		return next, stats, nil
	}

	threshold := shardCount / len(next)
	for _, t := range []int{threshold, threshold + 1} {
		moves, err := r.balance(next, t)
		stats.Moves += moves
		if err != nil {
			return nil, stats, err
		}
	}

	return next, stats, nil
}

// balance moves one shard at a time from the first worker above t to the first
// worker below t until no such pair exists.
func (r *Rebalancer) balance(a types.Assignment, t int) (int, error) {
	moves := 0
	for {
		above, okAbove := a.FirstAboveThreshold(t)
		below, okBelow := a.FirstBelowThreshold(t)
		if !okAbove || !okBelow {
			return moves, nil
		}

		src := a[above]
		if len(src) == 0 {
			return moves, fmt.Errorf("%w: worker %s selected above threshold %d", types.ErrNoShardToMove, above, t)
		}
		shard := src[len(src)-1]
		a[above] = src[:len(src)-1]
		a[below] = append(a[below], shard)
		moves++

		r.logger.Debug("moved shard", "shard", shard, "from", above, "to", below, "threshold", t)
	}
}
