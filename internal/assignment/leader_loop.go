package assignment

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/sharder/internal/natsutil"
	"github.com/arloliu/sharder/types"
)

// LeaderLoop periodically rebalances and broadcasts the assignment while this
// process is leader.
//
// A LeaderLoop is single use: the manager creates one per election win and
// discards it on defeat, so every leadership term starts from an empty
// assignment and treats every live worker as new.
//
// Ticks never overlap. A tick requested while another is running is skipped.
// Stop halts the ticker at once; a tick already running finishes its
// computation but does not store or broadcast the result.
type LeaderLoop struct {
	LeaderLoopConfig

	rebalancer *Rebalancer

	mu         sync.Mutex
	assignment types.Assignment

	// publishMu orders Stop against the store-and-broadcast step of a tick.
	publishMu sync.Mutex

	started  atomic.Bool
	active   atomic.Bool
	inFlight atomic.Bool

	triggerCh chan struct{}
	stopCh    chan struct{}
	stopOnce  sync.Once
	doneCh    chan struct{}
}

// NewLeaderLoop creates a leader loop with validated configuration.
//
// Parameters:
//   - cfg: Loop configuration (required fields must be set)
//
// Returns:
//   - *LeaderLoop: New loop, not yet started
//   - error: Validation error if required fields are missing
//
// Example:
//
//	loop, err := assignment.NewLeaderLoop(&assignment.LeaderLoopConfig{
//	    Cluster:      membership,
//	    Source:       source.Static(64),
//	    SelfID:       membership.SelfID(),
//	    TickInterval: time.Second,
//	    Logger:       logger,
//	})
//	if err != nil {
//	    return err
//	}
//	loop.Start(ctx)
//	defer loop.Stop()
func NewLeaderLoop(cfg *LeaderLoopConfig) (*LeaderLoop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.SetDefaults()

	return &LeaderLoop{
		LeaderLoopConfig: *cfg,
		rebalancer:       NewRebalancer(cfg.Logger),
		assignment:       types.NewAssignment(),
		triggerCh:        make(chan struct{}, 1),
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}, nil
}

// Start launches the periodic loop. The first tick runs immediately.
//
// Parameters:
//   - ctx: Lifecycle context; cancelling it stops the loop like Stop
//
// Returns:
//   - error: ErrLeaderLoopAlreadyStarted on a second call
func (l *LeaderLoop) Start(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return types.ErrLeaderLoopAlreadyStarted
	}
	l.active.Store(true)

	l.Logger.Info("leader loop started", "worker_id", l.SelfID, "interval", l.TickInterval)
	go l.run(ctx)

	return nil
}

// Stop halts the loop. A broadcast already being sent completes before Stop
// returns, and nothing is broadcast afterwards. Stop does not wait for the rest
// of an in-flight tick; use Done for that.
// Safe to call multiple times. A loop stopped before Start can no longer be started.
func (l *LeaderLoop) Stop() {
	l.stopOnce.Do(func() {
		l.publishMu.Lock()
		l.active.Store(false)
		l.publishMu.Unlock()

		close(l.stopCh)
		// Never started: mark as started so a later Start fails, and release Done waiters.
		if l.started.CompareAndSwap(false, true) {
			close(l.doneCh)
		}
		l.Logger.Info("leader loop stopped", "worker_id", l.SelfID)
	})
}

// Done returns a channel closed once the loop goroutine has exited.
func (l *LeaderLoop) Done() <-chan struct{} {
	return l.doneCh
}

// Trigger requests an immediate tick without waiting for it.
// Requests made while one is already pending are coalesced.
func (l *LeaderLoop) Trigger() {
	select {
	case l.triggerCh <- struct{}{}:
	default:
	}
}

// Assignment returns a copy of the last stored assignment.
func (l *LeaderLoop) Assignment() types.Assignment {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.assignment.Clone()
}

func (l *LeaderLoop) run(ctx context.Context) {
	defer close(l.doneCh)

	ticker := time.NewTicker(l.TickInterval)
	defer ticker.Stop()

	_ = l.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			l.active.Store(false)
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
		case <-l.triggerCh:
		}

		// Stop may race with a ready ticker; prefer stopping.
		if !l.active.Load() {
			return
		}
		_ = l.Tick(ctx)
	}
}

// Tick runs a single rebalance tick synchronously.
//
// Each tick lists live workers, reads the shard count, rebalances against the
// stored assignment, and broadcasts the result. Errors abort the tick without
// touching the stored assignment and are logged with the worker set and the
// prior assignment size.
//
// Parameters:
//   - ctx: Context for cancellation
//
// Returns:
//   - error: ErrTickInFlight if another tick is running, otherwise the tick error
func (l *LeaderLoop) Tick(ctx context.Context) error {
	if !l.inFlight.CompareAndSwap(false, true) {
		l.Metrics.RecordTick("skipped", 0)
		l.Logger.Debug("skipping tick, previous tick still in flight", "worker_id", l.SelfID)

		return types.ErrTickInFlight
	}
	defer l.inFlight.Store(false)

	start := time.Now()
	err := l.tick(ctx)
	duration := time.Since(start).Seconds()

	if err != nil {
		l.Metrics.RecordTick("error", duration)
		l.OnError(err)

		return err
	}
	l.Metrics.RecordTick("success", duration)

	return nil
}

func (l *LeaderLoop) tick(ctx context.Context) error {
	prev := l.Assignment()

	opCtx, cancel := context.WithTimeout(ctx, l.OperationTimeout)
	defer cancel()

	members, err := l.Cluster.LiveWorkers(opCtx)
	if err != nil {
		return l.fail("list live workers", err, nil, prev)
	}
	workers := l.participants(members)
	l.Metrics.RecordLiveWorkers(len(workers))

	shardCount, err := l.Source.ShardCount(opCtx)
	if err != nil {
		return l.fail("read shard count", err, workers, prev)
	}
	l.Metrics.RecordShardCount(shardCount)

	next, stats, err := l.rebalancer.Rebalance(prev, workers, shardCount)
	if err != nil {
		return l.fail("rebalance", err, workers, prev)
	}
	if l.VerifyAssignments {
		if err := next.Validate(shardCount); err != nil {
			return l.fail("verify assignment", err, workers, prev)
		}
	}

	l.Metrics.RecordShardMoves(stats.Moves)
	l.Metrics.RecordUnassignedShards(stats.Unassigned)
	if stats.Unassigned > 0 {
		l.Logger.Warn("shards left unassigned, no live workers",
			"unassigned", stats.Unassigned,
			"shard_count", shardCount,
		)
	}

	payload, err := json.Marshal(next)
	if err != nil {
		return l.fail("encode assignment", err, workers, prev)
	}

	l.publishMu.Lock()
	defer l.publishMu.Unlock()

	if !l.active.Load() {
		l.Logger.Debug("leader loop stopped during tick, discarding result", "worker_id", l.SelfID)
		return nil
	}

	l.mu.Lock()
	l.assignment = next
	l.mu.Unlock()

	if err := l.Cluster.Broadcast(opCtx, payload); err != nil {
		return l.fail("broadcast assignment", err, workers, prev)
	}

	l.Logger.Debug("assignment broadcast",
		"workers", len(next),
		"shard_count", shardCount,
		"added", stats.Added,
		"removed", stats.Removed,
		"moves", stats.Moves,
	)

	return nil
}

// participants returns the sorted worker IDs that should receive shards.
func (l *LeaderLoop) participants(members []types.Member) []string {
	seen := make(map[string]struct{}, len(members)+1)
	for _, m := range members {
		if m.ID == "" {
			continue
		}
		if m.Role == types.RoleFollower || (l.LeaderAsWorker && m.ID == l.SelfID) {
			seen[m.ID] = struct{}{}
		}
	}
	if l.LeaderAsWorker {
		seen[l.SelfID] = struct{}{}
	}

	workers := make([]string, 0, len(seen))
	for w := range seen {
		workers = append(workers, w)
	}
	slices.Sort(workers)

	return workers
}

func (l *LeaderLoop) fail(stage string, err error, workers []string, prev types.Assignment) error {
	l.Logger.Error("rebalance tick failed",
		"stage", stage,
		"error", err,
		"error_class", natsutil.Classify(err),
		"workers", workers,
		"prior_workers", len(prev),
		"prior_shards", prev.TotalShards(),
	)

	return fmt.Errorf("%s: %w", stage, err)
}
