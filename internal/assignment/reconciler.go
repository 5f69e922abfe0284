package assignment

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/zeebo/xxh3"

	"github.com/arloliu/sharder/types"
)

// LocalShardState is what a follower remembers about the last snapshot it applied.
type LocalShardState struct {
	// LastShardCount is the total number of shards in the last snapshot.
	LastShardCount int

	// OwnedShards is this worker's sequence from the last snapshot.
	OwnedShards []types.ShardID
}

// Reconcile applies a snapshot to the local state.
//
// A restart is required when the snapshot's total shard count differs from the
// last one seen, or when this worker's shard set changed. Order within the
// sequence does not matter. The returned state always reflects the snapshot.
//
// Parameters:
//   - snapshot: Full assignment received from the leader
//   - self: Local worker ID
//   - state: Current local state
//
// Returns:
//   - LocalShardState: The state after applying the snapshot
//   - bool: true if the managed client must be restarted
func Reconcile(snapshot types.Assignment, self string, state LocalShardState) (LocalShardState, bool) {
	total := snapshot.TotalShards()
	own := snapshot.ShardsOf(self)

	mustRestart := total != state.LastShardCount || !types.SameShardSet(own, state.OwnedShards)

	return LocalShardState{LastShardCount: total, OwnedShards: own}, mustRestart
}

// Reconciler turns broadcast snapshots into managed client restarts.
//
// It exclusively owns the local shard state and the managed client. At most
// one client is active; the old one is always stopped before a new one starts.
// All methods are safe for concurrent use and are serialized internally.
type Reconciler struct {
	ReconcilerConfig

	mu       sync.Mutex
	state    LocalShardState
	snapshot types.Assignment
	client   types.ManagedClient

	digest    uint64
	hasDigest bool
}

// NewReconciler creates a reconciler with validated configuration.
//
// Parameters:
//   - cfg: Reconciler configuration (SelfID and Factory are required)
//
// Returns:
//   - *Reconciler: New reconciler with empty local state
//   - error: Validation error if required fields are missing
func NewReconciler(cfg *ReconcilerConfig) (*Reconciler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.SetDefaults()

	return &Reconciler{ReconcilerConfig: *cfg}, nil
}

// HandleMessage decodes a broadcast payload and reconciles against it.
//
// A payload byte-identical to the previous one is acknowledged without decoding.
// Undecodable payloads are discarded and the prior state is kept.
//
// When a restart is required the active client (if any) is stopped. A new client
// is started with exactly this worker's shards when that set is non-empty;
// otherwise the worker stays idle. If the new client fails to start, the local
// state is cleared so the next snapshot retries the start.
//
// Parameters:
//   - ctx: Context for client Start/Stop
//   - payload: JSON encoded assignment
//
// Returns:
//   - bool: true if the snapshot required a restart
//   - error: ErrMalformedSnapshot, or a wrapped client start error
func (r *Reconciler) HandleMessage(ctx context.Context, payload []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sum := xxh3.Hash(payload)
	if r.hasDigest && sum == r.digest {
		r.Metrics.RecordSnapshot("duplicate")
		return false, nil
	}

	snapshot, err := decodeSnapshot(payload)
	if err != nil {
		r.Metrics.RecordSnapshot("malformed")
		r.Logger.Warn("discarding malformed snapshot", "error", err, "bytes", len(payload))
		r.OnError(err)

		return false, err
	}
	r.digest, r.hasDigest = sum, true

	next, mustRestart := Reconcile(snapshot, r.SelfID, r.state)
	r.state = next
	r.snapshot = snapshot

	for _, w := range snapshot.Workers() {
		r.Logger.Debug("snapshot worker", "worker", w, "count", len(snapshot[w]), "shards", snapshot[w])
	}

	if !mustRestart {
		r.Metrics.RecordSnapshot("unchanged")
		return false, nil
	}
	r.Metrics.RecordSnapshot("applied")

	r.Logger.Info("local assignment changed, restarting client",
		"worker_id", r.SelfID,
		"shards", next.OwnedShards,
		"shard_count", next.LastShardCount,
	)

	if err := r.restart(ctx, next); err != nil {
		r.state = LocalShardState{}
		r.hasDigest = false
		r.Metrics.RecordClientRestart(false)
		r.Metrics.RecordOwnedShards(0)
		r.Logger.Error("failed to start managed client", "worker_id", r.SelfID, "error", err)
		r.OnError(err)

		return true, err
	}

	r.Metrics.RecordOwnedShards(len(next.OwnedShards))
	r.OnShardsChanged(slices.Clone(next.OwnedShards), next.LastShardCount)

	return true, nil
}

// restart stops the active client and starts a new one for state. Must hold r.mu.
func (r *Reconciler) restart(ctx context.Context, state LocalShardState) error {
	r.stopClient(ctx)

	if len(state.OwnedShards) == 0 {
		r.Logger.Info("no shards assigned, staying idle", "worker_id", r.SelfID, "shard_count", state.LastShardCount)
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, r.OperationTimeout)
	defer cancel()

	client, err := r.Factory.NewClient(opCtx, types.ClientConfig{
		WorkerID:   r.SelfID,
		Shards:     slices.Clone(state.OwnedShards),
		ShardCount: state.LastShardCount,
	})
	if err != nil {
		return fmt.Errorf("failed to create managed client: %w", err)
	}
	if err := client.Start(opCtx); err != nil {
		return fmt.Errorf("failed to start managed client: %w", err)
	}

	r.client = client
	r.Metrics.RecordClientRestart(true)

	return nil
}

// stopClient stops the active client if there is one. Must hold r.mu.
func (r *Reconciler) stopClient(ctx context.Context) {
	if r.client == nil {
		return
	}

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.OperationTimeout)
	defer cancel()

	if err := r.client.Stop(opCtx); err != nil {
		r.Logger.Warn("managed client stop failed", "worker_id", r.SelfID, "error", err)
	}
	r.client = nil
}

// Reset stops the managed client and forgets the local state.
//
// Called when this process wins an election, so the next snapshot is treated
// as new and the process does not keep serving shards while leading.
func (r *Reconciler) Reset(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopClient(ctx)
	r.state = LocalShardState{}
	r.snapshot = nil
	r.hasDigest = false
	r.Metrics.RecordOwnedShards(0)
}

// Close stops the managed client. The reconciler can still receive snapshots afterwards.
func (r *Reconciler) Close(ctx context.Context) {
	r.Reset(ctx)
}

// State returns a copy of the local shard state.
func (r *Reconciler) State() LocalShardState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return LocalShardState{
		LastShardCount: r.state.LastShardCount,
		OwnedShards:    slices.Clone(r.state.OwnedShards),
	}
}

// Snapshot returns a copy of the last applied snapshot, or nil if none.
func (r *Reconciler) Snapshot() types.Assignment {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.snapshot == nil {
		return nil
	}

	return r.snapshot.Clone()
}

// HasClient reports whether a managed client is currently active.
func (r *Reconciler) HasClient() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.client != nil
}

func decodeSnapshot(payload []byte) (types.Assignment, error) {
	var snapshot types.Assignment
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrMalformedSnapshot, err)
	}
	if snapshot == nil {
		return nil, fmt.Errorf("%w: empty payload", types.ErrMalformedSnapshot)
	}
	for w, shards := range snapshot {
		for _, s := range shards {
			if s < 0 {
				return nil, fmt.Errorf("%w: worker %s has negative shard %d", types.ErrMalformedSnapshot, w, s)
			}
		}
	}

	return snapshot, nil
}
