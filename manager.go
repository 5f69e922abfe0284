package sharder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/arloliu/sharder/internal/assignment"
	"github.com/arloliu/sharder/internal/hooks"
	"github.com/arloliu/sharder/internal/logging"
	"github.com/arloliu/sharder/internal/membership"
	"github.com/arloliu/sharder/internal/metrics"
	"github.com/arloliu/sharder/internal/natsutil"
	"github.com/arloliu/sharder/internal/role"
)

// Manager coordinates a worker's share of a fixed shard space.
//
// Every process runs one Manager. Exactly one of them is elected leader; it
// periodically lists the live workers, rebalances the shard space over them,
// and broadcasts the whole assignment. Every Manager applies the broadcasts it
// receives: when its own shard set or the total shard count changes, it stops
// its managed client and starts a new one configured with the new shards.
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//   - Membership events are handled one at a time on a single goroutine
//   - Role transitions are validated by a state machine
//
// Lifecycle:
//   - Create with NewManager()
//   - Call Start() to join the cluster
//   - Observe RoleChanges() or hooks
//   - Call Stop() for graceful shutdown
type Manager struct {
	cfg        Config
	source     ShardCountSource
	factory    ClientFactory
	membership Membership

	hooks   Hooks
	metrics MetricsCollector
	logger  Logger

	role       *role.Machine
	reconciler atomic.Pointer[assignment.Reconciler]

	loopMu sync.Mutex
	loop   *assignment.LeaderLoop

	started atomic.Bool
	stopped atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	hookWG  sync.WaitGroup
}

// NewManager creates a new Manager instance with the provided configuration.
//
// Returns a concrete *Manager struct following the "accept interfaces, return structs" principle.
//
// Parameters:
//   - cfg: Runtime configuration; missing values are filled with defaults
//   - conn: NATS connection for the built-in membership (may be nil with WithMembership)
//   - source: Shard count source read by the leader on every tick
//   - factory: Builds the managed client for this worker's shards
//   - opts: Optional configuration (membership, hooks, metrics, logger)
//
// Returns:
//   - *Manager: Initialized manager instance
//   - error: Validation error if configuration or dependencies are invalid
//
// Example:
//
//	cfg := sharder.DefaultConfig()
//	mgr, err := sharder.NewManager(&cfg, nc, source.NewStatic(64), factory)
//	if err != nil {
//	    return err
//	}
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop(context.Background())
func NewManager(cfg *Config, conn *nats.Conn, source ShardCountSource, factory ClientFactory, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if source == nil {
		return nil, ErrShardCountSourceRequired
	}
	if factory == nil {
		return nil, ErrClientFactoryRequired
	}

	options := &managerOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.membership == nil && conn == nil {
		return nil, ErrNATSConnectionRequired
	}

	SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	metricsCollector := options.metrics
	if metricsCollector == nil {
		metricsCollector = metrics.NewNop()
	}

	loggerInstance := options.logger
	if loggerInstance == nil {
		loggerInstance = logging.NewNop()
	}

	cfg.ValidateWithWarnings(loggerInstance)

	members := options.membership
	if members == nil {
		nm, err := membership.NewNATS(conn, cfg.membershipConfig(),
			membership.WithLogger(loggerInstance),
			membership.WithMetrics(metricsCollector),
		)
		if err != nil {
			return nil, err
		}
		members = nm
	}

	m := &Manager{
		cfg:        *cfg,
		source:     source,
		factory:    factory,
		membership: members,
		hooks:      hooks.Fill(options.hooks),
		metrics:    metricsCollector,
		logger:     loggerInstance,
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.role = role.New(loggerInstance, metricsCollector)
	m.role.OnChange = m.onRoleChanged

	return m, nil
}

// Start joins the cluster and begins handling membership events.
//
// On return the manager is a follower; leadership, if won, is reported
// asynchronously through RoleChanges and the OnRoleChanged hook.
//
// A failed join leaves the manager unstarted, so Start can be called again.
// Once Start has succeeded and Stop has run, the manager cannot be restarted.
//
// Parameters:
//   - ctx: Context bounding the join (ID claim, bucket setup)
//
// Returns:
//   - error: ErrAlreadyStarted, or the membership startup error
func (m *Manager) Start(ctx context.Context) error {
	if m.stopped.Load() || !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if err := m.membership.Start(ctx); err != nil {
		m.started.Store(false)
		return fmt.Errorf("failed to join cluster: %w", err)
	}

	selfID := m.membership.SelfID()
	rec, err := assignment.NewReconciler(&assignment.ReconcilerConfig{
		SelfID:           selfID,
		Factory:          m.factory,
		OperationTimeout: m.cfg.OperationTimeout,
		Metrics:          m.metrics,
		Logger:           m.logger,
		OnShardsChanged:  m.onShardsChanged,
		OnError:          m.reportError,
	})
	if err != nil {
		m.abortStart(ctx)
		return err
	}
	m.reconciler.Store(rec)

	if _, err := m.role.Transition(RoleFollower); err != nil {
		m.abortStart(ctx)
		return err
	}

	m.wg.Go(m.handleEvents)

	m.logger.Info("manager started", "worker_id", selfID)

	return nil
}

// abortStart leaves the cluster after a join that cannot be completed.
// The membership is single use, so the manager is marked stopped.
func (m *Manager) abortStart(ctx context.Context) {
	m.stopped.Store(true)
	m.cancel()
	if err := m.membership.Stop(ctx); err != nil {
		m.logger.Warn("failed to leave cluster after aborted start", "error", err)
	}
}

// Stop leaves the cluster and stops the managed client.
//
// Safe to call multiple times - subsequent calls will return ErrNotStarted.
//
// Parameters:
//   - ctx: Context for shutdown timeout (ShutdownTimeout applies when it has no deadline)
//
// Returns:
//   - error: Membership shutdown error or timeout
func (m *Manager) Stop(ctx context.Context) error {
	if !m.started.Load() || !m.stopped.CompareAndSwap(false, true) {
		return ErrNotStarted
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
		defer cancel()
	}

	var shutdownErr error

	// Step 1: Stop the leader loop so nothing is broadcast during shutdown
	if loop := m.takeLoop(); loop != nil {
		loop.Stop()
		select {
		case <-loop.Done():
		case <-ctx.Done():
		}
	}

	// Step 2: Leave the cluster; this releases leadership and closes the event stream
	m.cancel()
	if err := m.membership.Stop(ctx); err != nil && !errors.Is(err, ErrNotStarted) {
		m.logger.Error("failed to leave cluster", "error", err)
		shutdownErr = fmt.Errorf("membership stop failed: %w", err)
	}

	// Step 3: Wait for the event goroutine
	if err := waitGroup(ctx, &m.wg); err != nil {
		m.logger.Error("shutdown timeout exceeded, event loop still running")
		return errors.Join(err, shutdownErr)
	}

	// Step 4: Stop the managed client
	if rec := m.reconciler.Load(); rec != nil {
		rec.Close(ctx)
	}

	if _, err := m.role.Transition(RoleStopped); err != nil {
		m.logger.Warn("role transition on stop failed", "error", err)
	}

	// Step 5: Let hooks already in flight finish
	if err := waitGroup(ctx, &m.hookWG); err != nil {
		m.logger.Warn("shutdown timeout exceeded, hooks still running")
		return errors.Join(err, shutdownErr)
	}

	m.logger.Info("manager stopped gracefully", "worker_id", m.WorkerID())

	return shutdownErr
}

// WorkerID returns the claimed stable worker ID.
//
// Returns:
//   - string: Worker ID (empty before Start)
func (m *Manager) WorkerID() string {
	return m.membership.SelfID()
}

// Role returns the current role.
func (m *Manager) Role() Role {
	return m.role.Current()
}

// IsLeader returns true if this worker is the current leader.
func (m *Manager) IsLeader() bool {
	return m.role.Current() == RoleLeader
}

// RoleChanges returns a channel of future role transitions and a function
// that unsubscribes. The channel is closed when the manager stops.
//
// Delivery never blocks the manager; a subscriber that falls behind misses
// intermediate transitions.
//
// Example:
//
//	changes, cancel := mgr.RoleChanges()
//	defer cancel()
//	for tr := range changes {
//	    log.Printf("role %s -> %s", tr.From, tr.To)
//	}
func (m *Manager) RoleChanges() (<-chan RoleTransition, func()) {
	return m.role.Subscribe()
}

// CurrentShards returns the shards this worker currently owns, in the order
// the leader assigned them.
func (m *Manager) CurrentShards() []ShardID {
	rec := m.reconciler.Load()
	if rec == nil {
		return nil
	}

	return rec.State().OwnedShards
}

// ShardCount returns the total shard count of the last applied snapshot.
func (m *Manager) ShardCount() int {
	rec := m.reconciler.Load()
	if rec == nil {
		return 0
	}

	return rec.State().LastShardCount
}

// CurrentAssignment returns a copy of the whole assignment as last seen.
//
// On the leader this is the assignment computed by the latest tick; on a
// follower it is the latest broadcast received.
//
// Returns:
//   - Assignment: Current assignment (copy, may be nil before the first snapshot)
func (m *Manager) CurrentAssignment() Assignment {
	m.loopMu.Lock()
	loop := m.loop
	m.loopMu.Unlock()
	if loop != nil {
		return loop.Assignment()
	}

	rec := m.reconciler.Load()
	if rec == nil {
		return nil
	}

	return rec.Snapshot()
}

// TriggerRebalance asks the leader loop for an immediate tick.
//
// The tick runs asynchronously. It is skipped if another tick is still in flight.
//
// Returns:
//   - error: ErrNotStarted before Start, ErrNotLeader on a follower
func (m *Manager) TriggerRebalance() error {
	if !m.started.Load() || m.stopped.Load() {
		return ErrNotStarted
	}

	m.loopMu.Lock()
	loop := m.loop
	m.loopMu.Unlock()
	if loop == nil {
		return ErrNotLeader
	}

	loop.Trigger()

	return nil
}

// handleEvents consumes membership events until the stream closes or the manager stops.
func (m *Manager) handleEvents() {
	events := m.membership.Events()
	for {
		select {
		case <-m.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.handleEvent(ev)
		}
	}
}

func (m *Manager) handleEvent(ev Event) {
	switch ev.Kind {
	case EventElected:
		m.becomeLeader()
	case EventDefeated:
		m.becomeFollower(ev.Leader)
	case EventMessage:
		rec := m.reconciler.Load()
		if _, err := rec.HandleMessage(m.ctx, ev.Payload); err != nil {
			m.logger.Debug("snapshot not applied", "from", ev.From, "error", err)
		}
	case EventError:
		m.logger.Warn("membership error",
			"worker_id", m.WorkerID(),
			"connectivity", natsutil.IsConnectivityError(ev.Err),
			"error", ev.Err)
		m.reportError(ev.Err)
	default:
		m.logger.Warn("ignoring unknown membership event", "kind", ev.Kind)
	}
}

// becomeLeader stops local work, switches role, and starts a fresh leader loop.
func (m *Manager) becomeLeader() {
	if m.role.Current() == RoleLeader {
		return
	}

	m.reconciler.Load().Reset(m.ctx)

	if _, err := m.role.Transition(RoleLeader); err != nil {
		m.logger.Error("cannot become leader", "error", err)
		return
	}

	loop, err := assignment.NewLeaderLoop(&assignment.LeaderLoopConfig{
		Cluster:           m.membership,
		Source:            m.source,
		SelfID:            m.WorkerID(),
		TickInterval:      m.cfg.TickInterval,
		OperationTimeout:  m.cfg.OperationTimeout,
		LeaderAsWorker:    m.cfg.LeaderAsWorker,
		VerifyAssignments: m.cfg.VerifyAssignments,
		Metrics:           m.metrics,
		Logger:            m.logger,
		OnError:           m.reportError,
	})
	if err != nil {
		m.logger.Error("failed to create leader loop", "error", err)
		m.reportError(err)

		return
	}
	if err := loop.Start(m.ctx); err != nil {
		m.logger.Error("failed to start leader loop", "error", err)
		m.reportError(err)

		return
	}

	m.loopMu.Lock()
	m.loop = loop
	m.loopMu.Unlock()
}

// becomeFollower stops the leader loop, if any, and switches role.
func (m *Manager) becomeFollower(leader string) {
	if loop := m.takeLoop(); loop != nil {
		loop.Stop()
	}

	if m.role.Current() == RoleFollower {
		return
	}
	if _, err := m.role.Transition(RoleFollower); err != nil {
		m.logger.Error("cannot become follower", "error", err)
		return
	}
	m.logger.Info("leadership lost", "worker_id", m.WorkerID(), "leader", leader)
}

func (m *Manager) takeLoop() *assignment.LeaderLoop {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()

	loop := m.loop
	m.loop = nil

	return loop
}

// onRoleChanged runs under the role machine lock, so hooks are dispatched asynchronously.
func (m *Manager) onRoleChanged(tr role.Transition) {
	m.runHook("role changed", func(ctx context.Context) error {
		return m.hooks.OnRoleChanged(ctx, tr.From, tr.To)
	})
}

func (m *Manager) onShardsChanged(shards []ShardID, total int) {
	m.runHook("shards changed", func(ctx context.Context) error {
		return m.hooks.OnShardsChanged(ctx, shards, total)
	})
}

func (m *Manager) reportError(err error) {
	m.runHook("error", func(ctx context.Context) error {
		return m.hooks.OnError(ctx, err)
	})
}

func (m *Manager) runHook(name string, fn func(ctx context.Context) error) {
	m.hookWG.Go(func() {
		if err := fn(m.ctx); err != nil {
			m.logger.Error("hook error", "hook", name, "error", err)
		}
	})
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
