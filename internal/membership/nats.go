// Package membership implements types.Membership on NATS.
//
// Identity comes from a stable ID claim in a KV bucket, liveness from heartbeat
// keys with a TTL, leadership from a single lease key, and broadcast from a
// core NATS subject every worker subscribes to.
package membership

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/sharder/internal/election"
	"github.com/arloliu/sharder/internal/heartbeat"
	"github.com/arloliu/sharder/internal/kvutil"
	"github.com/arloliu/sharder/internal/logging"
	"github.com/arloliu/sharder/internal/metrics"
	"github.com/arloliu/sharder/internal/stableid"
	"github.com/arloliu/sharder/types"
)

// HeaderFrom carries the sender's worker ID on broadcast messages.
const HeaderFrom = "Sharder-From"

const bucketRetries = 5

// NATSMembership joins a worker to the cluster through NATS.
//
// Start claims an ID, starts heartbeating, subscribes to the broadcast subject,
// and campaigns for leadership in the background. Events are delivered in the
// order they happen on a buffered channel; a full buffer applies backpressure
// to the NATS subscription rather than dropping snapshots.
type NATSMembership struct {
	cfg     Config
	conn    *nats.Conn
	logger  types.Logger
	metrics types.MembershipMetrics

	selfID      atomic.Value // string
	claimer     *stableid.Claimer
	agent       *election.NATSElection
	publisher   *heartbeat.Publisher
	heartbeatKV jetstream.KeyValue
	sub         *nats.Subscription

	events   chan types.Event
	emitMu   sync.RWMutex
	closed   bool
	stopCh   chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  atomic.Bool
	stopOnce sync.Once
}

var _ types.Membership = (*NATSMembership)(nil)

// Option configures a NATSMembership.
type Option func(*NATSMembership)

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(m *NATSMembership) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the membership metrics collector.
func WithMetrics(mc types.MembershipMetrics) Option {
	return func(m *NATSMembership) {
		if mc != nil {
			m.metrics = mc
		}
	}
}

// NewNATS creates a NATS membership. Nothing touches the network until Start.
//
// Parameters:
//   - conn: Connected NATS client
//   - cfg: Membership configuration
//   - opts: Optional logger and metrics
//
// Returns:
//   - *NATSMembership: New membership, not yet started
//   - error: Validation error
func NewNATS(conn *nats.Conn, cfg Config, opts ...Option) (*NATSMembership, error) {
	if conn == nil {
		return nil, types.ErrNATSConnectionRequired
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidConfig, err)
	}

	m := &NATSMembership{
		cfg:     cfg,
		conn:    conn,
		logger:  logging.NewNop(),
		metrics: metrics.NewNop(),
		events:  make(chan types.Event, cfg.BufferSize),
		stopCh:  make(chan struct{}),
	}
	m.selfID.Store("")
	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// SelfID returns the claimed worker ID, or empty before Start.
func (m *NATSMembership) SelfID() string {
	id, _ := m.selfID.Load().(string)
	return id
}

// Events returns the event stream. It is closed after Stop.
func (m *NATSMembership) Events() <-chan types.Event {
	return m.events
}

// Start joins the cluster.
//
// Parameters:
//   - ctx: Startup context bounding bucket creation and the ID claim
//
// Returns:
//   - error: ErrAlreadyStarted, ErrIDClaimFailed, or a wrapped NATS error
func (m *NATSMembership) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return types.ErrAlreadyStarted
	}

	if err := m.join(ctx); err != nil {
		m.selfID.Store("")
		m.started.Store(false)

		return err
	}

	return nil
}

// join claims an ID, starts the heartbeat, subscribes, and launches the campaign.
// Every failure path undoes what it already set up, so Start can be retried.
func (m *NATSMembership) join(ctx context.Context) error {
	js, err := jetstream.New(m.conn)
	if err != nil {
		return fmt.Errorf("failed to create jetstream context: %w", err)
	}

	idKV, err := m.ensureBucket(ctx, js, m.cfg.StableIDBucket, m.cfg.WorkerIDTTL)
	if err != nil {
		return err
	}
	electionKV, err := m.ensureBucket(ctx, js, m.cfg.ElectionBucket, m.cfg.ElectionTTL)
	if err != nil {
		return err
	}
	m.heartbeatKV, err = m.ensureBucket(ctx, js, m.cfg.HeartbeatBucket, m.cfg.HeartbeatTTL)
	if err != nil {
		return err
	}

	m.claimer = stableid.NewClaimer(idKV, stableid.Config{
		Prefix: m.cfg.WorkerIDPrefix,
		MinID:  m.cfg.WorkerIDMin,
		MaxID:  m.cfg.WorkerIDMax,
		TTL:    m.cfg.WorkerIDTTL,
	}, m.logger)
	m.claimer.OnLost = func(workerID string, err error) {
		m.emit(types.Event{Kind: types.EventError, Err: fmt.Errorf("worker %s: %w", workerID, err)})
	}

	selfID, err := m.claimer.Claim(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrIDClaimFailed, err)
	}
	m.selfID.Store(selfID)
	if err := m.claimer.StartRenewal(); err != nil {
		m.releaseID(ctx)
		return fmt.Errorf("failed to start ID renewal: %w", err)
	}

	m.publisher = heartbeat.New(m.heartbeatKV, m.cfg.HeartbeatPrefix, m.cfg.HeartbeatInterval,
		heartbeat.WithLogger(m.logger),
		heartbeat.WithMetrics(m.metrics),
	)
	m.publisher.SetWorkerID(selfID)
	if err := m.publisher.Start(ctx); err != nil {
		m.releaseID(ctx)
		return fmt.Errorf("failed to start heartbeat: %w", err)
	}

	m.sub, err = m.conn.Subscribe(m.cfg.Subject, m.onMessage)
	if err != nil {
		_ = m.publisher.Stop(ctx)
		m.releaseID(ctx)

		return fmt.Errorf("failed to subscribe to %s: %w", m.cfg.Subject, err)
	}

	m.agent = election.NewNATSElection(electionKV, m.cfg.LeaderKey)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel

	campaign := &election.Campaign{
		Agent:    m.agent,
		WorkerID: selfID,
		Interval: m.cfg.ElectionTTL / 3,
		Logger:   m.logger,
		OnChange: func(isLeader bool) { m.onLeadershipChange(runCtx, isLeader) },
		OnError: func(err error) {
			m.emit(types.Event{Kind: types.EventError, Err: fmt.Errorf("%w: %w", types.ErrElectionFailed, err)})
		},
	}
	m.wg.Go(func() { campaign.Run(runCtx) })

	m.logger.Info("joined cluster", "worker_id", selfID, "subject", m.cfg.Subject)

	return nil
}

// Stop leaves the cluster: leadership is released, the heartbeat key and the
// ID claim are deleted, and the Events channel is closed.
//
// Returns:
//   - error: ErrNotStarted, or the first cleanup error
func (m *NATSMembership) Stop(ctx context.Context) error {
	if !m.started.Load() {
		return types.ErrNotStarted
	}

	var stopErr error
	m.stopOnce.Do(func() {
		close(m.stopCh)
		if m.cancel != nil {
			m.cancel()
		}
		m.wg.Wait()

		if m.sub != nil {
			if err := m.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				stopErr = fmt.Errorf("failed to unsubscribe: %w", err)
			}
		}
		if m.publisher != nil {
			if err := m.publisher.Stop(ctx); err != nil && !errors.Is(err, heartbeat.ErrNotStarted) && stopErr == nil {
				stopErr = err
			}
		}
		m.releaseID(ctx)

		m.emitMu.Lock()
		m.closed = true
		close(m.events)
		m.emitMu.Unlock()

		m.logger.Info("left cluster", "worker_id", m.SelfID())
	})

	return stopErr
}

// LiveWorkers lists every worker with a live heartbeat. The holder of the
// leader key is reported as RoleLeader, everyone else as RoleFollower.
func (m *NATSMembership) LiveWorkers(ctx context.Context) ([]types.Member, error) {
	if m.heartbeatKV == nil || m.agent == nil {
		return nil, types.ErrNotStarted
	}

	ids, err := heartbeat.Live(ctx, m.heartbeatKV, m.cfg.HeartbeatPrefix)
	if err != nil {
		return nil, err
	}
	leader, err := m.agent.Leader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read leader: %w", err)
	}

	members := make([]types.Member, 0, len(ids))
	for _, id := range ids {
		role := types.RoleFollower
		if id == leader {
			role = types.RoleLeader
		}
		members = append(members, types.Member{ID: id, Role: role})
	}

	return members, nil
}

// Broadcast publishes payload on the assignment subject and flushes it to the server.
func (m *NATSMembership) Broadcast(ctx context.Context, payload []byte) error {
	msg := nats.NewMsg(m.cfg.Subject)
	msg.Data = payload
	msg.Header.Set(HeaderFrom, m.SelfID())

	if err := m.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish assignment: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.OperationTimeout)
		defer cancel()
	}
	if err := m.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush assignment: %w", err)
	}

	return nil
}

func (m *NATSMembership) onMessage(msg *nats.Msg) {
	m.emit(types.Event{
		Kind:    types.EventMessage,
		Payload: msg.Data,
		From:    msg.Header.Get(HeaderFrom),
	})
}

func (m *NATSMembership) onLeadershipChange(ctx context.Context, isLeader bool) {
	if isLeader {
		m.metrics.RecordLeadershipChange(m.SelfID())
		m.emit(types.Event{Kind: types.EventElected, Leader: m.SelfID()})

		return
	}

	opCtx, cancel := context.WithTimeout(ctx, m.cfg.OperationTimeout)
	defer cancel()

	leader, err := m.agent.Leader(opCtx)
	if err != nil {
		m.logger.Debug("could not read new leader", "error", err)
	}
	if leader != "" {
		m.metrics.RecordLeadershipChange(leader)
	}
	m.emit(types.Event{Kind: types.EventDefeated, Leader: leader})
}

// emit delivers ev unless the membership is stopping.
func (m *NATSMembership) emit(ev types.Event) {
	m.emitMu.RLock()
	defer m.emitMu.RUnlock()
	if m.closed {
		return
	}

	select {
	case m.events <- ev:
	case <-m.stopCh:
	}
}

func (m *NATSMembership) ensureBucket(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
		Bucket:  bucket,
		History: 1,
		TTL:     ttl,
	}, bucketRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to create/open KV bucket %s: %w", bucket, err)
	}

	return kv, nil
}

func (m *NATSMembership) releaseID(ctx context.Context) {
	if m.claimer == nil {
		return
	}
	if err := m.claimer.Release(ctx); err != nil && !errors.Is(err, stableid.ErrNotClaimed) {
		m.logger.Warn("failed to release worker ID", "worker_id", m.SelfID(), "error", err)
	}
}
