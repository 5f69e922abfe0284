package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/sharder/internal/logging"
	"github.com/arloliu/sharder/internal/metrics"
	"github.com/arloliu/sharder/types"
)

// Common errors for heartbeat operations.
var (
	ErrNotStarted     = errors.New("publisher not started")
	ErrAlreadyStarted = errors.New("publisher already started")
	ErrNoWorkerID     = errors.New("worker ID not set")
)

const defaultPublishTimeout = 5 * time.Second

// Beat is the value stored under a worker's heartbeat key.
type Beat struct {
	WorkerID string    `json:"worker_id"`
	Seq      uint64    `json:"seq"`
	At       time.Time `json:"at"`
}

// Publisher keeps a worker's heartbeat key alive in NATS KV.
//
// The bucket TTL defines liveness: a worker whose key has not been refreshed
// within the TTL disappears from Live and stops receiving shards on the
// leader's next tick.
type Publisher struct {
	kv       jetstream.KeyValue
	prefix   string
	interval time.Duration
	logger   types.Logger
	metrics  types.MembershipMetrics

	mu       sync.Mutex
	workerID string
	seq      uint64
	started  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the publisher logger.
func WithLogger(logger types.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics sets the collector that receives heartbeat results.
func WithMetrics(m types.MembershipMetrics) Option {
	return func(p *Publisher) {
		if m != nil {
			p.metrics = m
		}
	}
}

// New creates a new heartbeat publisher.
//
// The KV bucket should be configured with a TTL of ~3x the heartbeat interval
// so a worker is declared dead after three missed heartbeats.
//
// Parameters:
//   - kv: JetStream KV bucket for heartbeat storage
//   - prefix: Key prefix for heartbeat keys (e.g., "hb")
//   - interval: Heartbeat interval
//   - opts: Optional logger and metrics
//
// Returns:
//   - *Publisher: New heartbeat publisher instance
//
// Example:
//
//	kv, _ := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
//	    Bucket:  "sharder-heartbeat",
//	    TTL:     6 * time.Second,
//	    Storage: jetstream.MemoryStorage,
//	})
//	publisher := heartbeat.New(kv, "hb", 2*time.Second, heartbeat.WithLogger(logger))
func New(kv jetstream.KeyValue, prefix string, interval time.Duration, opts ...Option) *Publisher {
	p := &Publisher{
		kv:       kv,
		prefix:   prefix,
		interval: interval,
		logger:   logging.NewNop(),
		metrics:  metrics.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// SetWorkerID sets the worker ID for heartbeat publishing. Must be called before Start.
func (p *Publisher) SetWorkerID(workerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.workerID = workerID
}

// Start publishes the first heartbeat synchronously and then keeps publishing
// in the background until Stop is called.
//
// Returns:
//   - error: ErrAlreadyStarted, ErrNoWorkerID, or the initial publish error
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}
	if p.workerID == "" {
		return ErrNoWorkerID
	}

	if err := p.publishLocked(ctx); err != nil {
		return fmt.Errorf("failed to publish initial heartbeat: %w", err)
	}

	p.started = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.publishLoop(p.stopCh, p.doneCh)

	p.logger.Debug("heartbeat started", "worker_id", p.workerID, "interval", p.interval)

	return nil
}

// Stop stops publishing and deletes the heartbeat key so the leader drops
// this worker on its next tick instead of waiting for the TTL.
//
// Returns:
//   - error: ErrNotStarted if not running, or the delete error
func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}
	p.started = false
	close(p.stopCh)
	doneCh := p.doneCh
	key := p.keyLocked()
	p.mu.Unlock()

	<-doneCh

	if err := p.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("stopped but failed to delete heartbeat: %w", err)
	}

	return nil
}

func (p *Publisher) publishLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
			p.mu.Lock()
			err := p.publishLocked(ctx)
			p.mu.Unlock()
			cancel()

			if err != nil {
				p.logger.Warn("heartbeat publish failed", "worker_id", p.WorkerID(), "error", err)
			}
		}
	}
}

// publishLocked writes the next beat. Must hold p.mu.
func (p *Publisher) publishLocked(ctx context.Context) error {
	p.seq++
	value, err := json.Marshal(Beat{WorkerID: p.workerID, Seq: p.seq, At: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to encode heartbeat: %w", err)
	}

	_, err = p.kv.Put(ctx, p.keyLocked(), value)
	p.metrics.RecordHeartbeat(p.workerID, err == nil)
	if err != nil {
		return fmt.Errorf("failed to publish heartbeat for %s: %w", p.workerID, err)
	}

	return nil
}

func (p *Publisher) keyLocked() string {
	return Key(p.prefix, p.workerID)
}

// WorkerID returns the current worker ID.
func (p *Publisher) WorkerID() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.workerID
}

// IsStarted reports whether the publisher is currently running.
func (p *Publisher) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.started
}
