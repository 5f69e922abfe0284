// Package stableid claims a stable, reusable worker ID from a bounded pool.
package stableid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/sharder/internal/logging"
	"github.com/arloliu/sharder/types"
)

// Common errors returned by the claimer.
var (
	ErrNoAvailableID = errors.New("no available worker ID in pool")
	ErrNotClaimed    = errors.New("worker ID not claimed")
	ErrAlreadyClosed = errors.New("claimer already closed")
	ErrClaimLost     = errors.New("worker ID claim lost")
)

// Config describes the ID pool.
type Config struct {
	Prefix string        // Worker ID prefix, e.g. "worker" yields "worker-0"
	MinID  int           // Lowest ID number (inclusive)
	MaxID  int           // Highest ID number (inclusive)
	TTL    time.Duration // Lease length; renewals run at TTL/3
}

// Claimer claims one ID from the pool and keeps the lease alive.
//
// IDs are tried in ascending order with an atomic KV Create, so a restarted
// fleet converges on the same low IDs. Renewal uses Update with the last known
// revision: if the lease expired and someone else claimed the ID, renewal
// fails and OnLost is called instead of silently stealing it back.
type Claimer struct {
	kv  jetstream.KeyValue
	cfg Config

	// OnLost is called once from the renewal goroutine when the claim is lost.
	OnLost func(workerID string, err error)

	mu       sync.Mutex
	workerID string
	revision uint64
	renewing bool
	closed   bool
	stopCh   chan struct{}
	doneCh   chan struct{}

	logger types.Logger
}

// NewClaimer creates a new stable ID claimer.
//
// Parameters:
//   - kv: NATS KV bucket for stable IDs (its TTL should match cfg.TTL)
//   - cfg: ID pool description
//   - logger: Logger for claim and renewal events (nil for no-op)
//
// Returns:
//   - *Claimer: New claimer instance
//
// Example:
//
//	claimer := stableid.NewClaimer(kv, stableid.Config{
//	    Prefix: "worker",
//	    MinID:  0,
//	    MaxID:  63,
//	    TTL:    30 * time.Second,
//	}, logger)
//	workerID, err := claimer.Claim(ctx)
func NewClaimer(kv jetstream.KeyValue, cfg Config, logger types.Logger) *Claimer {
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Claimer{
		kv:     kv,
		cfg:    cfg,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
	}
}

// Claim claims the lowest free ID in the pool.
//
// Returns:
//   - string: Claimed worker ID (e.g., "worker-5")
//   - error: ErrNoAvailableID if the pool is exhausted, context error, or KV error
func (c *Claimer) Claim(ctx context.Context) (string, error) {
	c.logger.Debug("stable ID claim starting", "prefix", c.cfg.Prefix, "min", c.cfg.MinID, "max", c.cfg.MaxID)

	for id := c.cfg.MinID; id <= c.cfg.MaxID; id++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		workerID := fmt.Sprintf("%s-%d", c.cfg.Prefix, id)
		revision, err := c.kv.Create(ctx, workerID, leaseValue())
		if err == nil {
			c.mu.Lock()
			c.workerID = workerID
			c.revision = revision
			c.mu.Unlock()

			c.logger.Info("stable ID claimed", "worker_id", workerID, "attempts", id-c.cfg.MinID+1)

			return workerID, nil
		}

		if !errors.Is(err, jetstream.ErrKeyExists) {
			return "", fmt.Errorf("failed to claim ID %s: %w", workerID, err)
		}
	}

	c.logger.Error("no available stable IDs in pool",
		"prefix", c.cfg.Prefix,
		"pool_size", c.cfg.MaxID-c.cfg.MinID+1,
	)

	return "", ErrNoAvailableID
}

// StartRenewal starts background renewal of the claimed ID at TTL/3.
//
// Returns:
//   - error: ErrNotClaimed before a successful Claim, ErrAlreadyClosed after Close
func (c *Claimer) StartRenewal() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrAlreadyClosed
	}
	if c.workerID == "" {
		return ErrNotClaimed
	}
	if c.renewing {
		return nil
	}
	c.renewing = true

	go c.renewalLoop(c.cfg.TTL / 3)

	return nil
}

func (c *Claimer) renewalLoop(interval time.Duration) {
	defer close(c.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := c.renew(ctx)
			cancel()

			if err == nil {
				continue
			}
			if errors.Is(err, ErrClaimLost) {
				workerID := c.WorkerID()
				c.logger.Error("stable ID claim lost", "worker_id", workerID, "error", err)
				if c.OnLost != nil {
					c.OnLost(workerID, err)
				}

				return
			}
			c.logger.Warn("stable ID renewal failed", "worker_id", c.WorkerID(), "error", err)
		}
	}
}

func (c *Claimer) renew(ctx context.Context) error {
	c.mu.Lock()
	workerID, revision := c.workerID, c.revision
	c.mu.Unlock()

	if workerID == "" {
		return ErrNotClaimed
	}

	newRevision, err := c.kv.Update(ctx, workerID, leaseValue(), revision)
	if err != nil {
		if !isWrongSequence(err) {
			return fmt.Errorf("failed to renew ID %s: %w", workerID, err)
		}

		// The lease expired. Take the ID back unless another worker already has.
		newRevision, err = c.kv.Create(ctx, workerID, leaseValue())
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyExists) {
				return fmt.Errorf("%w: %s", ErrClaimLost, workerID)
			}

			return fmt.Errorf("failed to reclaim ID %s: %w", workerID, err)
		}
		c.logger.Warn("stable ID lease expired, reclaimed", "worker_id", workerID)
	}

	c.mu.Lock()
	c.revision = newRevision
	c.mu.Unlock()

	return nil
}

// Release stops renewal and deletes the claim so the ID can be reused at once.
//
// Returns:
//   - error: ErrNotClaimed if nothing is claimed, or the KV delete error
func (c *Claimer) Release(ctx context.Context) error {
	c.mu.Lock()
	workerID, revision := c.workerID, c.revision
	if workerID == "" {
		c.mu.Unlock()
		return ErrNotClaimed
	}
	c.stopRenewalLocked()
	c.workerID = ""
	c.revision = 0
	c.mu.Unlock()

	c.waitRenewal(ctx)

	err := c.kv.Delete(ctx, workerID, jetstream.LastRevision(revision))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		if isWrongSequence(err) {
			// Someone else owns the ID now; leave their claim alone.
			return nil
		}

		return fmt.Errorf("failed to delete ID %s: %w", workerID, err)
	}
	c.logger.Info("stable ID released", "worker_id", workerID)

	return nil
}

// Close stops renewal without deleting the claim. The key expires after the TTL.
func (c *Claimer) Close() {
	c.mu.Lock()
	c.stopRenewalLocked()
	c.mu.Unlock()
}

// stopRenewalLocked must hold c.mu.
func (c *Claimer) stopRenewalLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.stopCh)
	if !c.renewing {
		close(c.doneCh)
	}
}

func (c *Claimer) waitRenewal(ctx context.Context) {
	select {
	case <-c.doneCh:
	case <-ctx.Done():
	}
}

// WorkerID returns the currently claimed worker ID, or empty.
func (c *Claimer) WorkerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.workerID
}

func leaseValue() []byte {
	return []byte(time.Now().UTC().Format(time.RFC3339))
}

func isWrongSequence(err error) bool {
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}

	return false
}
