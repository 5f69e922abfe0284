package election

import (
	"context"
	"time"

	"github.com/arloliu/sharder/internal/logging"
	"github.com/arloliu/sharder/types"
)

// Campaign keeps one worker in the leader election until ctx is cancelled.
//
// The first attempt runs immediately, then once per interval: a leader renews
// its lease, anyone else tries to acquire the vacant key. onChange is called
// with true when leadership is gained and false when it is lost; it is never
// called twice in a row with the same value. Request errors are reported to
// onError and retried on the next round.
//
// On cancellation a held lease is released so a successor does not wait for
// the TTL. onChange is not called for that final release.
type Campaign struct {
	Agent    Agent
	WorkerID string
	Interval time.Duration
	Logger   types.Logger

	OnChange func(isLeader bool)
	OnError  func(err error)
}

// Run blocks until ctx is cancelled.
func (c *Campaign) Run(ctx context.Context) {
	logger := c.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	leader := false
	for {
		now, err := c.round(ctx, logger, leader)
		if ctx.Err() != nil {
			if now {
				c.release(ctx, logger)
			}

			return
		}
		if err != nil {
			logger.Warn("leadership request failed", "worker_id", c.WorkerID, "error", err)
			if c.OnError != nil {
				c.OnError(err)
			}
		}
		if now != leader {
			leader = now
			if leader {
				logger.Info("became leader", "worker_id", c.WorkerID)
			} else {
				logger.Info("lost leadership", "worker_id", c.WorkerID)
			}
			if c.OnChange != nil {
				c.OnChange(leader)
			}
		}

		select {
		case <-ctx.Done():
			if leader {
				c.release(ctx, logger)
			}

			return
		case <-ticker.C:
		}
	}
}

// round returns whether this worker holds the lease afterwards.
func (c *Campaign) round(ctx context.Context, logger types.Logger, leader bool) (bool, error) {
	if leader {
		err := c.Agent.RenewLeadership(ctx)
		if err == nil {
			return true, nil
		}
		if ctx.Err() != nil {
			return leader, ctx.Err()
		}
		// The lease is gone; try to take it back in the same round.
		logger.Debug("lease renewal failed", "worker_id", c.WorkerID, "error", err)
	}

	held, err := c.Agent.RequestLeadership(ctx, c.WorkerID)
	if err != nil {
		return false, err
	}

	return held, nil
}

func (c *Campaign) release(ctx context.Context, logger types.Logger) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.Interval)
	defer cancel()

	if err := c.Agent.ReleaseLeadership(releaseCtx); err != nil {
		logger.Warn("failed to release leadership", "worker_id", c.WorkerID, "error", err)
		return
	}
	logger.Info("released leadership", "worker_id", c.WorkerID)
}
