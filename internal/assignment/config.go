package assignment

import (
	"context"
	"errors"
	"time"

	"github.com/arloliu/sharder/internal/logging"
	"github.com/arloliu/sharder/internal/metrics"
	"github.com/arloliu/sharder/types"
)

// Default timings used when a config field is zero.
const (
	DefaultTickInterval     = time.Second
	DefaultOperationTimeout = 10 * time.Second
)

// ClusterView is the slice of types.Membership the leader loop needs.
type ClusterView interface {
	LiveWorkers(ctx context.Context) ([]types.Member, error)
	Broadcast(ctx context.Context, payload []byte) error
}

// LeaderLoopConfig holds leader loop configuration.
//
// Required fields must be set before calling NewLeaderLoop.
// Optional fields will be set to sensible defaults if zero-valued.
type LeaderLoopConfig struct {
	// Required dependencies
	Cluster ClusterView
	Source  types.ShardCountSource

	// Required configuration
	SelfID string // Local worker ID, used when LeaderAsWorker is set

	// Optional configuration (with defaults)
	TickInterval      time.Duration // Period between ticks (default: 1s)
	OperationTimeout  time.Duration // Bound on each membership call and source read (default: 10s)
	LeaderAsWorker    bool          // Include the leader itself in the worker set
	VerifyAssignments bool          // Run Assignment.Validate after every rebalance

	// Optional dependencies
	Metrics types.MetricsCollector // Metrics collector (default: no-op)
	Logger  types.Logger           // Logger (default: no-op)
	OnError func(err error)        // Called for every failed tick (default: none)
}

// Validate checks configuration validity.
func (c *LeaderLoopConfig) Validate() error {
	if c.Cluster == nil {
		return errors.New("the Cluster is required")
	}
	if c.Source == nil {
		return errors.New("the Source is required")
	}
	if c.SelfID == "" {
		return errors.New("the SelfID is required")
	}
	if c.TickInterval < 0 {
		return errors.New("the TickInterval must not be negative")
	}

	return nil
}

// SetDefaults fills zero-valued optional fields.
func (c *LeaderLoopConfig) SetDefaults() {
	if c.TickInterval == 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = DefaultOperationTimeout
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewNop()
	}
	if c.Logger == nil {
		c.Logger = logging.NewNop()
	}
	if c.OnError == nil {
		c.OnError = func(error) {}
	}
}

// ReconcilerConfig holds follower reconciler configuration.
type ReconcilerConfig struct {
	// Required
	SelfID  string
	Factory types.ClientFactory

	// Optional configuration (with defaults)
	OperationTimeout time.Duration // Bound on managed client Start/Stop (default: 10s)

	// Optional dependencies
	Metrics         types.MetricsCollector
	Logger          types.Logger
	OnShardsChanged func(shards []types.ShardID, total int)
	OnError         func(err error)
}

// Validate checks configuration validity.
func (c *ReconcilerConfig) Validate() error {
	if c.SelfID == "" {
		return errors.New("the SelfID is required")
	}
	if c.Factory == nil {
		return errors.New("the Factory is required")
	}

	return nil
}

// SetDefaults fills zero-valued optional fields.
func (c *ReconcilerConfig) SetDefaults() {
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = DefaultOperationTimeout
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewNop()
	}
	if c.Logger == nil {
		c.Logger = logging.NewNop()
	}
	if c.OnShardsChanged == nil {
		c.OnShardsChanged = func([]types.ShardID, int) {}
	}
	if c.OnError == nil {
		c.OnError = func(error) {}
	}
}
