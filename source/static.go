package source

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/arloliu/sharder/types"
)

// Static implements a shard count source with a value held in memory.
type Static struct {
	count atomic.Int64
}

var _ types.ShardCountSource = (*Static)(nil)

// NewStatic creates a new static shard count source.
//
// Useful for testing and for deployments where the shard count is known at startup.
//
// Parameters:
//   - count: Initial shard count
//
// Returns:
//   - *Static: Initialized static source
//
// Example:
//
//	src := source.NewStatic(64)
//	mgr, err := sharder.NewManager(&cfg, conn, src, factory)
//	if err != nil { /* handle */ }
func NewStatic(count int) *Static {
	s := &Static{}
	s.count.Store(int64(count))

	return s
}

// ShardCount returns the current value.
//
// Returns:
//   - int: The stored shard count
//   - error: ErrInvalidShardCount if a negative value was stored
func (s *Static) ShardCount(_ context.Context) (int, error) {
	n := s.count.Load()
	if n < 0 {
		return 0, fmt.Errorf("%w: %d", types.ErrInvalidShardCount, n)
	}

	return int(n), nil
}

// Update replaces the shard count. The leader picks it up on its next tick.
//
// Example:
//
//	src := source.NewStatic(8)
//	// Later: scale out
//	src.Update(16)
func (s *Static) Update(count int) {
	s.count.Store(int64(count))
}
