package assignment

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/sharder/types"
)

type fakeCluster struct {
	mu         sync.Mutex
	members    []types.Member
	listErr    error
	block      chan struct{} // when non-nil, LiveWorkers waits for it to close
	broadcasts [][]byte

	// When non-nil, Broadcast signals publishing and waits for holdPublish to close.
	publishing  chan struct{}
	holdPublish chan struct{}

	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (c *fakeCluster) LiveWorkers(ctx context.Context) ([]types.Member, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		m := c.maxInFlight.Load()
		if n <= m || c.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	c.calls.Add(1)

	c.mu.Lock()
	block := c.block
	c.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}

	return append([]types.Member(nil), c.members...), nil
}

func (c *fakeCluster) Broadcast(ctx context.Context, payload []byte) error {
	if c.publishing != nil {
		select {
		case c.publishing <- struct{}{}:
		default:
		}
		select {
		case <-c.holdPublish:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcasts = append(c.broadcasts, payload)

	return nil
}

func (c *fakeCluster) setMembers(members ...types.Member) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members = members
}

func (c *fakeCluster) broadcastCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.broadcasts)
}

func (c *fakeCluster) lastBroadcast(t *testing.T) types.Assignment {
	t.Helper()

	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.broadcasts)

	var a types.Assignment
	require.NoError(t, json.Unmarshal(c.broadcasts[len(c.broadcasts)-1], &a))

	return a
}

type fakeSource struct {
	mu    sync.Mutex
	count int
	err   error
}

func (s *fakeSource) ShardCount(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.count, s.err
}

func (s *fakeSource) set(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count, s.err = n, err
}

func follower(id string) types.Member {
	return types.Member{ID: id, Role: types.RoleFollower}
}

func newTestLoop(t *testing.T, cluster *fakeCluster, src *fakeSource, mutate func(*LeaderLoopConfig)) *LeaderLoop {
	t.Helper()

	cfg := &LeaderLoopConfig{
		Cluster:           cluster,
		Source:            src,
		SelfID:            "leader",
		TickInterval:      time.Hour,
		VerifyAssignments: true,
	}
	if mutate != nil {
		mutate(cfg)
	}

	loop, err := NewLeaderLoop(cfg)
	require.NoError(t, err)

	return loop
}

func TestLeaderLoop_TickExcludesLeader(t *testing.T) {
	cluster := &fakeCluster{}
	cluster.setMembers(types.Member{ID: "leader", Role: types.RoleLeader}, follower("w-1"), follower("w-0"))
	loop := newTestLoop(t, cluster, &fakeSource{count: 6}, nil)
	loop.active.Store(true)

	require.NoError(t, loop.Tick(t.Context()))

	got := cluster.lastBroadcast(t)
	require.ElementsMatch(t, []string{"w-0", "w-1"}, got.Workers())
	require.NoError(t, got.Validate(6))
	require.Equal(t, got, loop.Assignment())
}

func TestLeaderLoop_LeaderAsWorker(t *testing.T) {
	cluster := &fakeCluster{}
	cluster.setMembers(types.Member{ID: "leader", Role: types.RoleLeader}, follower("w-0"))
	loop := newTestLoop(t, cluster, &fakeSource{count: 4}, func(cfg *LeaderLoopConfig) {
		cfg.LeaderAsWorker = true
	})
	loop.active.Store(true)

	require.NoError(t, loop.Tick(t.Context()))

	got := cluster.lastBroadcast(t)
	require.Equal(t, []string{"leader", "w-0"}, got.Workers())
	require.Len(t, got["leader"], 2)
}

func TestLeaderLoop_IgnoresNonFollowers(t *testing.T) {
	cluster := &fakeCluster{}
	cluster.setMembers(follower("w-0"), types.Member{ID: "joining", Role: types.RoleInit}, follower(""))
	loop := newTestLoop(t, cluster, &fakeSource{count: 3}, nil)
	loop.active.Store(true)

	require.NoError(t, loop.Tick(t.Context()))
	require.Equal(t, []string{"w-0"}, cluster.lastBroadcast(t).Workers())
}

func TestLeaderLoop_ChurnKeepsExistingShards(t *testing.T) {
	cluster := &fakeCluster{}
	cluster.setMembers(follower("a"), follower("b"), follower("c"))
	loop := newTestLoop(t, cluster, &fakeSource{count: 9}, nil)
	loop.active.Store(true)
	ctx := t.Context()

	require.NoError(t, loop.Tick(ctx))
	first := loop.Assignment()

	cluster.setMembers(follower("a"), follower("b"))
	require.NoError(t, loop.Tick(ctx))
	second := loop.Assignment()

	require.NoError(t, second.Validate(9))
	require.Subset(t, second["a"], first["a"])
	require.Subset(t, second["b"], first["b"])
	require.Equal(t, 2, cluster.broadcastCount())
}

func TestLeaderLoop_ListErrorSkipsBroadcast(t *testing.T) {
	var reported []error
	cluster := &fakeCluster{listErr: errors.New("kv unavailable")}
	loop := newTestLoop(t, cluster, &fakeSource{count: 4}, func(cfg *LeaderLoopConfig) {
		cfg.OnError = func(err error) { reported = append(reported, err) }
	})
	loop.active.Store(true)

	err := loop.Tick(t.Context())
	require.ErrorContains(t, err, "kv unavailable")
	require.Zero(t, cluster.broadcastCount())
	require.Empty(t, loop.Assignment())
	require.Len(t, reported, 1)
}

func TestLeaderLoop_SourceErrorKeepsPreviousAssignment(t *testing.T) {
	cluster := &fakeCluster{}
	cluster.setMembers(follower("a"), follower("b"))
	src := &fakeSource{count: 4}
	loop := newTestLoop(t, cluster, src, nil)
	loop.active.Store(true)
	ctx := t.Context()

	require.NoError(t, loop.Tick(ctx))
	before := loop.Assignment()

	src.set(0, types.ErrShardCountUnavailable)
	err := loop.Tick(ctx)
	require.ErrorIs(t, err, types.ErrShardCountUnavailable)
	require.Equal(t, before, loop.Assignment())
	require.Equal(t, 1, cluster.broadcastCount())
}

func TestLeaderLoop_OverlappingTickIsSkipped(t *testing.T) {
	block := make(chan struct{})
	cluster := &fakeCluster{block: block}
	cluster.setMembers(follower("a"))
	loop := newTestLoop(t, cluster, &fakeSource{count: 2}, nil)
	loop.active.Store(true)
	ctx := t.Context()

	errCh := make(chan error, 1)
	go func() { errCh <- loop.Tick(ctx) }()

	require.Eventually(t, func() bool { return cluster.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, loop.Tick(ctx), types.ErrTickInFlight)

	close(block)
	require.NoError(t, <-errCh)
	require.Equal(t, 1, cluster.broadcastCount())
}

func TestLeaderLoop_StopDuringTickDiscardsResult(t *testing.T) {
	block := make(chan struct{})
	cluster := &fakeCluster{block: block}
	cluster.setMembers(follower("a"))
	loop := newTestLoop(t, cluster, &fakeSource{count: 2}, nil)

	require.NoError(t, loop.Start(t.Context()))
	require.Eventually(t, func() bool { return cluster.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	loop.Stop()
	close(block)

	select {
	case <-loop.Done():
	case <-time.After(time.Second):
		t.Fatal("leader loop did not exit")
	}
	require.Zero(t, cluster.broadcastCount())
	require.Empty(t, loop.Assignment())
}

func TestLeaderLoop_StopWaitsForBroadcastInFlight(t *testing.T) {
	cluster := &fakeCluster{
		publishing:  make(chan struct{}, 1),
		holdPublish: make(chan struct{}),
	}
	cluster.setMembers(follower("a"))
	loop := newTestLoop(t, cluster, &fakeSource{count: 2}, func(cfg *LeaderLoopConfig) {
		cfg.TickInterval = 5 * time.Millisecond
		cfg.OperationTimeout = 5 * time.Second
	})
	require.NoError(t, loop.Start(t.Context()))

	select {
	case <-cluster.publishing:
	case <-time.After(time.Second):
		t.Fatal("first tick never reached broadcast")
	}

	stopped := make(chan struct{})
	go func() {
		loop.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a broadcast was being sent")
	case <-time.After(50 * time.Millisecond):
	}

	close(cluster.holdPublish)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the broadcast finished")
	}
	<-loop.Done()

	require.Equal(t, 1, cluster.broadcastCount())
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 1, cluster.broadcastCount())
}

func TestLeaderLoop_FailedTicksKeepSchedule(t *testing.T) {
	var failures atomic.Int32
	cluster := &fakeCluster{}
	cluster.setMembers(follower("a"), follower("b"))
	src := &fakeSource{err: types.ErrShardCountUnavailable}
	loop := newTestLoop(t, cluster, src, func(cfg *LeaderLoopConfig) {
		cfg.TickInterval = 5 * time.Millisecond
		cfg.OnError = func(err error) {
			if errors.Is(err, types.ErrShardCountUnavailable) {
				failures.Add(1)
			}
		}
	})

	require.NoError(t, loop.Start(t.Context()))
	defer loop.Stop()

	require.Eventually(t, func() bool { return failures.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.Zero(t, cluster.broadcastCount())

	src.set(6, nil)
	require.Eventually(t, func() bool { return cluster.broadcastCount() >= 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, cluster.lastBroadcast(t).Validate(6))

	select {
	case <-loop.Done():
		t.Fatal("leader loop exited after failed ticks")
	default:
	}
}

func TestLeaderLoop_PeriodicTicksNeverOverlap(t *testing.T) {
	cluster := &fakeCluster{}
	cluster.setMembers(follower("a"), follower("b"))
	loop := newTestLoop(t, cluster, &fakeSource{count: 8}, func(cfg *LeaderLoopConfig) {
		cfg.TickInterval = 5 * time.Millisecond
	})

	require.NoError(t, loop.Start(t.Context()))
	require.Eventually(t, func() bool { return cluster.broadcastCount() >= 5 }, 2*time.Second, 5*time.Millisecond)

	loop.Stop()
	<-loop.Done()

	require.Equal(t, int32(1), cluster.maxInFlight.Load())
	require.NoError(t, cluster.lastBroadcast(t).Validate(8))
}

func TestLeaderLoop_FirstTickIsImmediate(t *testing.T) {
	cluster := &fakeCluster{}
	cluster.setMembers(follower("a"))
	loop := newTestLoop(t, cluster, &fakeSource{count: 1}, nil)

	require.NoError(t, loop.Start(t.Context()))
	defer loop.Stop()

	require.Eventually(t, func() bool { return cluster.broadcastCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestLeaderLoop_Trigger(t *testing.T) {
	cluster := &fakeCluster{}
	cluster.setMembers(follower("a"))
	src := &fakeSource{count: 1}
	loop := newTestLoop(t, cluster, src, nil)

	require.NoError(t, loop.Start(t.Context()))
	defer loop.Stop()
	require.Eventually(t, func() bool { return cluster.broadcastCount() == 1 }, time.Second, 5*time.Millisecond)

	src.set(3, nil)
	loop.Trigger()
	require.Eventually(t, func() bool {
		return cluster.broadcastCount() == 2 && loop.Assignment().TotalShards() == 3
	}, time.Second, 5*time.Millisecond)
}

func TestLeaderLoop_StartTwice(t *testing.T) {
	loop := newTestLoop(t, &fakeCluster{}, &fakeSource{}, nil)

	require.NoError(t, loop.Start(t.Context()))
	require.ErrorIs(t, loop.Start(t.Context()), types.ErrLeaderLoopAlreadyStarted)

	loop.Stop()
	loop.Stop()
	<-loop.Done()
}

func TestLeaderLoop_StopBeforeStart(t *testing.T) {
	loop := newTestLoop(t, &fakeCluster{}, &fakeSource{}, nil)

	loop.Stop()
	<-loop.Done()
	require.ErrorIs(t, loop.Start(t.Context()), types.ErrLeaderLoopAlreadyStarted)
}

func TestLeaderLoop_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	loop := newTestLoop(t, &fakeCluster{}, &fakeSource{}, nil)

	require.NoError(t, loop.Start(ctx))
	cancel()

	select {
	case <-loop.Done():
	case <-time.After(time.Second):
		t.Fatal("leader loop did not exit on context cancellation")
	}
}
