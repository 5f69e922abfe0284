package testing

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/sasha-s/go-deadlock"

	"github.com/arloliu/sharder/types"
)

// Cluster is an in-memory membership shared by several members in one process.
//
// With AutoElect enabled (the default) the first member to start becomes leader,
// and when the leader stops or is killed the lowest live member ID takes over.
// Tests can also drive leadership by hand with Elect.
//
// Example:
//
//	cluster := shardertest.NewCluster()
//	a := cluster.NewMember("worker-a")
//	b := cluster.NewMember("worker-b")
//	mgrA, _ := sharder.NewManager(cfg, nil, src, factory, sharder.WithMembership(a))
type Cluster struct {
	mu         deadlock.Mutex
	leader     string
	autoElect  bool
	listErr    error
	broadcasts [][]byte

	members *xsync.Map[string, *Member]
}

// NewCluster creates an empty cluster with AutoElect enabled.
func NewCluster() *Cluster {
	return &Cluster{
		autoElect: true,
		members:   xsync.NewMap[string, *Member](),
	}
}

// SetAutoElect enables or disables automatic leader election.
func (c *Cluster) SetAutoElect(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoElect = enabled
}

// NewMember registers a member with the given ID. It is not live until Start.
func (c *Cluster) NewMember(id string) *Member {
	m := &Member{
		id:      id,
		cluster: c,
		notify:  make(chan struct{}, 1),
		events:  make(chan types.Event),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	c.members.Store(id, m)

	return m
}

// Leader returns the current leader ID, or empty when there is none.
func (c *Cluster) Leader() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.leader
}

// Elect makes id the leader. The previous leader receives EventDefeated and
// id receives EventElected. Unknown or stopped members are ignored.
func (c *Cluster) Elect(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.members.Load(id)
	if !ok || !m.live.Load() {
		return false
	}
	c.electLocked(id)

	return true
}

// Kill simulates a crash of id: it leaves the cluster without releasing
// resources gracefully. Leadership moves on when AutoElect is enabled.
func (c *Cluster) Kill(id string) {
	m, ok := c.members.Load(id)
	if !ok {
		return
	}
	_ = m.Stop(context.Background())
}

// SetListError makes every LiveWorkers call fail with err until cleared with nil.
func (c *Cluster) SetListError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listErr = err
}

// Broadcasts returns a copy of every payload broadcast so far.
func (c *Cluster) Broadcasts() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([][]byte, len(c.broadcasts))
	copy(out, c.broadcasts)

	return out
}

// LastBroadcast returns the most recent payload, or nil.
func (c *Cluster) LastBroadcast() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.broadcasts) == 0 {
		return nil
	}

	return c.broadcasts[len(c.broadcasts)-1]
}

func (c *Cluster) liveIDs() []string {
	var ids []string
	c.members.Range(func(id string, m *Member) bool {
		if m.live.Load() {
			ids = append(ids, id)
		}

		return true
	})
	slices.Sort(ids)

	return ids
}

func (c *Cluster) electLocked(id string) {
	if c.leader == id {
		return
	}
	if prev, ok := c.members.Load(c.leader); ok && prev.live.Load() {
		prev.enqueue(types.Event{Kind: types.EventDefeated, Leader: id})
	}
	c.leader = id
	if m, ok := c.members.Load(id); ok {
		m.enqueue(types.Event{Kind: types.EventElected, Leader: id})
	}
}

func (c *Cluster) join(m *Member) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m.live.Store(true)
	if c.autoElect && c.leader == "" {
		c.electLocked(m.id)
	}
}

func (c *Cluster) leave(m *Member) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m.live.Store(false)
	if c.leader != m.id {
		return
	}
	c.leader = ""
	if !c.autoElect {
		return
	}
	if ids := c.liveIDs(); len(ids) > 0 {
		c.electLocked(ids[0])
	}
}

// Member is one participant of a Cluster. It implements types.Membership.
type Member struct {
	id      string
	cluster *Cluster

	live    atomic.Bool
	started atomic.Bool

	mu     deadlock.Mutex
	queue  []types.Event
	notify chan struct{}

	events   chan types.Event
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

var _ types.Membership = (*Member)(nil)

// SelfID returns the member ID.
func (m *Member) SelfID() string {
	return m.id
}

// Start joins the cluster.
func (m *Member) Start(_ context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return types.ErrAlreadyStarted
	}

	go m.pump()
	m.cluster.join(m)

	return nil
}

// Stop leaves the cluster and closes the Events channel once the pump exits.
func (m *Member) Stop(_ context.Context) error {
	if !m.started.Load() {
		return types.ErrNotStarted
	}

	m.stopOnce.Do(func() {
		m.cluster.leave(m)
		close(m.stopCh)
		<-m.doneCh
	})

	return nil
}

// Events returns the event stream.
func (m *Member) Events() <-chan types.Event {
	return m.events
}

// LiveWorkers lists the live members sorted by ID.
func (m *Member) LiveWorkers(_ context.Context) ([]types.Member, error) {
	c := m.cluster
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listErr != nil {
		return nil, c.listErr
	}

	ids := c.liveIDs()
	members := make([]types.Member, 0, len(ids))
	for _, id := range ids {
		role := types.RoleFollower
		if id == c.leader {
			role = types.RoleLeader
		}
		members = append(members, types.Member{ID: id, Role: role})
	}

	return members, nil
}

// Broadcast delivers payload to every live member, including the sender.
func (m *Member) Broadcast(_ context.Context, payload []byte) error {
	if !m.live.Load() {
		return types.ErrNotStarted
	}

	c := m.cluster
	c.mu.Lock()
	defer c.mu.Unlock()

	data := slices.Clone(payload)
	c.broadcasts = append(c.broadcasts, data)
	c.members.Range(func(_ string, peer *Member) bool {
		if peer.live.Load() {
			peer.enqueue(types.Event{Kind: types.EventMessage, Payload: data, From: m.id})
		}

		return true
	})

	return nil
}

// enqueue never blocks so that cluster-wide operations can run under the cluster lock.
func (m *Member) enqueue(ev types.Event) {
	m.mu.Lock()
	m.queue = append(m.queue, ev)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Member) pump() {
	defer close(m.doneCh)
	defer close(m.events)

	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			select {
			case <-m.notify:
				continue
			case <-m.stopCh:
				return
			}
		}
		ev := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.events <- ev:
		case <-m.stopCh:
			return
		}
	}
}
