// Package role tracks the coordinator role of a worker process.
package role

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/sharder/internal/logging"
	"github.com/arloliu/sharder/internal/metrics"
	"github.com/arloliu/sharder/types"
)

// subscriberBuffer holds a Follower -> Leader -> Follower -> Stopped burst.
const subscriberBuffer = 4

// Transition describes one role change.
type Transition struct {
	From types.Role
	To   types.Role
	At   time.Time
}

var validTransitions = map[types.Role][]types.Role{
	types.RoleInit:     {types.RoleFollower, types.RoleStopped},
	types.RoleFollower: {types.RoleLeader, types.RoleStopped},
	types.RoleLeader:   {types.RoleFollower, types.RoleStopped},
	types.RoleStopped:  {},
}

// Machine is a validated role state machine:
//
//	Init -> Follower <-> Leader
//	any  -> Stopped (terminal)
//
// Transitions are serialized. Observers are notified through OnChange (called
// synchronously, in transition order) and through Subscribe channels (never
// blocking; a slow subscriber misses intermediate transitions).
type Machine struct {
	current atomic.Int32 // types.Role

	mu      sync.Mutex
	since   time.Time
	closed  bool
	logger  types.Logger
	metrics types.RoleMetrics

	// OnChange runs after every successful transition while the machine lock is held.
	OnChange func(Transition)

	subscribers *xsync.Map[uint64, *subscriber]
	nextID      atomic.Uint64
}

// New creates a machine in RoleInit.
//
// Parameters:
//   - logger: Logger for transitions (nil for no-op)
//   - m: Metrics collector (nil for no-op)
//
// Returns:
//   - *Machine: New role machine
func New(logger types.Logger, m types.RoleMetrics) *Machine {
	if logger == nil {
		logger = logging.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}

	sm := &Machine{
		since:       time.Now(),
		logger:      logger,
		metrics:     m,
		subscribers: xsync.NewMap[uint64, *subscriber](),
	}
	sm.current.Store(int32(types.RoleInit))

	return sm
}

// Current returns the current role.
func (m *Machine) Current() types.Role {
	return types.Role(m.current.Load())
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to types.Role) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

// Transition moves the machine to role to.
//
// A transition to the current role is a no-op and notifies nobody.
//
// Returns:
//   - Transition: The applied transition (From == To for a no-op)
//   - error: ErrInvalidRoleTransition if the move is not allowed
func (m *Machine) Transition(to types.Role) (Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.Current()
	if from == to {
		return Transition{From: from, To: to}, nil
	}
	if !CanTransition(from, to) {
		m.logger.Error("invalid role transition attempted", "from", from.String(), "to", to.String())
		return Transition{}, fmt.Errorf("%w: %s -> %s", types.ErrInvalidRoleTransition, from, to)
	}

	now := time.Now()
	elapsed := now.Sub(m.since)
	m.since = now
	m.current.Store(int32(to)) //nolint:gosec // G115: role is a bounded enum

	tr := Transition{From: from, To: to, At: now}
	m.logger.Info("role transition", "from", from.String(), "to", to.String(), "after", elapsed)
	m.metrics.RecordRoleTransition(from, to, elapsed.Seconds())

	if m.OnChange != nil {
		m.OnChange(tr)
	}

	m.subscribers.Range(func(_ uint64, sub *subscriber) bool {
		sub.trySend(tr)
		return true
	})

	if to == types.RoleStopped {
		m.closeSubscribersLocked()
	}

	return tr, nil
}

// Subscribe returns a channel of future transitions and an unsubscribe func.
//
// The channel is closed on unsubscribe or when the machine reaches RoleStopped.
// Subscribing to a stopped machine returns an already closed channel.
func (m *Machine) Subscribe() (<-chan Transition, func()) {
	sub := &subscriber{ch: make(chan Transition, subscriberBuffer)}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		sub.close()
		return sub.ch, func() {}
	}

	id := m.nextID.Add(1)
	m.subscribers.Store(id, sub)

	return sub.ch, func() {
		if s, ok := m.subscribers.LoadAndDelete(id); ok {
			s.close()
		}
	}
}

// closeSubscribersLocked must hold m.mu.
func (m *Machine) closeSubscribersLocked() {
	m.closed = true
	m.subscribers.Range(func(id uint64, sub *subscriber) bool {
		m.subscribers.Delete(id)
		sub.close()

		return true
	})
}
