package types

import "context"

// Member describes one live worker as seen by the membership component.
type Member struct {
	// ID is the worker's identity, used as the key in an Assignment.
	ID string

	// Role is RoleLeader for the current leader and RoleFollower for everyone else.
	Role Role
}

// EventKind enumerates membership events delivered to the coordinator.
type EventKind int

const (
	// EventElected is delivered when this process wins leadership.
	EventElected EventKind = iota + 1

	// EventDefeated is delivered when this process loses, or fails to hold, leadership.
	EventDefeated

	// EventMessage is delivered for every broadcast payload, including the leader's own.
	EventMessage

	// EventError reports a recoverable failure inside the membership component.
	EventError
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventElected:
		return "elected"
	case EventDefeated:
		return "defeated"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a single membership notification.
type Event struct {
	Kind EventKind

	// Leader is the new leader's ID for EventDefeated (may be empty when unknown).
	Leader string

	// Payload and From are set for EventMessage.
	Payload []byte
	From    string

	// Err is set for EventError.
	Err error
}

// Membership supplies leader election, failure detection, and broadcast.
//
// The coordinator only depends on this contract. The library ships a NATS
// implementation; tests use an in-memory cluster.
//
// Implementations must deliver events on the Events channel in the order they
// happen and must close it after Stop returns.
type Membership interface {
	// SelfID returns this process's stable worker ID. Valid after Start.
	SelfID() string

	// Start joins the cluster and begins delivering events.
	Start(ctx context.Context) error

	// Stop leaves the cluster, releasing leadership if held.
	Stop(ctx context.Context) error

	// Events returns the event stream.
	Events() <-chan Event

	// LiveWorkers returns every worker currently considered alive.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//
	// Returns:
	//   - []Member: Live workers with their roles
	//   - error: Transport error; the caller retries on its next tick
	LiveWorkers(ctx context.Context) ([]Member, error)

	// Broadcast delivers payload to every worker, including this one.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - payload: Encoded assignment snapshot
	//
	// Returns:
	//   - error: Transport error
	Broadcast(ctx context.Context, payload []byte) error
}
