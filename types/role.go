package types

// Role represents the coordinator role of a worker process.
//
// Roles follow a defined progression:
//
//	RoleInit → RoleFollower ⇄ RoleLeader
//
// Either active role may move to RoleStopped on shutdown, which is terminal.
type Role int

const (
	// RoleInit is the role before the manager has started.
	RoleInit Role = iota

	// RoleFollower consumes broadcast assignments and runs the managed client.
	RoleFollower

	// RoleLeader computes and broadcasts the assignment on every tick.
	RoleLeader

	// RoleStopped indicates the manager has shut down.
	RoleStopped
)

// String returns the string representation of the role.
func (r Role) String() string {
	switch r {
	case RoleInit:
		return "Init"
	case RoleFollower:
		return "Follower"
	case RoleLeader:
		return "Leader"
	case RoleStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}
