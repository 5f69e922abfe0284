package sharder

import (
	"github.com/arloliu/sharder/internal/role"
	"github.com/arloliu/sharder/types"
)

// Re-export types from the types package.
//
// Internal packages depend on types rather than on the root package, which
// avoids import cycles while still letting users write sharder.Assignment,
// sharder.Logger, and so on.
type (
	Role           = types.Role
	ShardID        = types.ShardID
	Assignment     = types.Assignment
	Member         = types.Member
	Event          = types.Event
	EventKind      = types.EventKind
	ClientConfig   = types.ClientConfig
	RoleTransition = role.Transition
)

// Re-export interfaces from the types package for convenience.
type (
	ShardCountSource  = types.ShardCountSource
	ManagedClient     = types.ManagedClient
	ClientFactory     = types.ClientFactory
	ClientFactoryFunc = types.ClientFactoryFunc
	Membership        = types.Membership
	MetricsCollector  = types.MetricsCollector
	Logger            = types.Logger
	Hooks             = types.Hooks
)

// Re-export Role constants from the types package.
const (
	RoleInit     = types.RoleInit
	RoleFollower = types.RoleFollower
	RoleLeader   = types.RoleLeader
	RoleStopped  = types.RoleStopped
)

// Re-export membership event kinds from the types package.
const (
	EventElected  = types.EventElected
	EventDefeated = types.EventDefeated
	EventMessage  = types.EventMessage
	EventError    = types.EventError
)
